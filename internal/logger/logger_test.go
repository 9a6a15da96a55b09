package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"error":   ERROR,
		"none":    SILENT,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestModuleTagsAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(INFO, &buf, false)

	m := l.Module("Session#1")
	m.Debug("hidden %d", 1)
	m.Info("opened %s", "cam")
	m.Sub("Capture").Warn("slow")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO] [Session#1] opened cam")
	assert.Contains(t, out, "[WARN] [Session#1/Capture] slow")
}

func TestSilentDropsEverything(t *testing.T) {
	var buf bytes.Buffer
	l := New(SILENT, &buf, false)
	l.Error("Main", "boom")
	assert.Empty(t, buf.String())
}

func TestColorPrefix(t *testing.T) {
	var buf bytes.Buffer
	New(DEBUG, &buf, true).Error("Main", "red")
	assert.True(t, strings.Contains(buf.String(), levelColors[ERROR]+"[ERROR]"+resetColor))
}

func TestZeroModuleWithoutDefaultIsSafe(t *testing.T) {
	SetDefault(nil)
	assert.NotPanics(t, func() { For("Nobody").Info("x") })
}
