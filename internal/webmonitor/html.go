package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>People Counter</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; }
        .app { max-width: 1400px; margin: 0 auto; padding: 16px; }
        .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        .counters { display: flex; gap: 24px; font-size: 28px; margin: 8px 0; }
        .entries { color: #4caf50; }
        .exits { color: #f44336; }
        .draw { position: relative; display: inline-block; }
        .draw canvas { position: absolute; top: 0; left: 0; cursor: crosshair; }
        img { max-width: 100%; display: block; }
        input, button { font-size: 14px; padding: 4px 8px; }
        .hint { color: #999; font-size: 12px; }
    </style>
</head>
<body>
<div class="app">
    <h1>People Counter</h1>
    <div class="grid">
        <div class="panel">
            <h2>1. Draw the boundary</h2>
            <div>
                <input id="source" placeholder="video source (0, file path or URL)" value="0">
                <button id="btn-preview">Load preview</button>
                <button id="btn-clear">Clear</button>
            </div>
            <p class="hint">Drag across the preview to draw the counting line. Without a line the frame midline is used.</p>
            <div class="draw">
                <img id="preview" alt="">
                <canvas id="canvas"></canvas>
            </div>
            <p id="boundary-state" class="hint">boundary: midline</p>
        </div>
        <div class="panel">
            <h2>2. Live stream</h2>
            <div>
                <button id="btn-start">Start</button>
                <button id="btn-stop">Stop</button>
                <span id="session-state" class="hint">idle</span>
            </div>
            <div class="counters">
                <span class="entries">Entries: <b id="entries">0</b></span>
                <span class="exits">Exits: <b id="exits">0</b></span>
            </div>
            <img id="stream" src="/stream" alt="Live stream">
        </div>
    </div>
</div>
<script>
const $ = (id) => document.getElementById(id);
const preview = $('preview'), canvas = $('canvas'), ctx = canvas.getContext('2d');
let start = null, line = null;

function redraw() {
    ctx.clearRect(0, 0, canvas.width, canvas.height);
    if (!line) return;
    ctx.strokeStyle = '#f00';
    ctx.lineWidth = 3;
    ctx.beginPath();
    ctx.moveTo(line.x1, line.y1);
    ctx.lineTo(line.x2, line.y2);
    ctx.stroke();
}

function showBoundary(state) {
    $('boundary-state').textContent = state.boundary_line
        ? 'boundary: ' + JSON.stringify(state.boundary_line) + ' (source ' + state.source.join('x') + ')'
        : 'boundary: midline';
}

$('btn-preview').onclick = () => {
    preview.onload = () => {
        canvas.width = preview.naturalWidth;
        canvas.height = preview.naturalHeight;
        line = null;
        redraw();
    };
    preview.src = '/api/preview?source=' + encodeURIComponent($('source').value) + '&t=' + Date.now();
};

$('btn-clear').onclick = async () => {
    line = null;
    redraw();
    showBoundary(await (await fetch('/api/boundary', {method: 'DELETE'})).json());
};

canvas.onmousedown = (e) => { start = {x: e.offsetX, y: e.offsetY}; };
canvas.onmousemove = (e) => {
    if (!start) return;
    line = {x1: start.x, y1: start.y, x2: e.offsetX, y2: e.offsetY};
    redraw();
};
canvas.onmouseup = async () => {
    start = null;
    if (!line) return;
    const obj = {
        type: 'line', x1: line.x1, y1: line.y1, x2: line.x2, y2: line.y2,
        left: Math.min(line.x1, line.x2), top: Math.min(line.y1, line.y2),
        width: Math.abs(line.x2 - line.x1), height: Math.abs(line.y2 - line.y1),
        originX: 'left', originY: 'top',
    };
    const resp = await fetch('/api/boundary?endpoints=1', {
        method: 'POST',
        headers: {'Content-Type': 'application/json'},
        body: JSON.stringify({objects: [obj]}),
    });
    const state = await resp.json();
    if (resp.ok) showBoundary(state); else alert(state.error);
};

$('btn-start').onclick = async () => {
    const src = $('source').value.trim();
    const body = {video_source: /^\d+$/.test(src) ? parseInt(src, 10) : src};
    const resp = await fetch('/api/session/start', {method: 'POST', body: JSON.stringify(body)});
    const state = await resp.json();
    $('session-state').textContent = resp.ok ? 'streaming' : state.error;
    $('stream').src = '/stream?t=' + Date.now();
};

$('btn-stop').onclick = async () => {
    const resp = await fetch('/api/session/stop', {method: 'POST'});
    const state = await resp.json();
    $('session-state').textContent = resp.ok ? 'stopped' : state.error;
};

const counters = new EventSource('/api/counters/stream');
counters.onmessage = (e) => {
    const c = JSON.parse(e.data);
    $('entries').textContent = c.entries;
    $('exits').textContent = c.exits;
};
</script>
</body>
</html>
`
