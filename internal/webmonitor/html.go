package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Code Scanner</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/scanner.css">
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Code Scanner</div>
            <span class="badge badge-secondary" id="status-badge">Idle</span>
        </div>

        <div class="grid">
            <div class="panel preview">
                <div class="panel-head">
                    <h2>Preview</h2>
                    <div class="view-toggle">
                        <button type="button" id="btn-mjpeg" class="active">MJPEG</button>
                        <button type="button" id="btn-webrtc">WebRTC</button>
                    </div>
                </div>
                <img id="stream" alt="Scanner preview" src="/stream">
                <img id="rtc-frame" alt="Scanner preview (WebRTC)" style="display:none;">
                <div id="rtc-status" class="rtc-status" style="display:none;">Connecting...</div>
            </div>

            <div class="panel controls">
                <h2>Scan</h2>
                <form id="start-form">
                    <label>Code type
                        <select name="kind">
                            <option value="any">Any</option>
                            <option value="barcode">Barcode</option>
                            <option value="qrcode">QR code</option>
                        </select>
                    </label>
                    <label>Open in
                        <select name="destination">
                            <option value="google">Google</option>
                            <option value="amazon">Amazon</option>
                        </select>
                    </label>
                    <label>After a detection
                        <select name="policy">
                            <option value="stop_after_first">Stop</option>
                            <option value="report_all_in_frame">Report the whole frame, then stop</option>
                            <option value="continuous">Keep scanning</option>
                        </select>
                    </label>
                    <label>Cooldown (ms) <input type="number" name="cooldown_ms" min="0" value="3000"></label>
                    <label class="check"><input type="checkbox" name="record_timestamp"> Record timestamp</label>
                    <div class="buttons">
                        <button type="submit" id="btn-start">Start</button>
                        <button type="button" id="btn-stop" disabled>Stop</button>
                    </div>
                </form>
                <div class="session" id="session">No session yet.</div>
                <div class="error" id="error"></div>

                <h2>Scan an image</h2>
                <form id="image-form">
                    <input type="file" name="image" accept="image/*">
                    <button type="submit">Scan</button>
                </form>
                <pre id="image-result"></pre>
            </div>

            <div class="panel detections">
                <h2>Detections</h2>
                <ul id="detections"></ul>
            </div>
        </div>
    </div>
    <script src="/assets/scanner.js"></script>
</body>
</html>
`

const scannerCSS = `
body { margin: 0; font-family: sans-serif; background: #101418; color: #e6e6e6; }
.app { max-width: 1200px; margin: 0 auto; padding: 16px; }
.header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 16px; }
.title { font-size: 22px; font-weight: bold; }
.badge { padding: 4px 10px; border-radius: 10px; font-size: 13px; }
.badge-secondary { background: #3a3f45; }
.badge-running { background: #1e7d32; }
.badge-failed { background: #b3261e; }
.grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
.panel { background: #1a2027; border-radius: 8px; padding: 12px; }
.panel h2 { font-size: 16px; margin: 0 0 10px; }
.panel-head { display: flex; justify-content: space-between; align-items: center; }
.preview { grid-row: span 2; position: relative; }
.preview img { width: 100%; height: auto; background: #000; display: block; }
.rtc-status { position: absolute; top: 52px; right: 20px; padding: 4px 8px; background: rgba(0,0,0,0.7); color: #0f0; font-size: 12px; }
.view-toggle button { background: #2b3138; color: #ccc; border: 0; padding: 4px 10px; cursor: pointer; }
.view-toggle button.active { background: #3d7be0; color: #fff; }
label { display: block; margin-bottom: 8px; font-size: 14px; }
label.check { display: flex; gap: 6px; align-items: center; }
select, input[type=number] { width: 100%; margin-top: 2px; }
.buttons { display: flex; gap: 8px; margin: 8px 0; }
.error { color: #ff6b6b; min-height: 18px; }
.session { font-size: 13px; color: #aaa; margin: 6px 0; }
#detections { list-style: none; padding: 0; margin: 0; font-size: 13px; }
#detections li { padding: 6px 0; border-bottom: 1px solid #2b3138; word-break: break-all; }
#detections a { color: #8ab4f8; }
pre { white-space: pre-wrap; font-size: 12px; }
`

const scannerJS = `(function () {
  const $ = (id) => document.getElementById(id);
  const badge = $('status-badge');
  const errorBox = $('error');

  function showError(msg) { errorBox.textContent = msg || ''; }

  function renderSession(st, active) {
    if (!st || !st.id) {
      $('session').textContent = 'No session yet.';
    } else {
      const parts = [st.state, st.kind, st.destination, st.policy, 'frames=' + st.frames, 'actions=' + st.actions];
      if (st.last_payload) parts.push('last=' + st.last_payload);
      if (st.error) parts.push('error=' + st.error);
      $('session').textContent = parts.join(' | ');
    }
    const state = st ? st.state : 'idle';
    badge.textContent = state;
    badge.className = 'badge ' + (state === 'running' ? 'badge-running' : state === 'failed' ? 'badge-failed' : 'badge-secondary');
    $('btn-start').disabled = !!active;
    $('btn-stop').disabled = !active;
  }

  function addDetection(ev) {
    const li = document.createElement('li');
    const when = new Date(ev.timestamp * 1000).toLocaleTimeString();
    const link = ev.url ? '<a href="' + ev.url + '" target="_blank" rel="noopener">open</a>' : '';
    li.innerHTML = '<b>' + (ev.format || ev.kind) + '</b> ' + when + ' ' + link + '<br>';
    li.appendChild(document.createTextNode(ev.payload));
    const list = $('detections');
    list.insertBefore(li, list.firstChild);
    while (list.children.length > 50) list.removeChild(list.lastChild);
  }

  async function post(url, body) {
    const res = await fetch(url, { method: 'POST', headers: { 'Content-Type': 'application/json' }, body: body ? JSON.stringify(body) : undefined });
    const data = await res.json();
    if (!res.ok) throw new Error(data.error || res.statusText);
    return data;
  }

  $('start-form').addEventListener('submit', async (e) => {
    e.preventDefault();
    const f = e.target;
    showError('');
    try {
      const data = await post('/api/scan/start', {
        kind: f.kind.value,
        destination: f.destination.value,
        policy: f.policy.value,
        cooldown_ms: parseInt(f.cooldown_ms.value || '0', 10),
        record_timestamp: f.record_timestamp.checked,
      });
      renderSession(data.session, true);
    } catch (err) { showError(err.message); }
  });

  $('btn-stop').addEventListener('click', async () => {
    showError('');
    try { await post('/api/scan/stop'); } catch (err) { showError(err.message); }
  });

  $('image-form').addEventListener('submit', async (e) => {
    e.preventDefault();
    const form = new FormData(e.target);
    form.append('destination', $('start-form').destination.value);
    const res = await fetch('/api/scan/image', { method: 'POST', body: form });
    const data = await res.json();
    $('image-result').textContent = JSON.stringify(data, null, 2);
  });

  const status = new EventSource('/api/status/stream');
  status.onmessage = (e) => {
    const ev = JSON.parse(e.data);
    renderSession(ev.session, ev.active);
  };

  const detections = new EventSource('/api/detections/stream');
  detections.onmessage = (e) => addDetection(JSON.parse(e.data));

  fetch('/api/history?limit=20').then((r) => r.json()).then((data) => {
    (data.entries || []).slice().reverse().forEach((en) => addDetection({
      kind: en.kind, format: en.format, payload: en.payload, url: en.url,
      timestamp: Date.parse(en.detected_at) / 1000,
    }));
  }).catch(() => {});

  // WebRTC preview: frames arrive on the "preview" data channel as a JSON
  // header followed by binary chunks.
  let pc = null;
  function startWebRTC() {
    const img = $('rtc-frame');
    const statusBox = $('rtc-status');
    statusBox.style.display = 'block';
    statusBox.textContent = 'Connecting...';
    pc = new RTCPeerConnection({ iceServers: [{ urls: 'stun:stun.l.google.com:19302' }] });
    const dc = pc.createDataChannel('preview');
    dc.binaryType = 'arraybuffer';
    let header = null;
    let chunks = [];
    dc.onopen = () => { statusBox.textContent = 'Connected'; };
    dc.onclose = () => { statusBox.textContent = 'Disconnected'; };
    dc.onmessage = (e) => {
      if (typeof e.data === 'string') {
        const msg = JSON.parse(e.data);
        if (msg.type === 'frame') { header = msg; chunks = []; }
        else if (msg.type === 'detection') addDetection(msg);
        return;
      }
      if (!header) return;
      chunks.push(e.data);
      if (chunks.length === header.chunks) {
        const url = URL.createObjectURL(new Blob(chunks, { type: 'image/jpeg' }));
        const old = img.src;
        img.src = url;
        if (old) URL.revokeObjectURL(old);
        header = null;
        chunks = [];
      }
    };
    pc.createOffer()
      .then((offer) => pc.setLocalDescription(offer))
      .then(() => new Promise((resolve) => {
        if (pc.iceGatheringState === 'complete') return resolve();
        pc.onicegatheringstatechange = () => { if (pc.iceGatheringState === 'complete') resolve(); };
      }))
      .then(() => post('/api/webrtc/offer', { sdp: pc.localDescription.sdp, type: pc.localDescription.type }))
      .then((answer) => pc.setRemoteDescription(answer))
      .catch((err) => { statusBox.textContent = 'Failed: ' + err.message; });
  }

  function stopWebRTC() {
    if (pc) { pc.close(); pc = null; }
    $('rtc-status').style.display = 'none';
  }

  $('btn-mjpeg').addEventListener('click', () => {
    stopWebRTC();
    $('btn-mjpeg').classList.add('active');
    $('btn-webrtc').classList.remove('active');
    $('rtc-frame').style.display = 'none';
    $('stream').style.display = 'block';
    $('stream').src = '/stream';
  });

  $('btn-webrtc').addEventListener('click', () => {
    $('btn-webrtc').classList.add('active');
    $('btn-mjpeg').classList.remove('active');
    $('stream').src = '';
    $('stream').style.display = 'none';
    $('rtc-frame').style.display = 'block';
    startWebRTC();
  });
})();
`
