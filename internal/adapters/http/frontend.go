package http

import (
	"net/http"
)

// frontendHTML is the embedded tile viewer. It lists the basemaps from the
// API and shows the selected one on a Leaflet map.
const frontendHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Terestria - Tile Viewer</title>
    <link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
    <style>
        :root {
            --primary: #2563eb;
            --error: #dc2626;
            --warning: #d97706;
            --success: #16a34a;
            --bg: #f8fafc;
            --card: #ffffff;
            --text: #1e293b;
            --text-muted: #64748b;
            --border: #e2e8f0;
            --radius: 8px;
            --shadow: 0 1px 3px rgba(0,0,0,0.1);
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        html, body { height: 100%; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            background: var(--bg);
            color: var(--text);
            display: flex;
            flex-direction: column;
        }
        header {
            display: flex;
            gap: 12px;
            align-items: center;
            padding: 10px 16px;
            background: var(--card);
            border-bottom: 1px solid var(--border);
            box-shadow: var(--shadow);
            flex-wrap: wrap;
        }
        header h1 { font-size: 1.1rem; }
        select {
            padding: 6px 10px;
            border: 1px solid var(--border);
            border-radius: var(--radius);
            font-size: 0.95rem;
        }
        #status { font-size: 0.85rem; color: var(--text-muted); }
        #status.processing { color: var(--warning); }
        #status.failed { color: var(--error); }
        #status.ready { color: var(--success); }
        #map { flex: 1; }
        footer {
            padding: 6px 16px;
            font-size: 0.8rem;
            color: var(--text-muted);
            background: var(--card);
            border-top: 1px solid var(--border);
        }
        footer a { color: var(--primary); text-decoration: none; }
    </style>
</head>
<body>
    <header>
        <h1>Terestria</h1>
        <select id="basemap" aria-label="Basemap"></select>
        <span id="status"></span>
    </header>
    <div id="map"></div>
    <footer>
        <a href="/openapi.json">OpenAPI Spec</a> &middot;
        <a href="/health">Health Status</a> &middot;
        <a href="/api/v1/jobs">Offline Jobs</a>
    </footer>

    <script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
    <script>
        (function() {
            const select = document.getElementById('basemap');
            const status = document.getElementById('status');
            const map = L.map('map').setView([0, 0], 2);
            let layer = null;
            let basemaps = {};

            function describe(b) {
                if (b.status === 'processing') {
                    return 'Processing ' + Math.round(b.progress * 100) + '%' + (b.message ? ': ' + b.message : '');
                }
                if (b.status === 'failed') {
                    return 'Failed' + (b.message ? ': ' + b.message : '');
                }
                return b.kind === 'pdf' ? b.tile_count + ' tiles' : 'Remote';
            }

            function show(id) {
                const b = basemaps[id];
                if (!b) return;
                status.textContent = describe(b);
                status.className = b.status;
                if (layer) map.removeLayer(layer);

                const opts = { maxZoom: 22 };
                if (b.zooms) {
                    opts.minNativeZoom = b.zooms.min_zoom;
                    opts.maxNativeZoom = b.zooms.max_zoom;
                }
                layer = L.tileLayer('/tiles/' + encodeURIComponent(id) + '/{z}/{x}/{y}.png', opts).addTo(map);

                if (b.bounds) {
                    map.fitBounds([[b.bounds.min_lat, b.bounds.min_lon], [b.bounds.max_lat, b.bounds.max_lon]]);
                }
            }

            function load() {
                fetch('/api/v1/basemaps')
                    .then(function(r) { return r.json(); })
                    .then(function(data) {
                        const current = select.value;
                        basemaps = {};
                        select.innerHTML = '';
                        (data.basemaps || []).forEach(function(b) {
                            basemaps[b.id] = b;
                            const opt = document.createElement('option');
                            opt.value = b.id;
                            opt.textContent = b.name || b.id;
                            select.appendChild(opt);
                        });
                        if (current && basemaps[current]) {
                            select.value = current;
                            status.textContent = describe(basemaps[current]);
                            status.className = basemaps[current].status;
                        } else if (select.options.length > 0) {
                            show(select.value);
                        } else {
                            status.textContent = 'No basemaps registered';
                        }
                    })
                    .catch(function(err) {
                        status.textContent = 'Failed to load basemaps: ' + err;
                        status.className = 'failed';
                    });
            }

            select.addEventListener('change', function() { show(select.value); });
            load();
            setInterval(load, 5000);
        })();
    </script>
</body>
</html>`

// handleFrontend serves the tile viewer.
func (s *Server) handleFrontend(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(frontendHTML))
}
