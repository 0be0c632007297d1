package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DashboardHandler serves the operator dashboard page.
type DashboardHandler struct{}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler() *DashboardHandler {
	return &DashboardHandler{}
}

// DashboardPage serves the dashboard HTML page: a trigger form plus a job
// table that polls the status API.
func (h *DashboardHandler) DashboardPage(c *gin.Context) {
	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>ionbridge</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #f0f2f5;
            min-height: 100vh;
            padding: 2rem;
        }
        .container { max-width: 900px; margin: 0 auto; }
        .card {
            background: white;
            border-radius: 12px;
            padding: 1.5rem;
            box-shadow: 0 2px 10px rgba(0,0,0,0.08);
            margin-bottom: 1.5rem;
        }
        h1 { color: #1a2b4a; margin-bottom: 0.25rem; font-size: 1.6rem; }
        .subtitle { color: #666; margin-bottom: 1.25rem; }
        .form-row { display: flex; gap: 1rem; flex-wrap: wrap; margin-bottom: 1rem; }
        .form-group { flex: 1; min-width: 160px; }
        label { display: block; margin-bottom: 0.4rem; color: #444; font-weight: 500; font-size: 0.9rem; }
        select, input {
            width: 100%;
            padding: 0.6rem;
            border: 1px solid #d0d5dd;
            border-radius: 6px;
            font-size: 0.95rem;
        }
        button {
            padding: 0.7rem 1.4rem;
            background: #1a56db;
            color: white;
            border: none;
            border-radius: 6px;
            font-size: 0.95rem;
            font-weight: 600;
            cursor: pointer;
        }
        button:disabled { opacity: 0.6; cursor: not-allowed; }
        button.secondary { background: #e5e7eb; color: #1a2b4a; }
        table { width: 100%; border-collapse: collapse; font-size: 0.9rem; }
        th, td { text-align: left; padding: 0.6rem 0.5rem; border-bottom: 1px solid #eee; }
        th { color: #666; font-weight: 600; }
        .badge { padding: 0.2rem 0.6rem; border-radius: 10px; font-size: 0.8rem; font-weight: 600; }
        .badge.running { background: #dbeafe; color: #1e40af; }
        .badge.paused { background: #fef3c7; color: #92400e; }
        .badge.completed { background: #d1fae5; color: #065f46; }
        .badge.failed { background: #fee2e2; color: #991b1b; }
        .badge.stopped { background: #e5e7eb; color: #374151; }
        .progress { background: #e5e7eb; border-radius: 4px; height: 8px; width: 120px; }
        .progress > div { background: #1a56db; border-radius: 4px; height: 8px; }
        .actions button { padding: 0.3rem 0.7rem; font-size: 0.8rem; margin-right: 0.25rem; }
        #error { color: #991b1b; margin-top: 0.75rem; display: none; }
    </style>
</head>
<body>
    <div class="container">
        <div class="card">
            <h1>ionbridge</h1>
            <p class="subtitle">Warehouse data synchronization</p>

            <form id="startForm">
                <div class="form-row">
                    <div class="form-group">
                        <label for="entity">Entity</label>
                        <select id="entity"></select>
                    </div>
                    <div class="form-group">
                        <label for="warehouse">Warehouse</label>
                        <input type="text" id="warehouse" value="wmwhse1">
                    </div>
                    <div class="form-group">
                        <label for="batchSize">Batch size</label>
                        <input type="number" id="batchSize" value="500" min="1" max="5000">
                    </div>
                    <div class="form-group">
                        <label for="ceiling">Record limit</label>
                        <input type="number" id="ceiling" value="10000" min="1" max="1000000">
                    </div>
                </div>
                <button type="submit" id="startBtn">Start sync</button>
                <div id="error"></div>
            </form>
        </div>

        <div class="card">
            <h2 style="margin-bottom: 1rem; font-size: 1.1rem;">Jobs</h2>
            <table>
                <thead>
                    <tr>
                        <th>Entity</th><th>Status</th><th>Progress</th>
                        <th>Processed</th><th>Errors</th><th></th>
                    </tr>
                </thead>
                <tbody id="jobRows"></tbody>
            </table>
        </div>
    </div>

    <script>
        const errorDiv = document.getElementById('error');

        async function loadEntities() {
            const resp = await fetch('/api/v1/entities');
            const data = await resp.json();
            const select = document.getElementById('entity');
            select.innerHTML = data.entities.map(e => '<option value="' + e + '">' + e + '</option>').join('');
        }

        async function refreshJobs() {
            const resp = await fetch('/api/v1/sync?limit=20');
            const data = await resp.json();
            const rows = (data.jobs || []).map(j => {
                const pct = (j.percent_complete || 0).toFixed(0);
                const controls = (j.status === 'running' || j.status === 'paused' || j.status === 'pending')
                    ? '<span class="actions">'
                        + (j.status === 'paused'
                            ? '<button class="secondary" onclick="control(\'' + j.job_id + '\', \'resume\')">Resume</button>'
                            : '<button class="secondary" onclick="control(\'' + j.job_id + '\', \'pause\')">Pause</button>')
                        + '<button class="secondary" onclick="control(\'' + j.job_id + '\', \'stop\')">Stop</button></span>'
                    : '';
                return '<tr>'
                    + '<td>' + j.entity + '</td>'
                    + '<td><span class="badge ' + j.status + '">' + j.status + '</span></td>'
                    + '<td><div class="progress"><div style="width:' + pct + '%"></div></div></td>'
                    + '<td>' + j.processed_records + ' / ' + j.total_records + '</td>'
                    + '<td>' + j.error_records + '</td>'
                    + '<td>' + controls + '</td>'
                    + '</tr>';
            });
            document.getElementById('jobRows').innerHTML = rows.join('');
        }

        async function control(jobId, action) {
            await fetch('/api/v1/sync/' + jobId + '/control', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ action })
            });
            refreshJobs();
        }

        document.getElementById('startForm').addEventListener('submit', async (e) => {
            e.preventDefault();
            errorDiv.style.display = 'none';
            const btn = document.getElementById('startBtn');
            btn.disabled = true;
            try {
                const resp = await fetch('/api/v1/sync', {
                    method: 'POST',
                    headers: { 'Content-Type': 'application/json' },
                    body: JSON.stringify({
                        entity: document.getElementById('entity').value,
                        warehouse_id: document.getElementById('warehouse').value,
                        batch_size: parseInt(document.getElementById('batchSize').value),
                        record_ceiling: parseInt(document.getElementById('ceiling').value)
                    })
                });
                const data = await resp.json();
                if (!resp.ok) {
                    errorDiv.textContent = data.error || 'Failed to start sync';
                    errorDiv.style.display = 'block';
                }
                refreshJobs();
            } catch (err) {
                errorDiv.textContent = 'Network error: ' + err.message;
                errorDiv.style.display = 'block';
            } finally {
                btn.disabled = false;
            }
        });

        loadEntities();
        refreshJobs();
        setInterval(refreshJobs, 2000);
    </script>
</body>
</html>`
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, html)
}
