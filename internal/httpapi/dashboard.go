package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Halagel Production Tracker</title>
  <style>
    :root {
      --ink: #1c2430;
      --paper: #f4f6f8;
      --card: #ffffff;
      --line: #d7dde5;
      --accent: #0f766e;
      --accent-2: #d97706;
      --danger: #b91c1c;
      --muted: #64748b;
      --shadow: 0 14px 30px rgba(28, 36, 48, 0.12);
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Segoe UI", "Avenir Next", sans-serif;
      color: var(--ink);
      background: linear-gradient(150deg, #f8fafc 0%, #eef4f3 55%, #fdfaf4 100%);
      min-height: 100vh;
      padding: 20px;
    }

    .shell { max-width: 1180px; margin: 0 auto; display: grid; gap: 14px; }

    .bar {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 14px;
      padding: 16px;
      box-shadow: var(--shadow);
      display: flex;
      justify-content: space-between;
      align-items: center;
      gap: 12px;
      flex-wrap: wrap;
    }

    h1 { margin: 0; font-size: 1.4rem; letter-spacing: 0.01em; }
    .sub { color: var(--muted); font-size: 0.85rem; }

    .cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 12px; }
    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 14px;
      padding: 14px;
      box-shadow: var(--shadow);
    }
    .card .label { color: var(--muted); font-size: 0.78rem; text-transform: uppercase; letter-spacing: 0.06em; }
    .card .value { font-size: 1.6rem; font-weight: 600; margin-top: 4px; }

    table { width: 100%; border-collapse: collapse; font-size: 0.88rem; }
    th, td { text-align: left; padding: 8px 10px; border-bottom: 1px solid var(--line); }
    th { color: var(--muted); font-weight: 600; font-size: 0.78rem; text-transform: uppercase; }
    tr.completed td { color: var(--accent); }

    .pill {
      display: inline-block;
      padding: 2px 10px;
      border-radius: 999px;
      font-size: 0.75rem;
      border: 1px solid var(--line);
    }
    .pill.ok { background: #ecfdf5; color: var(--accent); border-color: #a7f3d0; }
    .pill.warn { background: #fffbeb; color: var(--accent-2); border-color: #fde68a; }
    .pill.locked { background: #fef2f2; color: var(--danger); border-color: #fecaca; }

    button {
      background: var(--accent);
      color: #fff;
      border: 0;
      border-radius: 10px;
      padding: 8px 16px;
      font-size: 0.88rem;
      cursor: pointer;
    }
    button.ghost { background: transparent; color: var(--ink); border: 1px solid var(--line); }
    button:disabled { opacity: 0.5; cursor: default; }

    input, select {
      border: 1px solid var(--line);
      border-radius: 10px;
      padding: 8px 10px;
      font-size: 0.88rem;
      background: #fff;
    }

    form.login { display: grid; gap: 10px; max-width: 340px; margin: 60px auto; }
    .error { color: var(--danger); font-size: 0.85rem; min-height: 1.2em; }
    .row { display: flex; gap: 8px; align-items: center; flex-wrap: wrap; }
    .hidden { display: none; }
  </style>
</head>
<body>
  <div class="shell">
    <div class="bar">
      <div>
        <h1>Halagel Production Tracker</h1>
        <div class="sub" id="whoami">Not signed in</div>
      </div>
      <div class="row">
        <span class="pill" id="cloudPill">cloud: &hellip;</span>
        <span class="pill" id="lockPill">lock: &hellip;</span>
        <button id="syncBtn" class="ghost" disabled>Sync now</button>
        <button id="logoutBtn" class="ghost hidden">Sign out</button>
      </div>
    </div>

    <form class="login" id="loginForm">
      <input id="username" placeholder="Username" autocomplete="username" />
      <input id="password" type="password" placeholder="Password" autocomplete="current-password" />
      <button type="submit">Sign in</button>
      <div class="error" id="loginError"></div>
    </form>

    <div id="main" class="hidden">
      <div class="cards">
        <div class="card"><div class="label">Plan</div><div class="value" id="statPlan">0</div></div>
        <div class="card"><div class="label">Actual</div><div class="value" id="statActual">0</div></div>
        <div class="card"><div class="label">Efficiency</div><div class="value" id="statEff">0%</div></div>
        <div class="card"><div class="label">Manpower</div><div class="value" id="statMp">0</div></div>
      </div>

      <div class="card" style="margin-top:12px">
        <div class="row" style="justify-content:space-between">
          <strong>Production</strong>
          <span class="sub" id="rowCount"></span>
        </div>
        <table>
          <thead>
            <tr><th>Date</th><th>Product</th><th>Process</th><th>Plan</th><th>Actual</th><th>Unit</th><th>Status</th><th>Updated</th></tr>
          </thead>
          <tbody id="rows"></tbody>
        </table>
      </div>
    </div>
  </div>

  <script>
    let token = null;
    let ws = null;

    const $ = (id) => document.getElementById(id);

    async function api(path, options = {}) {
      options.headers = Object.assign({}, options.headers, token ? { Authorization: "Bearer " + token } : {});
      const res = await fetch(path, options);
      if (!res.ok) throw new Error((await res.json().catch(() => ({}))).message || res.statusText);
      return res.status === 204 ? null : res.json();
    }

    async function refreshHealth() {
      try {
        const status = await api("/v1/sync/status");
        $("cloudPill").textContent = status.cloudEnabled ? "cloud: on" : "cloud: off";
        $("cloudPill").className = "pill " + (status.cloudEnabled ? "ok" : "warn");
        $("lockPill").textContent = status.writeLocked ? "write lock" : "lock: clear";
        $("lockPill").className = "pill " + (status.writeLocked ? "locked" : "ok");
        $("syncBtn").disabled = !status.cloudEnabled;
      } catch (err) { /* not signed in yet */ }
    }

    async function refreshData() {
      const [entries, stats] = await Promise.all([api("/v1/production"), api("/v1/stats")]);
      $("statPlan").textContent = stats.totalPlan;
      $("statActual").textContent = stats.totalActual;
      $("statEff").textContent = stats.avgEfficiency + "%";
      $("statMp").textContent = stats.totalManpower;
      $("rowCount").textContent = entries.length + " entries";
      $("rows").innerHTML = entries.map((e) =>
        '<tr class="' + (e.status === "Completed" ? "completed" : "") + '">' +
        "<td>" + e.date + "</td><td>" + e.productName + "</td><td>" + e.process + "</td>" +
        "<td>" + e.planQuantity + "</td><td>" + e.actualQuantity + "</td><td>" + e.unit + "</td>" +
        "<td>" + e.status + "</td><td>" + (e.updatedAt || "") + "</td></tr>"
      ).join("");
    }

    function openFeed() {
      if (ws) ws.close();
      const proto = location.protocol === "https:" ? "wss://" : "ws://";
      ws = new WebSocket(proto + location.host + "/v1/events/ws?token=" + encodeURIComponent(token));
      ws.onmessage = () => { refreshData(); refreshHealth(); };
    }

    $("loginForm").addEventListener("submit", async (ev) => {
      ev.preventDefault();
      $("loginError").textContent = "";
      try {
        const res = await api("/v1/auth/login", {
          method: "POST",
          body: JSON.stringify({ username: $("username").value, password: $("password").value }),
        });
        token = res.token;
        $("whoami").textContent = res.user.name + " (" + res.user.role + ")";
        $("loginForm").classList.add("hidden");
        $("main").classList.remove("hidden");
        $("logoutBtn").classList.remove("hidden");
        await Promise.all([refreshData(), refreshHealth()]);
        openFeed();
      } catch (err) {
        $("loginError").textContent = err.message;
      }
    });

    $("logoutBtn").addEventListener("click", () => location.reload());

    $("syncBtn").addEventListener("click", async () => {
      $("syncBtn").disabled = true;
      try { await api("/v1/sync", { method: "POST" }); await refreshData(); } finally { $("syncBtn").disabled = false; }
    });

    setInterval(() => { if (token) refreshHealth(); }, 15000);
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, dashboardHTML)
}
