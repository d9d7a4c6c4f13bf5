package templates

// styles and script are inlined into the dashboard page.
const styles = `body{font-family:system-ui,sans-serif;margin:0;color:#1f2933}
header{display:flex;gap:1rem;align-items:baseline;padding:.75rem 1.5rem;background:#243b53;color:#fff}
header h1{font-size:1.25rem;margin:0}.server{opacity:.7}
main{padding:1rem 1.5rem 4rem}table{border-collapse:collapse;width:100%}
th,td{text-align:left;padding:.35rem .5rem;border-bottom:1px solid #d9e2ec}
tr.aborted td{color:#a61b1b}tr.cancelled td{color:#8d6e00}.muted{color:#829ab1}
.alert-error{background:#ffe3e3;border:1px solid #e12d39;padding:.75rem;margin-bottom:1rem}
.status{position:fixed;bottom:0;left:0;right:0;padding:.5rem 1.5rem;background:#f0f4f8;border-top:1px solid #bcccdc}`

const script = `
const statusBar = document.getElementById("status");
function follow(runId) {
  const es = new EventSource("/api/runs/" + runId + "/events");
  es.addEventListener("progress", e => {
    const p = JSON.parse(e.data);
    statusBar.textContent = p.error || p.message || p.phase;
  });
  es.addEventListener("complete", e => {
    es.close();
    const st = JSON.parse(e.data);
    if (st.result) statusBar.textContent = st.result.error || st.result.summary;
    setTimeout(() => location.reload(), 1500);
  });
}
async function api(method, url, body) {
  const res = await fetch(url, {method, headers: {"Content-Type": "application/json", "Accept": "application/json"}, body: body && JSON.stringify(body)});
  const data = await res.json();
  if (!res.ok) throw new Error(data.message + " (" + data.code + "). " + (data.action || ""));
  return data;
}
document.querySelectorAll("form.run").forEach(f => f.addEventListener("submit", async ev => {
  ev.preventDefault();
  try {
    const run = await api("POST", "/api/runs", {target: f.dataset.target, start: f.start.value, end: f.end.value, dryRun: f.dryRun.checked});
    follow(run.runId);
  } catch (err) { statusBar.textContent = err.message; }
}));
document.querySelectorAll("[data-cancel]").forEach(b => b.addEventListener("click", async () => {
  try { await api("POST", "/api/runs/" + b.dataset.cancel + "/cancel"); } catch (err) { statusBar.textContent = err.message; }
}));
document.querySelectorAll("[data-run]").forEach(a => a.addEventListener("click", ev => { ev.preventDefault(); follow(a.dataset.run); }));
`
