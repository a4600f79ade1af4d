//go:build playwright

package e2e

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/coherent-in/shotbuzz-e2e/internal/sandbox"
)

// portalRouter serves a small single-page ShotBuzz look-alike in front of the
// sandbox API, so the playwright surface is exercised against real DOM.
func portalRouter(app *sandbox.App) *gin.Engine {
	people, _ := json.Marshal(app.People())
	page := strings.Replace(portalHTML, "__PEOPLE__", string(people), 1)

	r := gin.New()
	r.Use(gin.Recovery())
	serve := func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
	}
	for _, path := range []string{"/", "/login", "/employees", "/shots"} {
		r.GET(path, serve)
	}
	r.Any("/api/*path", gin.WrapH(app.Handler()))
	return r
}

const portalHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>ShotBuzz</title>
<style>
body { font-family: sans-serif; margin: 0; display: flex; }
nav { width: 160px; padding: 12px; background: #f3f3f3; min-height: 100vh; }
main { flex: 1; padding: 12px; }
.overlay { position: fixed; top: 40px; right: 40px; background: #fff; border: 1px solid #999; padding: 12px; min-width: 320px; }
[role=listbox] { list-style: none; padding: 0; border: 1px solid #ccc; }
[role=option], [role=menuitem] { padding: 4px; cursor: pointer; }
</style>
</head>
<body>
<div id="app"></div>
<script>
const people = __PEOPLE__;
const labels = { admin: "Shots", head: "Headshots", supervisor: "Shot", team_lead: "Shots" };
const statuses = ["YTA", "WIP", "STQ", "CRT"];
const state = { shots: [], search: "", menu: "", statusFor: "", statusList: false, dialog: "", tab: "details", editing: false, picker: "", staged: {} };
let last = "";

const token = () => localStorage.getItem("token");
const role = () => localStorage.getItem("role");
const $ = (id) => document.getElementById(id);
const esc = (s) => String(s == null ? "" : s).replace(/[&<>"]/g, (c) => ({ "&": "&amp;", "<": "&lt;", ">": "&gt;", '"': "&quot;" }[c]));

function api(method, path, body) {
  return fetch(path, {
    method,
    headers: { "Content-Type": "application/json", "Authorization": "Bearer " + token() },
    body: body ? JSON.stringify(body) : undefined,
  });
}

function route() {
  const path = location.pathname;
  if (!token()) {
    if (path !== "/login") { location.replace("/login"); return; }
    renderLogin();
    return;
  }
  if (path === "/login" || path === "/") { location.replace(role() === "admin" ? "/employees" : "/shots"); return; }
  if (path === "/employees" && role() === "admin") { renderShell("employees"); return; }
  if (path !== "/shots") { history.replaceState(null, "", "/shots"); }
  renderShell("shots");
  refresh();
  setInterval(refresh, 300);
}

function renderLogin() {
  $("app").innerHTML = '<main><form id="login"><h1>Sign in to ShotBuzz</h1>' +
    '<input type="email" id="email" placeholder="Enter your email"><br>' +
    '<input type="password" id="password" placeholder="Enter password"><br>' +
    '<button type="submit">Sign in</button><div role="alert" id="login-error"></div></form></main>';
  $("login").addEventListener("submit", async (e) => {
    e.preventDefault();
    const res = await fetch("/api/login", {
      method: "POST",
      headers: { "Content-Type": "application/json" },
      body: JSON.stringify({ email: $("email").value, password: $("password").value }),
    });
    if (!res.ok) { $("login-error").textContent = "Invalid email or password"; return; }
    const body = await res.json();
    localStorage.setItem("token", body.data.token);
    localStorage.setItem("role", body.data.role);
    location.assign(body.data.role === "admin" ? "/employees" : "/shots");
  });
}

function renderShell(page) {
  let nav = '<nav><button id="nav-shots">' + labels[role()] + '</button>';
  if (role() === "admin") nav += '<br><a href="/employees">Employees</a>';
  nav += '</nav>';
  let main = '<main id="main">';
  if (page === "employees") {
    main += '<h1>Employees</h1><p>Directory</p>';
  } else {
    main += '<h1>' + (role() === "head" ? "Head Reports" : "Shot List") + '</h1>' +
      '<div>TOTAL SHOTS <span id="total">0</span></div>' +
      '<input id="search" placeholder="Search shots">' +
      '<table><thead><tr><th>Name</th><th>Type</th><th>State</th><th>HOD</th><th>Complexity</th><th>Start</th><th>End</th><th></th></tr></thead>' +
      '<tbody id="rows"></tbody></table>';
  }
  main += '</main><div id="overlay"></div>';
  $("app").innerHTML = nav + main;
  $("nav-shots").addEventListener("click", () => location.assign("/shots"));
  if (page === "shots") {
    $("search").addEventListener("keydown", (e) => {
      if (e.key === "Enter") { state.search = $("search").value.trim(); renderRows(); }
    });
  }
}

async function refresh() {
  const res = await api("GET", "/api/shots");
  if (res.status === 401) { localStorage.clear(); location.replace("/login"); return; }
  const body = await res.json();
  const raw = JSON.stringify(body.data);
  if (raw === last) return;
  last = raw;
  state.shots = body.data || [];
  renderRows();
  renderOverlay();
}

function renderRows() {
  if (!$("rows")) return;
  const q = state.search.toLowerCase();
  const list = state.shots.filter((s) => !q || s.name.toLowerCase().includes(q));
  $("total").textContent = list.length;
  $("rows").innerHTML = list.map((s) =>
    '<tr><td><span data-name="' + esc(s.name) + '">' + esc(s.name) + '</span></td>' +
    '<td>' + esc(s.type) + '</td><td>' + esc(s.status) + '</td><td>' + esc(s.hod) + '</td>' +
    '<td>' + esc(s.complexity) + '</td><td>' + s.actualStartFrame + '</td><td>' + s.actualEndFrame + '</td>' +
    '<td>' + (role() === "admin" ? '<button aria-label="Open menu" data-menu="' + esc(s.name) + '">...</button>' : '') + '</td></tr>'
  ).join("");
}

function listbox(items, attr) {
  return '<ul role="listbox">' + items.map((i) => '<li role="option" ' + attr + '="' + esc(i) + '">' + esc(i) + '</li>').join("") + '</ul>';
}

function field(label, key, value, editable) {
  if (state.editing && editable) {
    const shown = state.staged[key] || value || "Unassigned";
    let html = '<div><span>' + label + '</span> <button role="combobox" aria-label="' + label + '" data-picker="' + key + '">' + esc(shown) + '</button></div>';
    if (state.picker === key) html += listbox(people, "data-option");
    return html;
  }
  return '<div><span>' + label + '</span> <span>' + esc(value || "Unassigned") + '</span></div>';
}

function dialogHTML(s) {
  const r = role();
  let status;
  if (r === "admin") status = '<button role="combobox" data-action="status-trigger">' + esc(s.status) + '</button>';
  else if (r === "head") status = '<button data-action="noop">' + esc(s.status) + '</button>';
  else status = '<button aria-disabled="true">' + esc(s.status) + '</button>';

  let html = '<div role="dialog" aria-modal="true" aria-label="' + esc(s.name) + '" class="overlay">' +
    '<h2>' + esc(s.name) + '</h2>' + status + ' <button data-action="close">Close</button>' +
    '<div role="tablist">' +
    '<button role="tab" data-tab="details" aria-selected="' + (state.tab === "details") + '">DETAILS</button>' +
    '<button role="tab" data-tab="team" aria-selected="' + (state.tab === "team") + '">TEAM</button></div>';
  if (state.tab === "team") {
    html += field("Supervisor", "supervisor", s.supervisor, r === "head");
    html += field("TL", "tl", s.teamLead, r === "supervisor");
    if (r === "head" || r === "supervisor") {
      html += state.editing ? '<button data-action="update-roles">Update roles</button>' : '<button data-action="edit-roles">Edit roles</button>';
    }
  } else {
    html += '<div>' + esc(s.type) + ' ' + esc(s.hod) + ' ' + esc(s.complexity) + '</div>';
  }
  if (state.statusList && state.statusFor === s.name) html += listbox(statuses, "data-status");
  return html + '</div>';
}

function renderOverlay() {
  if (!$("overlay")) return;
  let html = "";
  if (state.menu) {
    html += '<div role="menu" class="overlay"><div role="menuitem" data-action="change-status">Change Status</div><div role="menuitem">Edit Shot</div></div>';
  }
  if (state.statusFor && !state.dialog) {
    html += '<div class="overlay"><div>Update Status</div><div role="combobox" aria-label="Status" tabindex="0" data-action="status-select">Select Status</div>' +
      (state.statusList ? listbox(statuses, "data-status") : "") + '</div>';
  }
  const shot = state.shots.find((s) => s.name === state.dialog);
  if (shot) html += dialogHTML(shot);
  $("overlay").innerHTML = html;
}

async function updateRoles() {
  const body = { supervisor: state.staged.supervisor || "", teamLead: state.staged.tl || "" };
  state.editing = false; state.picker = ""; state.staged = {};
  await api("PUT", "/api/shots/" + encodeURIComponent(state.dialog) + "/roles", body);
  last = "";
  refresh();
}

document.addEventListener("click", (e) => {
  const t = e.target.closest("[data-action],[data-menu],[data-name],[data-status],[data-option],[data-picker],[data-tab]");
  if (!t) return;
  const d = t.dataset;
  if (d.menu) { state.menu = d.menu; }
  else if (d.name) { state.dialog = d.name; state.tab = "details"; state.editing = false; state.picker = ""; state.staged = {}; state.menu = ""; }
  else if (d.tab) { state.tab = d.tab; }
  else if (d.picker) { state.picker = d.picker; }
  else if (d.option) { state.staged[state.picker] = d.option; state.picker = ""; }
  else if (d.status) { state.statusList = false; state.statusFor = ""; }
  else if (d.action === "change-status") { state.statusFor = state.menu; state.menu = ""; }
  else if (d.action === "status-select") { state.statusList = true; }
  else if (d.action === "status-trigger") { state.statusFor = state.dialog; state.statusList = true; }
  else if (d.action === "close") { state.dialog = ""; state.editing = false; }
  else if (d.action === "edit-roles") { state.editing = true; }
  else if (d.action === "update-roles") { updateRoles(); }
  renderOverlay();
});

route();
</script>
</body>
</html>
`
