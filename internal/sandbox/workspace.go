package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coherent-in/shotbuzz-e2e/internal/actor"
	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
	"github.com/coherent-in/shotbuzz-e2e/internal/locator"
	"github.com/coherent-in/shotbuzz-e2e/internal/pages"
	"github.com/coherent-in/shotbuzz-e2e/internal/poll"
	"github.com/coherent-in/shotbuzz-e2e/internal/scenario"
)

type page string

const (
	pageLogin     page = "login"
	pageEmployees page = "employees"
	pageShots     page = "shots"
)

var statuses = []string{"YTA", "WIP", "STQ", "CRT"}

// dashboardLabels are the sidebar captions each role sees.
var dashboardLabels = map[actor.Role]string{
	actor.RoleAdmin:      "Shots",
	actor.RoleHead:       "Headshots",
	actor.RoleSupervisor: "Shot",
	actor.RoleTeamLead:   "Shots",
}

type loginResponse struct {
	status int
	body   []byte
}

// Workspace is one simulated browser tab on the sandbox portal. Its page tree
// is re-rendered from state after every action and on a short tick, so
// delayed writes show up without any action.
type Workspace struct {
	app  *App
	snap *locator.Snapshot

	mu          sync.Mutex
	page        page
	url         string
	role        actor.Role
	loginErr    string
	inputs      map[string]string
	search      string
	loadedAt    time.Time
	menu        string
	statusModal string
	statusList  bool
	dialog      string
	tab         string
	editing     bool
	picker      string
	staged      map[string]string
	navClicks   int
	waiters     []chan loginResponse

	stop      chan struct{}
	closeOnce sync.Once
}

// NewWorkspace opens a logged-out tab.
func (a *App) NewWorkspace() *Workspace {
	w := &Workspace{
		app:    a,
		snap:   locator.NewSnapshot(nil),
		page:   pageLogin,
		url:    "/login",
		inputs: make(map[string]string),
		staged: make(map[string]string),
		tab:    "details",
		stop:   make(chan struct{}),
	}
	w.snap.OnAction(w.handle)
	w.snap.OnReload(w.reload)
	w.render()
	go w.tick(a.opts.Tick)
	return w
}

// Surface is the tab as seen by page models and the poller.
func (w *Workspace) Surface() *locator.Snapshot {
	return w.snap
}

// Role is the role currently logged in, if any.
func (w *Workspace) Role() actor.Role {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.role
}

// Close stops re-rendering.
func (w *Workspace) Close() {
	w.closeOnce.Do(func() { close(w.stop) })
}

func (w *Workspace) tick(d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.render()
		}
	}
}

// expectLogin registers for the next login response. It must be called
// before the click that submits the form.
func (w *Workspace) expectLogin() <-chan loginResponse {
	ch := make(chan loginResponse, 1)
	w.mu.Lock()
	w.waiters = append(w.waiters, ch)
	w.mu.Unlock()
	return ch
}

func (w *Workspace) handle(_ *locator.Snapshot, a locator.Action) {
	w.mu.Lock()
	switch a.Kind {
	case "navigate":
		w.navigate(a.Value)
	case "fill":
		w.inputs[a.NodeID] = a.Value
	case "type":
		w.inputs[a.NodeID] += a.Value
	case "press":
		if a.NodeID == "search" && a.Value == "Enter" {
			w.search = strings.TrimSpace(w.inputs["search"])
		}
	case "click":
		w.click(a.NodeID)
	}
	w.mu.Unlock()
	w.render()
}

func (w *Workspace) reload(*locator.Snapshot) {
	w.mu.Lock()
	w.resetPage()
	w.mu.Unlock()
	w.render()
}

func (w *Workspace) navigate(path string) {
	switch {
	case path == "/logout":
		w.role = ""
		w.page, w.url = pageLogin, "/login"
		w.inputs = make(map[string]string)
		w.resetPage()
	case w.role == "":
		w.page, w.url = pageLogin, "/login"
	case strings.Contains(path, "employees") && w.role == actor.RoleAdmin:
		w.page, w.url = pageEmployees, "/employees"
	default:
		w.openShots()
	}
}

func (w *Workspace) openShots() {
	w.page, w.url = pageShots, "/shots"
	w.resetPage()
}

// resetPage drops transient UI state, as a page load does.
func (w *Workspace) resetPage() {
	w.loadedAt = time.Now()
	w.search = ""
	delete(w.inputs, "search")
	w.menu, w.statusModal, w.dialog, w.picker = "", "", "", ""
	w.statusList, w.editing = false, false
	w.tab = "details"
	w.staged = make(map[string]string)
}

func (w *Workspace) click(id string) {
	if !strings.HasPrefix(id, "menu") {
		w.menu = ""
	}
	switch {
	case id == "login-submit":
		w.submitLogin()
	case id == "nav-shots":
		w.navClicks++
		if w.app.opts.SwallowFirstNavClick && w.navClicks == 1 {
			return
		}
		w.openShots()
	case id == "nav-employees":
		w.page, w.url = pageEmployees, "/employees"
	case strings.HasPrefix(id, "menu:"):
		w.menu = strings.TrimPrefix(id, "menu:")
	case id == "menu-change-status":
		w.statusModal, w.menu = w.menu, ""
	case id == "status-select":
		w.statusList = true
	case id == "status-trigger":
		if w.role == actor.RoleAdmin {
			w.statusList = true
		}
	case strings.HasPrefix(id, "status:"):
		w.setStatus(strings.TrimPrefix(id, "status:"))
	case strings.HasPrefix(id, "cell:"):
		w.dialog = strings.TrimPrefix(id, "cell:")
		w.tab, w.editing, w.picker = "details", false, ""
		w.staged = make(map[string]string)
	case id == "dialog-close":
		w.dialog, w.editing, w.picker = "", false, ""
	case id == "tab-details":
		w.tab = "details"
	case id == "tab-team":
		w.tab = "team"
	case id == "edit-roles":
		w.editing = true
	case id == "trigger-supervisor":
		w.picker = "supervisor"
	case id == "trigger-tl":
		w.picker = "tl"
	case strings.HasPrefix(id, "option:"):
		if w.picker != "" {
			w.staged[w.picker] = strings.TrimPrefix(id, "option:")
			w.picker = ""
		}
	case id == "update-roles":
		w.updateRoles()
	}
}

func (w *Workspace) submitLogin() {
	body, _ := json.Marshal(map[string]string{
		"email":    w.inputs["login-email"],
		"password": w.inputs["login-password"],
	})
	status, resp := w.app.call(http.MethodPost, "/api/login", "", body)
	for _, ch := range w.waiters {
		ch <- loginResponse{status: status, body: resp}
	}
	w.waiters = nil
	if status != http.StatusOK {
		w.loginErr = "Invalid email or password"
		return
	}
	var out struct {
		Data struct {
			Role actor.Role `json:"role"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		w.loginErr = "Unexpected server response"
		return
	}
	w.role, w.loginErr = out.Data.Role, ""
	delete(w.inputs, "login-email")
	delete(w.inputs, "login-password")
	if w.role == actor.RoleAdmin {
		w.page, w.url = pageEmployees, "/employees"
		return
	}
	w.openShots()
}

func (w *Workspace) setStatus(status string) {
	target := w.statusModal
	if target == "" {
		target = w.dialog
	}
	w.statusList, w.statusModal = false, ""
	if target == "" {
		return
	}
	w.app.schedule(target, func(s *Shot) { s.Status = status })
}

// updateRoles saves the staged picks. Assigning a supervisor moves a shot
// from YTA to ATS and assigning a team lead moves it from ATS to ATL.
func (w *Workspace) updateRoles() {
	sup, tl := w.staged["supervisor"], w.staged["tl"]
	w.editing, w.picker = false, ""
	w.staged = make(map[string]string)
	if w.dialog == "" || (sup == "" && tl == "") {
		return
	}
	if err := w.app.assignRoles(w.dialog, sup, tl); err != nil {
		w.app.logger.Printf("update roles: %v", err)
	}
}

func (w *Workspace) render() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snap.Replace(w.build())
	w.snap.SetURL(w.url)
}

func (w *Workspace) build() *locator.Node {
	root := &locator.Node{ID: "root", Role: locator.RoleGeneric}
	if w.page == pageLogin {
		root.Children = w.loginForm()
		return root
	}

	shots := w.app.Shots()
	main := &locator.Node{ID: "main", Role: locator.RoleGeneric}
	switch w.page {
	case pageEmployees:
		main.Children = []*locator.Node{
			{ID: "employees-title", Role: locator.RoleHeading, Name: "Employees", Text: "Employees"},
			{ID: "employees-count", Text: fmt.Sprintf("%d people", len(w.app.opts.People))},
		}
	case pageShots:
		main.Children = w.shotList(shots)
	}
	root.Children = append(root.Children, w.sidebar(), main)

	if w.menu != "" {
		root.Children = append(root.Children, &locator.Node{
			ID: "menu", Role: "menu",
			Children: []*locator.Node{
				{ID: "menu-change-status", Role: "menuitem", Text: "Change Status"},
				{ID: "menu-edit", Role: "menuitem", Text: "Edit Shot"},
			},
		})
	}
	if w.statusModal != "" {
		root.Children = append(root.Children, &locator.Node{
			ID: "status-modal", Role: locator.RoleGeneric, Name: "Change Status",
			Children: []*locator.Node{
				{ID: "status-modal-title", Text: "Update Status"},
				{ID: "status-select", Role: locator.RoleCombobox, Name: "Status", Text: "Select Status"},
			},
		})
	}
	if w.dialog != "" {
		for _, s := range shots {
			if s.Name == w.dialog {
				root.Children = append(root.Children, w.shotDialog(s))
			}
		}
	}
	if w.statusList {
		list := &locator.Node{ID: "status-list", Role: locator.RoleListbox}
		for _, st := range statuses {
			list.Children = append(list.Children, &locator.Node{ID: "status:" + st, Role: locator.RoleOption, Text: st})
		}
		root.Children = append(root.Children, list)
	}
	if w.picker != "" {
		list := &locator.Node{ID: "picker", Role: locator.RoleListbox}
		for _, p := range w.app.opts.People {
			list.Children = append(list.Children, &locator.Node{ID: "option:" + p, Role: locator.RoleOption, Text: p})
		}
		root.Children = append(root.Children, list)
	}
	return root
}

func (w *Workspace) loginForm() []*locator.Node {
	nodes := []*locator.Node{
		{ID: "login-title", Role: locator.RoleHeading, Name: "Sign in to ShotBuzz", Text: "Sign in to ShotBuzz"},
		{ID: "login-email", Role: locator.RoleTextbox, Placeholder: "Enter your email", Attrs: map[string]string{"value": w.inputs["login-email"]}},
		{ID: "login-password", Role: locator.RoleTextbox, Placeholder: "Enter password", Attrs: map[string]string{"value": w.inputs["login-password"], "type": "password"}},
		{ID: "login-submit", Role: locator.RoleButton, Name: "Sign in", Text: "Sign in"},
	}
	if w.loginErr != "" {
		nodes = append(nodes, &locator.Node{ID: "login-error", Role: "alert", Text: w.loginErr})
	}
	return nodes
}

func (w *Workspace) sidebar() *locator.Node {
	nav := &locator.Node{ID: "sidebar", Role: "navigation"}
	if w.role == actor.RoleAdmin {
		nav.Children = append(nav.Children, &locator.Node{ID: "nav-employees", Role: locator.RoleLink, Name: "Employees", Text: "Employees"})
	}
	label := dashboardLabels[w.role]
	nav.Children = append(nav.Children, &locator.Node{ID: "nav-shots", Role: locator.RoleButton, Name: label, Text: label})
	return nav
}

func (w *Workspace) shotList(shots []Shot) []*locator.Node {
	title := "Shot List"
	if w.role == actor.RoleHead {
		title = "Head Reports"
	}
	table := &locator.Node{ID: "shots-table", Role: "table", Children: []*locator.Node{{
		ID: "row-header", Role: locator.RoleRow,
		Children: textCells("header", "Shot", "Type", "Status", "HOD", "Complexity", "Start", "End", ""),
	}}}
	listed := 0
	for _, s := range shots {
		if w.app.opts.HideNewShotsUntilReload && s.createdAt.After(w.loadedAt) {
			continue
		}
		if w.search != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(w.search)) {
			continue
		}
		listed++
		row := &locator.Node{ID: "row:" + s.Name, Role: locator.RoleRow}
		row.Children = append(row.Children, &locator.Node{ID: "cell:" + s.Name, Role: "cell", Text: s.Name})
		row.Children = append(row.Children, textCells(s.Name, s.Type, s.Status, s.HOD, s.Complexity,
			fmt.Sprint(s.StartFrame), fmt.Sprint(s.EndFrame))...)
		row.Children = append(row.Children, &locator.Node{ID: "menu:" + s.Name, Role: locator.RoleButton, Name: "Open menu"})
		table.Children = append(table.Children, row)
	}
	return []*locator.Node{
		{ID: "shots-title", Role: locator.RoleHeading, Name: title, Text: title},
		{ID: "total", Role: locator.RoleGeneric, Children: []*locator.Node{
			{ID: "total-label", Text: "TOTAL SHOTS"},
			{ID: "total-value", Text: fmt.Sprint(listed)},
		}},
		{ID: "search", Role: locator.RoleTextbox, Placeholder: "Search shots", Attrs: map[string]string{"value": w.inputs["search"]}},
		table,
	}
}

func textCells(prefix string, values ...string) []*locator.Node {
	cells := make([]*locator.Node, 0, len(values))
	for i, v := range values {
		cells = append(cells, &locator.Node{ID: fmt.Sprintf("%s-%d", prefix, i), Role: "cell", Text: v})
	}
	return cells
}

func (w *Workspace) shotDialog(s Shot) *locator.Node {
	d := &locator.Node{ID: "dialog", Role: locator.RoleDialog, Name: s.Name}
	d.Children = append(d.Children,
		&locator.Node{ID: "dialog-title", Role: locator.RoleHeading, Name: s.Name, Text: s.Name},
		w.statusControl(s.Status),
		&locator.Node{ID: "dialog-close", Role: locator.RoleButton, Name: "Close"},
		&locator.Node{ID: "tabs", Role: "tablist", Children: []*locator.Node{
			{ID: "tab-details", Role: locator.RoleTab, Name: "DETAILS", Text: "DETAILS", Attrs: map[string]string{"aria-selected": fmt.Sprint(w.tab == "details")}},
			{ID: "tab-team", Role: locator.RoleTab, Name: "TEAM", Text: "TEAM", Attrs: map[string]string{"aria-selected": fmt.Sprint(w.tab == "team")}},
		}},
	)
	if w.tab == "team" {
		d.Children = append(d.Children, w.teamPanel(s))
		return d
	}
	d.Children = append(d.Children, &locator.Node{ID: "details", Role: "tabpanel",
		Children: textCells("detail", s.Type, s.HOD, s.Complexity, fmt.Sprintf("%d - %d", s.StartFrame, s.EndFrame))})
	return d
}

// statusControl is editable for admins only. Supervisors and team leads get
// an aria-disabled badge; heads get a button that opens nothing.
func (w *Workspace) statusControl(status string) *locator.Node {
	switch w.role {
	case actor.RoleAdmin:
		return &locator.Node{ID: "status-trigger", Role: locator.RoleCombobox, Name: "Status", Text: status}
	case actor.RoleHead:
		return &locator.Node{ID: "status-trigger", Role: locator.RoleButton, Text: status}
	default:
		return &locator.Node{ID: "status-trigger", Role: locator.RoleButton, Text: status, Attrs: map[string]string{"aria-disabled": "true"}}
	}
}

func (w *Workspace) teamPanel(s Shot) *locator.Node {
	panel := &locator.Node{ID: "team", Role: "tabpanel"}
	field := func(key, label, current string) {
		value := current
		if staged := w.staged[key]; staged != "" {
			value = staged
		}
		if value == "" {
			value = "Unassigned"
		}
		panel.Children = append(panel.Children, &locator.Node{ID: "label-" + key, Text: label})
		if w.editing {
			panel.Children = append(panel.Children, &locator.Node{ID: "trigger-" + key, Role: locator.RoleCombobox, Name: label, Text: value})
			return
		}
		panel.Children = append(panel.Children, &locator.Node{ID: "value-" + key, Text: value})
	}
	field("supervisor", "Supervisor", s.Supervisor)
	field("tl", "TL", s.TeamLead)
	if w.editing {
		panel.Children = append(panel.Children, &locator.Node{ID: "update-roles", Role: locator.RoleButton, Name: "Update roles", Text: "Update roles"})
	} else {
		panel.Children = append(panel.Children, &locator.Node{ID: "edit-roles", Role: locator.RoleButton, Name: "Edit roles", Text: "Edit roles"})
	}
	return panel
}

// Outline renders the current page tree one node per line, for failure
// artifacts.
func (w *Workspace) Outline() string {
	var b strings.Builder
	var walk func(n *locator.Node, depth int)
	walk = func(n *locator.Node, depth int) {
		if n == nil {
			return
		}
		fmt.Fprintf(&b, "%s%s", strings.Repeat("  ", depth), n.Role)
		if n.Name != "" {
			fmt.Fprintf(&b, " %q", n.Name)
		}
		if n.Text != "" {
			fmt.Fprintf(&b, " text=%q", n.Text)
		}
		if n.Placeholder != "" {
			fmt.Fprintf(&b, " placeholder=%q", n.Placeholder)
		}
		fmt.Fprintf(&b, " #%s\n", n.ID)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	w.mu.Lock()
	root := w.build()
	url := w.url
	w.mu.Unlock()
	fmt.Fprintf(&b, "url %s\n", url)
	walk(root, 0)
	return b.String()
}

func (w *Workspace) capture(_ context.Context, name string) (string, error) {
	dir := w.app.opts.ArtifactsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".txt")
	if err := os.WriteFile(path, []byte(w.Outline()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type authenticator struct {
	w      *Workspace
	poller *poll.Poller
}

// Authenticator logs in through the sandbox login form and captures the
// token from the login response.
func (w *Workspace) Authenticator(opts ...poll.Option) actor.Authenticator {
	return authenticator{w: w, poller: poll.New(w.snap, opts...)}
}

func (a authenticator) Login(ctx context.Context, creds actor.Credentials) (string, error) {
	resp := a.w.expectLogin()
	if err := pages.New(a.w.snap, a.poller, "", nil).SubmitLogin(ctx, creds); err != nil {
		return "", err
	}
	select {
	case r := <-resp:
		if r.status != http.StatusOK {
			return "", failure.New(failure.KindSetupFailure, "login rejected for %s", creds.Email).
				WithObserved(fmt.Sprintf("HTTP %d", r.status))
		}
		return actor.ExtractToken(r.body)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (a authenticator) Logout(ctx context.Context) error {
	return a.w.snap.Navigate(ctx, "/logout")
}

// Factory opens a fresh workspace per scenario.
func (a *App) Factory(pollOpts ...poll.Option) scenario.WorkspaceFactory {
	return func(ctx context.Context, name string) (*scenario.Workspace, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := a.NewWorkspace()
		a.logger.Printf("opened workspace for %s", name)
		ws := &scenario.Workspace{
			Surface: w.Surface(),
			Auth:    w.Authenticator(pollOpts...),
			Close: func(context.Context) error {
				w.Close()
				return nil
			},
		}
		if a.opts.ArtifactsDir != "" {
			ws.Capture = w.capture
		}
		return ws, nil
	}
}
