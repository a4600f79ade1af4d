package locator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
)

// Node is an element in an in-memory page tree.
type Node struct {
	ID          string
	Role        Role
	Name        string
	Text        string
	Placeholder string
	Attrs       map[string]string
	Hidden      bool
	Disabled    bool
	Children    []*Node
}

// Action is a UI action recorded by a Snapshot.
type Action struct {
	Kind   string
	NodeID string
	Value  string
}

// Snapshot is an in-memory Surface over a Node tree. It backs unit tests of
// everything that consumes a Surface, and stands in for the browser in
// dry runs.
type Snapshot struct {
	mu       sync.RWMutex
	root     *Node
	url      string
	actions  []Action
	reloads  int
	onAction func(*Snapshot, Action)
	onReload func(*Snapshot)
}

var _ Surface = (*Snapshot)(nil)

// NewSnapshot returns a surface over root.
func NewSnapshot(root *Node) *Snapshot {
	return &Snapshot{root: root}
}

// Replace swaps the whole tree.
func (s *Snapshot) Replace(root *Node) {
	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
}

// Mutate edits the tree under the snapshot lock.
func (s *Snapshot) Mutate(fn func(root *Node)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.root)
}

// SetURL sets the current URL without recording a navigation.
func (s *Snapshot) SetURL(u string) {
	s.mu.Lock()
	s.url = u
	s.mu.Unlock()
}

// OnAction registers a hook run after every recorded action. The hook runs
// without the lock held and may call Mutate.
func (s *Snapshot) OnAction(fn func(*Snapshot, Action)) {
	s.mu.Lock()
	s.onAction = fn
	s.mu.Unlock()
}

// OnReload registers a hook run after every Reload.
func (s *Snapshot) OnReload(fn func(*Snapshot)) {
	s.mu.Lock()
	s.onReload = fn
	s.mu.Unlock()
}

// Actions returns a copy of the recorded actions.
func (s *Snapshot) Actions() []Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Action(nil), s.actions...)
}

// Reloads returns how many times Reload ran.
func (s *Snapshot) Reloads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reloads
}

// Find returns the first node with the given ID.
func (s *Snapshot) Find(id string) *Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range flatten(s.root) {
		if e.node.ID == id {
			return e.node
		}
	}
	return nil
}

func (s *Snapshot) Resolve(q ElementQuery) Handle {
	return snapshotHandle{snap: s, query: q}
}

func (s *Snapshot) Navigate(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.record(Action{Kind: "navigate", Value: path}, func() { s.url = path })
	return nil
}

func (s *Snapshot) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.reloads++
	hook := s.onReload
	s.mu.Unlock()
	if hook != nil {
		hook(s)
	}
	return nil
}

func (s *Snapshot) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

func (s *Snapshot) record(a Action, apply func()) {
	s.mu.Lock()
	if apply != nil {
		apply()
	}
	s.actions = append(s.actions, a)
	hook := s.onAction
	s.mu.Unlock()
	if hook != nil {
		hook(s, a)
	}
}

type entry struct {
	node   *Node
	hidden bool
	index  int
}

// flatten walks the tree in document order.
func flatten(root *Node) []entry {
	var out []entry
	var walk func(n *Node, hidden bool)
	walk = func(n *Node, hidden bool) {
		if n == nil {
			return
		}
		hidden = hidden || n.Hidden
		out = append(out, entry{node: n, hidden: hidden, index: len(out)})
		for _, c := range n.Children {
			walk(c, hidden)
		}
	}
	walk(root, false)
	return out
}

func textContent(n *Node) string {
	var parts []string
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.Text != "" {
			parts = append(parts, n.Text)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return normalizeSpace(strings.Join(parts, " "))
}

func isDescendant(n, ancestor *Node) bool {
	for _, c := range ancestor.Children {
		if c == n || isDescendant(n, c) {
			return true
		}
	}
	return false
}

// match returns the entries q selects in document order. Caller holds the lock.
func (s *Snapshot) match(q ElementQuery) []entry {
	all := flatten(s.root)
	seen := make(map[*Node]bool)
	var out []entry
	collect := func(q ElementQuery) {
		for _, e := range s.matchOne(all, q) {
			if !seen[e.node] {
				seen[e.node] = true
				out = append(out, e)
			}
		}
	}
	collect(q)
	for _, alt := range q.Alternates {
		collect(alt)
	}
	if len(q.Alternates) > 0 {
		sortByIndex(out)
	}
	return out
}

func (s *Snapshot) matchOne(all []entry, q ElementQuery) []entry {
	var scope *Node
	if q.Container != nil {
		containers := s.match(*q.Container)
		if q.Container.Ordinal >= len(containers) {
			return nil
		}
		scope = containers[q.Container.Ordinal].node
	}
	var out []entry
	for _, e := range all {
		if scope != nil && !isDescendant(e.node, scope) {
			continue
		}
		if matches(e.node, q) {
			out = append(out, e)
		}
	}
	return out
}

func matches(n *Node, q ElementQuery) bool {
	if q.Role != "" && n.Role != q.Role {
		return false
	}
	if !q.Name.IsZero() && !q.Name.Matches(n.Name) {
		return false
	}
	if q.Placeholder != "" && !strings.Contains(strings.ToLower(n.Placeholder), strings.ToLower(q.Placeholder)) {
		return false
	}
	if !q.Text.IsZero() && !q.Text.Matches(textContent(n)) {
		return false
	}
	if q.Role == "" && q.Placeholder == "" {
		if q.Text.IsZero() {
			return false
		}
		// Text-only queries bind the innermost element carrying the text.
		for _, c := range n.Children {
			if q.Text.Matches(textContent(c)) {
				return false
			}
		}
	}
	return true
}

func sortByIndex(es []entry) {
	for i := 1; i < len(es); i++ {
		for j := i; j > 0 && es[j].index < es[j-1].index; j-- {
			es[j], es[j-1] = es[j-1], es[j]
		}
	}
}

type snapshotHandle struct {
	snap  *Snapshot
	query ElementQuery
}

func (h snapshotHandle) Query() ElementQuery { return h.query }

// NodeIDs returns the IDs of every matching node, for identity checks in tests.
func (h snapshotHandle) NodeIDs() []string {
	h.snap.mu.RLock()
	defer h.snap.mu.RUnlock()
	var ids []string
	for _, e := range h.snap.match(h.query) {
		ids = append(ids, e.node.ID)
	}
	return ids
}

func (h snapshotHandle) bound() (entry, bool) {
	es := h.snap.match(h.query)
	if h.query.Ordinal >= len(es) {
		return entry{}, false
	}
	return es[h.query.Ordinal], true
}

func (h snapshotHandle) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	h.snap.mu.RLock()
	defer h.snap.mu.RUnlock()
	return len(h.snap.match(h.query)), nil
}

func (h snapshotHandle) Visible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	h.snap.mu.RLock()
	defer h.snap.mu.RUnlock()
	e, ok := h.bound()
	return ok && !e.hidden, nil
}

func (h snapshotHandle) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h.snap.mu.RLock()
	defer h.snap.mu.RUnlock()
	e, ok := h.bound()
	if !ok {
		return "", NoMatch(h.query, "text")
	}
	return textContent(e.node), nil
}

func (h snapshotHandle) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	h.snap.mu.RLock()
	defer h.snap.mu.RUnlock()
	e, ok := h.bound()
	if !ok {
		return "", false, NoMatch(h.query, "attribute")
	}
	v, present := e.node.Attrs[name]
	return v, present, nil
}

func (h snapshotHandle) Disabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	h.snap.mu.RLock()
	defer h.snap.mu.RUnlock()
	e, ok := h.bound()
	if !ok {
		return false, NoMatch(h.query, "disabled")
	}
	_, attr := e.node.Attrs["disabled"]
	return e.node.Disabled || attr, nil
}

func (h snapshotHandle) act(ctx context.Context, kind, value string, force bool, apply func(n *Node)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.snap.mu.RLock()
	e, ok := h.bound()
	h.snap.mu.RUnlock()
	if !ok {
		return NoMatch(h.query, kind)
	}
	if !force && (e.hidden || e.node.Disabled) {
		return failure.New(failure.KindAction, "%s: %s is not actionable", kind, h.query)
	}
	h.snap.record(Action{Kind: kind, NodeID: e.node.ID, Value: value}, func() {
		if apply != nil {
			apply(e.node)
		}
	})
	return nil
}

func (h snapshotHandle) Click(ctx context.Context, opts ...ClickOption) error {
	o := ApplyClickOptions(opts...)
	return h.act(ctx, "click", "", o.Force, nil)
}

func (h snapshotHandle) Fill(ctx context.Context, value string) error {
	return h.act(ctx, "fill", value, false, func(n *Node) {
		setAttr(n, "value", value)
	})
}

func (h snapshotHandle) Type(ctx context.Context, value string, delay time.Duration) error {
	return h.act(ctx, "type", value, false, func(n *Node) {
		setAttr(n, "value", n.Attrs["value"]+value)
	})
}

func (h snapshotHandle) Press(ctx context.Context, key string) error {
	return h.act(ctx, "press", key, false, nil)
}

func setAttr(n *Node, k, v string) {
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[k] = v
}

func (h snapshotHandle) String() string {
	return fmt.Sprintf("snapshot(%s)", h.query)
}
