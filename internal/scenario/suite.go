package scenario

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
)

// Suite is an ordered registry of scenarios.
type Suite struct {
	mu        sync.RWMutex
	scenarios []Scenario
	index     map[string]int
}

func NewSuite() *Suite {
	return &Suite{index: make(map[string]int)}
}

// Register appends scenarios in order. Names must be unique and every
// scenario needs at least one step.
func (s *Suite) Register(scs ...Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range scs {
		if sc.Name == "" {
			return failure.New(failure.KindConfig, "scenario without a name")
		}
		if _, dup := s.index[sc.Name]; dup {
			return failure.New(failure.KindConfig, "scenario %q registered twice", sc.Name)
		}
		if len(sc.Steps) == 0 {
			return failure.New(failure.KindConfig, "scenario %q has no steps", sc.Name)
		}
		s.index[sc.Name] = len(s.scenarios)
		s.scenarios = append(s.scenarios, sc)
	}
	return nil
}

// MustRegister is Register that panics, for package-level suite definitions.
func (s *Suite) MustRegister(scs ...Scenario) {
	if err := s.Register(scs...); err != nil {
		panic(err)
	}
}

// Scenarios returns the registered scenarios in registration order.
func (s *Suite) Scenarios() []Scenario {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Scenario(nil), s.scenarios...)
}

// Filter selects scenarios. Empty fields select everything.
type Filter struct {
	Tags  []string
	Names []string
}

// Select returns the scenarios matching f in registration order. A scenario
// matches when it carries any of the tags and, if names are given, is named.
func (s *Suite) Select(f Filter) ([]Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make(map[string]bool, len(f.Names))
	for _, n := range f.Names {
		if _, ok := s.index[n]; !ok {
			return nil, failure.New(failure.KindConfig, "unknown scenario %q", n)
		}
		names[n] = true
	}

	var out []Scenario
	for _, sc := range s.scenarios {
		if len(names) > 0 && !names[sc.Name] {
			continue
		}
		if len(f.Tags) > 0 && !hasAnyTag(sc, f.Tags) {
			continue
		}
		out = append(out, sc)
	}
	return out, nil
}

func hasAnyTag(sc Scenario, tags []string) bool {
	for _, t := range tags {
		if sc.HasTag(t) {
			return true
		}
	}
	return false
}

// Chains groups scenarios connected through fixtures. Members of a chain keep
// their relative order and must run serially; separate chains share nothing.
func Chains(scs []Scenario) [][]Scenario {
	parent := make([]int, len(scs))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	owner := make(map[string]int)
	link := func(i int, keys []string) {
		for _, k := range keys {
			if j, ok := owner[k]; ok {
				union(i, j)
			} else {
				owner[k] = i
			}
		}
	}
	for i, sc := range scs {
		link(i, sc.Publishes)
		link(i, sc.Requires)
	}

	var chains [][]Scenario
	slot := make(map[int]int)
	for i, sc := range scs {
		r := find(i)
		idx, ok := slot[r]
		if !ok {
			idx = len(chains)
			slot[r] = idx
			chains = append(chains, nil)
		}
		chains[idx] = append(chains[idx], sc)
	}
	return chains
}

// Run executes the selected scenarios. Chains run concurrently, at most
// parallel at a time; scenarios within a chain run in registration order.
// Once a chain member aborts, the rest of its chain is skipped. Results come
// back in registration order.
func (s *Suite) Run(ctx context.Context, o *Orchestrator, f Filter, parallel int) ([]Result, error) {
	selected, err := s.Select(f)
	if err != nil {
		return nil, err
	}
	if parallel < 1 {
		parallel = 1
	}

	pos := make(map[string]int, len(selected))
	for i, sc := range selected {
		pos[sc.Name] = i
	}
	results := make([]Result, len(selected))

	var g errgroup.Group
	g.SetLimit(parallel)
	for _, chain := range Chains(selected) {
		chain := chain
		g.Go(func() error {
			aborted := ""
			for _, sc := range chain {
				if aborted != "" {
					results[pos[sc.Name]] = o.Skip(sc, aborted)
					continue
				}
				res := o.Run(ctx, sc)
				results[pos[sc.Name]] = res
				if res.State == StateAborted {
					aborted = sc.Name
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
