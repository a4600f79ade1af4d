package scenario

import (
	"sort"
	"sync"

	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
)

// FixtureStore is the process-wide, append-only store scenarios use to hand
// values (such as a created shot name) to later scenarios. A key is written
// once and read-only afterwards.
type FixtureStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewFixtureStore() *FixtureStore {
	return &FixtureStore{values: make(map[string]string)}
}

// Publish stores value under key. Publishing an existing key fails.
func (s *FixtureStore) Publish(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return failure.New(failure.KindSetupFailure, "fixture %q already published", key)
	}
	s.values[key] = value
	return nil
}

// Get returns the value published under key.
func (s *FixtureStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Require fails with MissingFixture naming the first absent key.
func (s *FixtureStore) Require(keys ...string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range keys {
		if _, ok := s.values[k]; !ok {
			return failure.New(failure.KindMissingFixture, "fixture %q has not been published", k)
		}
	}
	return nil
}

// Snapshot returns a copy of every published fixture.
func (s *FixtureStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Keys returns the published keys sorted.
func (s *FixtureStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
