package environment

import (
	"sort"
	"sync"
)

// Store is the in-memory registry of live environments. An environment is
// inserted only after its setup fully succeeds and removed before its sandbox
// is destroyed, so every stored environment is usable.
type Store struct {
	mu   sync.RWMutex
	envs map[string]*Environment
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{envs: make(map[string]*Environment)}
}

// Put registers an environment under its ID.
func (s *Store) Put(env *Environment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs[env.ID] = env
}

// Get returns the environment for id.
func (s *Store) Get(id string) (*Environment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.envs[id]
	return env, ok
}

// Delete removes and returns the environment for id.
func (s *Store) Delete(id string) (*Environment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envs[id]
	if ok {
		delete(s.envs, id)
	}
	return env, ok
}

// List returns all environments ordered by creation time, oldest first.
func (s *Store) List() []*Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	envs := make([]*Environment, 0, len(s.envs))
	for _, env := range s.envs {
		envs = append(envs, env)
	}
	sort.Slice(envs, func(i, j int) bool {
		return envs[i].CreatedAt.Before(envs[j].CreatedAt)
	})
	return envs
}

// Len returns the number of live environments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.envs)
}
