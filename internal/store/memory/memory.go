// Package memory provides an ephemeral, thread-safe implementation of
// the store.Store interface. It backs the default configuration and the
// test suites; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pipewatch/pipewatch/internal/model"
	"github.com/pipewatch/pipewatch/internal/store"
)

// Store keeps records in maps under a single RWMutex. Run history is
// additionally indexed per repository in insertion order, which is
// creation order because the scheduler saves a run before it starts.
type Store struct {
	mu     sync.RWMutex
	runs   map[uuid.UUID]model.RunRecord
	order  []uuid.UUID
	byRepo map[string][]uuid.UUID
	regs   map[string]store.Registration
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		runs:   make(map[uuid.UUID]model.RunRecord),
		byRepo: make(map[string][]uuid.UUID),
		regs:   make(map[string]store.Registration),
	}
}

func (s *Store) SaveRun(_ context.Context, rec model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.runs[rec.ID]; !seen {
		s.order = append(s.order, rec.ID)
		s.byRepo[rec.Repo] = append(s.byRepo[rec.Repo], rec.ID)
	}
	s.runs[rec.ID] = rec
	return nil
}

func (s *Store) Run(_ context.Context, id uuid.UUID) (model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) Runs(_ context.Context, repo string, limit int) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order
	if repo != "" {
		ids = s.byRepo[repo]
	}
	records := make([]model.RunRecord, 0, len(ids))
	// Newest first.
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(records) == limit {
			break
		}
		records = append(records, s.runs[ids[i]])
	}
	return records, nil
}

func (s *Store) SaveRegistration(_ context.Context, reg store.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[reg.Repo] = reg
	return nil
}

func (s *Store) Registration(_ context.Context, repo string) (store.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.regs[repo]
	if !ok {
		return store.Registration{}, store.ErrNotFound
	}
	return reg, nil
}

func (s *Store) DeleteRegistration(_ context.Context, repo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regs[repo]; !ok {
		return store.ErrNotFound
	}
	delete(s.regs, repo)
	return nil
}

func (s *Store) Registrations(_ context.Context) ([]store.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	regs := make([]store.Registration, 0, len(s.regs))
	for _, reg := range s.regs {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Repo < regs[j].Repo })
	return regs, nil
}

func (s *Store) Close() error { return nil }
