package jobs

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the default process-wide Store.
type MemoryStore struct {
	lock    sync.RWMutex
	records map[string]Record
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return ErrJobExists
	}
	now := Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (rec Record, err error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		err = ErrJobNotFound
	}
	return
}

func (s *MemoryStore) Transition(_ context.Context, id string, update Update) (rec Record, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	rec, ok := s.records[id]
	if !ok {
		err = ErrJobNotFound
		return
	}
	if err = checkTransition(rec.Status, update.Status); err != nil {
		return
	}
	rec.Status = update.Status
	rec.Result = update.Result
	rec.Error = update.Error
	rec.UpdatedAt = Now()
	s.records[id] = rec
	return
}

func (s *MemoryStore) DeleteBefore(_ context.Context, t time.Time) (deleted int, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for id, rec := range s.records {
		if rec.Status.Terminal() && rec.UpdatedAt.Before(t) {
			delete(s.records, id)
			deleted++
		}
	}
	return
}

func (s *MemoryStore) Close() error {
	return nil
}
