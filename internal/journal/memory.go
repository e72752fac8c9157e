package journal

import (
	"context"
	"sort"
	"sync"

	"github.com/cafe-pos/terminal/internal/receipt"
)

// MemoryStore is the journal used when no database is configured. Receipts
// are kept only until the terminal restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int64]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int64]Entry)}
}

func (s *MemoryStore) Save(_ context.Context, r receipt.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[r.SaleID]
	e.Receipt = r
	s.entries[r.SaleID] = e
	return nil
}

func (s *MemoryStore) Get(_ context.Context, saleID int64) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[saleID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) MarkPrinted(_ context.Context, saleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[saleID]
	if !ok {
		return ErrNotFound
	}
	e.PrintedCount++
	s.entries[saleID] = e
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Receipt.SettledAt.After(out[j].Receipt.SettledAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
