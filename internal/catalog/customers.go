// Package catalog caches the read-only reference data the terminal needs
// from the café API: customers (for card payments) and products (for
// receipts).
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cafe-pos/terminal/internal/salesapi"
)

// ErrCustomerNotFound is returned for unknown customer ids.
var ErrCustomerNotFound = errors.New("customer not found")

// CustomerSource is the subset of the API client the customer store needs.
type CustomerSource interface {
	ListCustomers(ctx context.Context) ([]salesapi.Customer, error)
}

// CustomerStore is an in-memory copy of the customer list. It never changes
// balances; a refresh after settlement picks up the API's new values.
type CustomerStore struct {
	mu          sync.RWMutex
	source      CustomerSource
	customers   map[int64]salesapi.Customer
	refreshedAt time.Time
}

func NewCustomerStore(source CustomerSource) *CustomerStore {
	return &CustomerStore{
		source:    source,
		customers: make(map[int64]salesapi.Customer),
	}
}

// Refresh replaces the cache with the API's current customer list. On error
// the previous contents are kept.
func (s *CustomerStore) Refresh(ctx context.Context) error {
	list, err := s.source.ListCustomers(ctx)
	if err != nil {
		return fmt.Errorf("list customers: %w", err)
	}

	next := make(map[int64]salesapi.Customer, len(list))
	for _, c := range list {
		next[c.ID] = c
	}

	s.mu.Lock()
	s.customers = next
	s.refreshedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// List returns the cached customers ordered by name, then id.
func (s *CustomerStore) List() []salesapi.Customer {
	s.mu.RLock()
	out := make([]salesapi.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *CustomerStore) Get(id int64) (salesapi.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return salesapi.Customer{}, ErrCustomerNotFound
	}
	return c, nil
}

// Resolve runs ResolveCard against the cached list.
func (s *CustomerStore) Resolve(token string) Match {
	return ResolveCard(s.List(), token)
}

// RefreshedAt is the time of the last successful refresh (zero if never).
func (s *CustomerStore) RefreshedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt
}
