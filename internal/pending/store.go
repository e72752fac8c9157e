// Package pending keeps the terminal's copy of unsettled pending sales and
// the operator's current selection.
package pending

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cafe-pos/terminal/internal/enum"
	"github.com/cafe-pos/terminal/internal/metrics"
	"github.com/cafe-pos/terminal/internal/salesapi"
)

// ErrUnknownSale is returned when an id is not in the pending list.
var ErrUnknownSale = errors.New("sale is not pending")

// SalesSource loads pending sales from the API.
type SalesSource interface {
	ListPending(ctx context.Context) ([]salesapi.Sale, error)
}

// Notifier receives transient notices and change events.
type Notifier interface {
	Notify(level, message string)
	Publish(topic, eventType string, payload any)
}

// Filter narrows the pending view. Zero values match everything.
type Filter struct {
	CustomerID *int64
	Room       string
}

// Entry is a pending sale as shown in the list.
type Entry struct {
	salesapi.Sale
	Selected   bool   `json:"selected"`
	BatchError string `json:"batch_error,omitempty"`
}

// Update is the payload of a pending.updated event.
type Update struct {
	Count         int             `json:"count"`
	Selected      []int64         `json:"selected"`
	SelectedTotal decimal.Decimal `json:"selected_total"`
}

// Store is the pending-sales list plus selection. Safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	source      SalesSource
	notifier    Notifier
	sales       []salesapi.Sale
	index       map[int64]int
	selected    map[int64]bool
	annotations map[int64]string
	// settled ids never re-enter the list, even if a stale load returns them
	settled map[int64]bool
}

func NewStore(source SalesSource, notifier Notifier) *Store {
	return &Store{
		source:      source,
		notifier:    notifier,
		index:       make(map[int64]int),
		selected:    make(map[int64]bool),
		annotations: make(map[int64]string),
		settled:     make(map[int64]bool),
	}
}

// Load replaces the list with the API's current pending sales. On failure
// the previous list is kept and the operator is notified.
func (s *Store) Load(ctx context.Context) error {
	sales, err := s.source.ListPending(ctx)
	if err != nil {
		log.Printf("ERROR: load pending sales: %v", err)
		s.notifier.Notify(enum.NoticeError, "Could not load pending sales: "+err.Error())
		return fmt.Errorf("load pending sales: %w", err)
	}

	s.mu.Lock()
	s.sales = s.sales[:0:0]
	s.index = make(map[int64]int, len(sales))
	returned := make(map[int64]bool, len(sales))
	for _, sale := range sales {
		returned[sale.ID] = true
		if sale.IsSettled || sale.PaymentMethod != enum.PaymentMethodPending || s.settled[sale.ID] {
			continue
		}
		if _, dup := s.index[sale.ID]; dup {
			continue
		}
		s.index[sale.ID] = len(s.sales)
		s.sales = append(s.sales, sale)
	}
	// Once the API stops listing a settled id its tombstone is no longer needed.
	for id := range s.settled {
		if !returned[id] {
			delete(s.settled, id)
		}
	}
	for id := range s.selected {
		if _, ok := s.index[id]; !ok {
			delete(s.selected, id)
		}
	}
	for id := range s.annotations {
		if _, ok := s.index[id]; !ok {
			delete(s.annotations, id)
		}
	}
	update := s.updateLocked()
	s.mu.Unlock()

	s.publish(update)
	return nil
}

// Filter returns the entries matching f, in list order.
func (s *Store) Filter(f Filter) []Entry {
	room := strings.ToLower(strings.TrimSpace(f.Room))

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.sales))
	for _, sale := range s.sales {
		if f.CustomerID != nil && (sale.CustomerID == nil || *sale.CustomerID != *f.CustomerID) {
			continue
		}
		if room != "" && !strings.Contains(strings.ToLower(sale.RoomNo), room) {
			continue
		}
		out = append(out, Entry{
			Sale:       sale,
			Selected:   s.selected[sale.ID],
			BatchError: s.annotations[sale.ID],
		})
	}
	return out
}

// Get returns a pending sale by id.
func (s *Store) Get(id int64) (salesapi.Sale, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return salesapi.Sale{}, false
	}
	return s.sales[i], true
}

// Lookup returns the pending sales for ids in the given order, or
// ErrUnknownSale if any is missing.
func (s *Store) Lookup(ids []int64) ([]salesapi.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]salesapi.Sale, 0, len(ids))
	for _, id := range ids {
		i, ok := s.index[id]
		if !ok {
			return nil, fmt.Errorf("sale %d: %w", id, ErrUnknownSale)
		}
		out = append(out, s.sales[i])
	}
	return out, nil
}

// Remove drops settled sales from the list and the selection. Removed ids
// are remembered so a later Load cannot bring them back.
func (s *Store) Remove(ids []int64) {
	if len(ids) == 0 {
		return
	}

	s.mu.Lock()
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		s.settled[id] = true
		delete(s.selected, id)
		delete(s.annotations, id)
	}
	kept := s.sales[:0]
	for _, sale := range s.sales {
		if !drop[sale.ID] {
			kept = append(kept, sale)
		}
	}
	s.sales = kept
	s.reindexLocked()
	update := s.updateLocked()
	s.mu.Unlock()

	s.publish(update)
}

// Annotate attaches a batch failure message to a pending sale.
func (s *Store) Annotate(id int64, message string) {
	s.mu.Lock()
	if _, ok := s.index[id]; ok {
		s.annotations[id] = message
	}
	s.mu.Unlock()
}

// --- Selection ---

// Select adds ids to the selection. Nothing changes if any id is unknown.
func (s *Store) Select(ids ...int64) error {
	s.mu.Lock()
	for _, id := range ids {
		if _, ok := s.index[id]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("sale %d: %w", id, ErrUnknownSale)
		}
	}
	for _, id := range ids {
		s.selected[id] = true
	}
	update := s.updateLocked()
	s.mu.Unlock()

	s.publish(update)
	return nil
}

func (s *Store) Deselect(ids ...int64) {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.selected, id)
	}
	update := s.updateLocked()
	s.mu.Unlock()

	s.publish(update)
}

// Toggle flips the selection state of id and reports the new state.
func (s *Store) Toggle(id int64) (bool, error) {
	s.mu.Lock()
	if _, ok := s.index[id]; !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("sale %d: %w", id, ErrUnknownSale)
	}
	on := !s.selected[id]
	if on {
		s.selected[id] = true
	} else {
		delete(s.selected, id)
	}
	update := s.updateLocked()
	s.mu.Unlock()

	s.publish(update)
	return on, nil
}

func (s *Store) ClearSelection() {
	s.mu.Lock()
	s.selected = make(map[int64]bool)
	update := s.updateLocked()
	s.mu.Unlock()

	s.publish(update)
}

// Selection returns the selected ids in list order.
func (s *Store) Selection() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectionLocked()
}

// SelectedSales returns the selected sales in list order.
func (s *Store) SelectedSales() []salesapi.Sale {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]salesapi.Sale, 0, len(s.selected))
	for _, sale := range s.sales {
		if s.selected[sale.ID] {
			out = append(out, sale)
		}
	}
	return out
}

// SelectedTotal is the sum of total prices of the selected sales.
func (s *Store) SelectedTotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedTotalLocked()
}

// Len returns the number of pending sales.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sales)
}

// --- Internals ---

func (s *Store) reindexLocked() {
	s.index = make(map[int64]int, len(s.sales))
	for i, sale := range s.sales {
		s.index[sale.ID] = i
	}
}

func (s *Store) selectionLocked() []int64 {
	ids := make([]int64, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return s.index[ids[i]] < s.index[ids[j]] })
	return ids
}

func (s *Store) selectedTotalLocked() decimal.Decimal {
	total := decimal.Zero
	for id := range s.selected {
		total = total.Add(s.sales[s.index[id]].TotalPrice)
	}
	return total
}

func (s *Store) updateLocked() Update {
	return Update{
		Count:         len(s.sales),
		Selected:      s.selectionLocked(),
		SelectedTotal: s.selectedTotalLocked(),
	}
}

func (s *Store) publish(u Update) {
	metrics.PendingSales.Set(float64(u.Count))
	s.notifier.Publish(enum.TopicPending, enum.EventPendingUpdated, u)
}

// Sum returns the total price of sales.
func Sum(sales []salesapi.Sale) decimal.Decimal {
	total := decimal.Zero
	for _, s := range sales {
		total = total.Add(s.TotalPrice)
	}
	return total
}
