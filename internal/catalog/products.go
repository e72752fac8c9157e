package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cafe-pos/terminal/internal/salesapi"
)

// ProductSource is the subset of the API client the product catalog needs.
type ProductSource interface {
	ListProducts(ctx context.Context) ([]salesapi.Product, error)
}

// ProductCatalog resolves product ids to names and prices for receipts.
type ProductCatalog struct {
	mu       sync.RWMutex
	source   ProductSource
	products map[int64]salesapi.Product
}

func NewProductCatalog(source ProductSource) *ProductCatalog {
	return &ProductCatalog{
		source:   source,
		products: make(map[int64]salesapi.Product),
	}
}

// Refresh reloads the catalog. On error the previous contents are kept.
func (c *ProductCatalog) Refresh(ctx context.Context) error {
	list, err := c.source.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	next := make(map[int64]salesapi.Product, len(list))
	for _, p := range list {
		next[p.ID] = p
	}
	c.mu.Lock()
	c.products = next
	c.mu.Unlock()
	return nil
}

// Name returns the product name, or false if the id is not in the catalog.
func (c *ProductCatalog) Name(id int64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok || p.Name == "" {
		return "", false
	}
	return p.Name, true
}

func (c *ProductCatalog) Price(id int64) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	return p.Price, ok
}

func (c *ProductCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.products)
}
