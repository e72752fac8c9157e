// Package receipt builds, renders and prints the customer receipt for a
// single settled sale.
package receipt

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cafe-pos/terminal/internal/salesapi"
)

// Header is the shop block printed at the top of every receipt.
type Header struct {
	ShopName string `json:"shop_name"`
	Address  string `json:"address,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Item is one printed line.
type Item struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Receipt is a printable projection of a settled sale. It is never sent back
// to the API.
type Receipt struct {
	Header        Header          `json:"header"`
	SaleID        int64           `json:"sale_id"`
	RoomNo        string          `json:"room_no,omitempty"`
	Items         []Item          `json:"items"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	CustomerName  string          `json:"customer_name,omitempty"`
	Cashier       string          `json:"cashier,omitempty"`
	SettledAt     time.Time       `json:"settled_at"`
}

// ProductLookup resolves catalog names and prices.
type ProductLookup interface {
	Name(id int64) (string, bool)
	Price(id int64) (decimal.Decimal, bool)
}

// Build projects a settled sale into a Receipt. Item names and prices come
// from the sale when present and from products otherwise; products missing
// from both render as "Product #<id>".
func Build(sale salesapi.Sale, method string, customer *salesapi.Customer, products ProductLookup, settledAt time.Time, header Header) Receipt {
	r := Receipt{
		Header:        header,
		SaleID:        sale.ID,
		RoomNo:        sale.RoomNo,
		Items:         make([]Item, 0, len(sale.Items)),
		Total:         sale.TotalPrice,
		PaymentMethod: method,
		CustomerName:  sale.CustomerName,
		SettledAt:     settledAt,
	}
	if customer != nil {
		r.CustomerName = customer.Name
	}

	for _, it := range sale.Items {
		item := Item{
			ProductID: it.ProductID,
			Name:      it.ProductName,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
		if item.Name == "" && products != nil {
			item.Name, _ = products.Name(it.ProductID)
		}
		if item.Name == "" {
			item.Name = fmt.Sprintf("Product #%d", it.ProductID)
		}
		if item.UnitPrice.IsZero() && products != nil {
			if p, ok := products.Price(it.ProductID); ok {
				item.UnitPrice = p
			}
		}
		item.LineTotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		r.Items = append(r.Items, item)
	}
	return r
}

// FileName is the name used when printing or archiving the receipt.
func (r Receipt) FileName() string {
	return fmt.Sprintf("receipt-%d.pdf", r.SaleID)
}
