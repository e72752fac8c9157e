// Package salesapi is the terminal's only door to the café API. Payloads are
// normalized into the types below as soon as they are decoded, so the rest of
// the terminal never sees field-name variants.
package salesapi

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sale is a sale record as the terminal understands it.
type Sale struct {
	ID            int64           `json:"id"`
	Items         []SaleItem      `json:"items"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	PaymentMethod string          `json:"payment_method"`
	IsSettled     bool            `json:"is_settled"`
	RoomNo        string          `json:"room_no"`
	CustomerID    *int64          `json:"customer_id"`
	CustomerName  string          `json:"customer_name,omitempty"`
	CreatedAt     time.Time       `json:"timestamp"`
}

// SaleItem is one line of a sale. ProductName and UnitPrice are filled only
// when the API embeds them; the product catalog is the fallback.
type SaleItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Customer is a read-only customer record.
type Customer struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Phone      string          `json:"phone,omitempty"`
	Balance    decimal.Decimal `json:"balance"`
	CardRefID  string          `json:"card_ref_id,omitempty"`
	CardNumber string          `json:"card_number,omitempty"`
	RFIDNo     string          `json:"rfid_no,omitempty"`
}

// Product is a read-only catalog entry.
type Product struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// SettleRequest is the body of PUT /sales/{id}/settle.
type SettleRequest struct {
	PaymentMethod string `json:"payment_method"`
	CustomerID    *int64 `json:"customer_id"`
}

// BatchSettleRequest is the body of POST /sales/settle-batch.
type BatchSettleRequest struct {
	SaleIDs       []int64 `json:"sale_ids"`
	PaymentMethod string  `json:"payment_method"`
	CustomerID    *int64  `json:"customer_id,omitempty"`
}

// BatchResult is the partitioned outcome of a batch settlement.
type BatchResult struct {
	SettledCount int          `json:"settled_count"`
	FailedCount  int          `json:"failed_count"`
	Settled      []int64      `json:"settled_sales"`
	Failed       []FailedSale `json:"failed_sales"`
}

// FailedSale is one sale the API refused to settle in a batch.
type FailedSale struct {
	SaleID int64  `json:"sale_id"`
	Error  string `json:"error"`
}
