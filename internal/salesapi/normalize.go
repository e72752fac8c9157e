package salesapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// The café API has grown several spellings for the same fields over time
// (total vs total_price, productName vs product_name, bare ids vs nested
// objects). Everything below absorbs those variants; only the canonical
// types in types.go leave this file.

// flexInt accepts a JSON number, a numeric string or null.
type flexInt struct {
	Value int64
	Valid bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some endpoints serialize integral ids as 12.0.
		d, derr := decimal.NewFromString(s)
		if derr != nil || !d.IsInteger() {
			return fmt.Errorf("invalid integer %s", b)
		}
		n = d.IntPart()
	}
	f.Value, f.Valid = n, true
	return nil
}

// ref is a reference to another record: either a bare id or an embedded
// object carrying at least an id.
type ref struct {
	flexInt
	Name  string
	Price *decimal.Decimal
}

func (r *ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			ID    flexInt          `json:"id"`
			Name  string           `json:"name"`
			Price *decimal.Decimal `json:"price"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		r.flexInt = obj.ID
		r.Name = obj.Name
		r.Price = obj.Price
		return nil
	}
	return r.flexInt.UnmarshalJSON(b)
}

// flexString accepts a string, a number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	*f = flexString(s)
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// flexTime accepts RFC 3339 and the zone-less layouts the API emits.
type flexTime struct {
	time.Time
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil || s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			f.Time = t
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

type wireItem struct {
	ProductID      ref              `json:"product_id"`
	ProductIDCamel ref              `json:"productId"`
	Product        ref              `json:"product"`
	ProductName    string           `json:"product_name"`
	ProductNameAlt string           `json:"productName"`
	Name           string           `json:"name"`
	Quantity       flexInt          `json:"quantity"`
	Qty            flexInt          `json:"qty"`
	Price          *decimal.Decimal `json:"price"`
	UnitPrice      *decimal.Decimal `json:"unit_price"`
	UnitPriceCamel *decimal.Decimal `json:"unitPrice"`
}

func (w wireItem) normalize() SaleItem {
	product := firstRef(w.ProductID, w.ProductIDCamel, w.Product)
	item := SaleItem{
		ProductID:   product.Value,
		ProductName: firstString(w.ProductName, w.ProductNameAlt, product.Name, w.Name),
		Quantity:    1,
	}
	if q := firstInt(w.Quantity, w.Qty); q.Valid {
		item.Quantity = int(q.Value)
	}
	if p := firstDecimal(w.UnitPrice, w.UnitPriceCamel, w.Price, product.Price); p != nil {
		item.UnitPrice = *p
	}
	return item
}

type wireSale struct {
	ID                 flexInt          `json:"id"`
	Items              []wireItem       `json:"items"`
	SaleItems          []wireItem       `json:"sale_items"`
	TotalPrice         *decimal.Decimal `json:"total_price"`
	TotalPriceCamel    *decimal.Decimal `json:"totalPrice"`
	Total              *decimal.Decimal `json:"total"`
	PaymentMethod      string           `json:"payment_method"`
	PaymentMethodCamel string           `json:"paymentMethod"`
	IsSettled          *bool            `json:"is_settled"`
	IsSettledCamel     *bool            `json:"isSettled"`
	RoomNo             flexString       `json:"room_no"`
	RoomNoCamel        flexString       `json:"roomNo"`
	CustomerID         ref              `json:"customer_id"`
	CustomerIDCamel    ref              `json:"customerId"`
	Customer           ref              `json:"customer"`
	CustomerName       string           `json:"customer_name"`
	CustomerNameCamel  string           `json:"customerName"`
	Timestamp          flexTime         `json:"timestamp"`
	CreatedAt          flexTime         `json:"created_at"`
	CreatedAtCamel     flexTime         `json:"createdAt"`
}

func (w wireSale) normalize() Sale {
	s := Sale{
		ID:            w.ID.Value,
		PaymentMethod: strings.ToLower(firstString(w.PaymentMethod, w.PaymentMethodCamel)),
		RoomNo:        strings.TrimSpace(firstString(string(w.RoomNo), string(w.RoomNoCamel))),
	}

	raw := w.Items
	if len(raw) == 0 {
		raw = w.SaleItems
	}
	s.Items = make([]SaleItem, 0, len(raw))
	for _, it := range raw {
		s.Items = append(s.Items, it.normalize())
	}

	if total := firstDecimal(w.TotalPrice, w.TotalPriceCamel, w.Total); total != nil {
		s.TotalPrice = *total
	} else {
		for _, it := range s.Items {
			s.TotalPrice = s.TotalPrice.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	}

	if w.IsSettled != nil {
		s.IsSettled = *w.IsSettled
	} else if w.IsSettledCamel != nil {
		s.IsSettled = *w.IsSettledCamel
	}

	customer := firstRef(w.CustomerID, w.CustomerIDCamel, w.Customer)
	if customer.Valid {
		id := customer.Value
		s.CustomerID = &id
	}
	s.CustomerName = firstString(w.CustomerName, w.CustomerNameCamel, customer.Name)

	for _, t := range []flexTime{w.Timestamp, w.CreatedAt, w.CreatedAtCamel} {
		if !t.IsZero() {
			s.CreatedAt = t.Time
			break
		}
	}
	return s
}

type wireCustomer struct {
	ID              flexInt          `json:"id"`
	Name            string           `json:"name"`
	FullName        string           `json:"full_name"`
	Phone           flexString       `json:"phone"`
	Balance         *decimal.Decimal `json:"balance"`
	CardRefID       flexString       `json:"cardRefId"`
	CardRefIDSnake  flexString       `json:"card_ref_id"`
	CardNumber      flexString       `json:"card_number"`
	CardNumberCamel flexString       `json:"cardNumber"`
	RFIDNo          flexString       `json:"rfid_no"`
	RFIDNoCamel     flexString       `json:"rfidNo"`
	RFID            flexString       `json:"rfid"`
}

func (w wireCustomer) normalize() Customer {
	c := Customer{
		ID:         w.ID.Value,
		Name:       firstString(w.Name, w.FullName),
		Phone:      string(w.Phone),
		CardRefID:  strings.TrimSpace(firstString(string(w.CardRefID), string(w.CardRefIDSnake))),
		CardNumber: strings.TrimSpace(firstString(string(w.CardNumber), string(w.CardNumberCamel))),
		RFIDNo:     strings.TrimSpace(firstString(string(w.RFIDNo), string(w.RFIDNoCamel), string(w.RFID))),
	}
	if w.Balance != nil {
		c.Balance = *w.Balance
	}
	return c
}

type wireProduct struct {
	ID          flexInt          `json:"id"`
	Name        string           `json:"name"`
	ProductName string           `json:"product_name"`
	Price       *decimal.Decimal `json:"price"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
}

func (w wireProduct) normalize() Product {
	p := Product{ID: w.ID.Value, Name: firstString(w.Name, w.ProductName)}
	if price := firstDecimal(w.Price, w.UnitPrice); price != nil {
		p.Price = *price
	}
	return p
}

type wireFailed struct {
	SaleID  ref    `json:"sale_id"`
	ID      ref    `json:"id"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type wireBatchResult struct {
	SettledCount *int         `json:"settled_count"`
	FailedCount  *int         `json:"failed_count"`
	Settled      []ref        `json:"settled_sales"`
	Failed       []wireFailed `json:"failed_sales"`
}

func (w wireBatchResult) normalize() BatchResult {
	r := BatchResult{
		Settled: make([]int64, 0, len(w.Settled)),
		Failed:  make([]FailedSale, 0, len(w.Failed)),
	}
	for _, s := range w.Settled {
		if s.Valid {
			r.Settled = append(r.Settled, s.Value)
		}
	}
	for _, f := range w.Failed {
		id := firstRef(f.SaleID, f.ID)
		if !id.Valid {
			continue
		}
		r.Failed = append(r.Failed, FailedSale{SaleID: id.Value, Error: firstString(f.Error, f.Message)})
	}
	r.SettledCount = len(r.Settled)
	if w.SettledCount != nil {
		r.SettledCount = *w.SettledCount
	}
	r.FailedCount = len(r.Failed)
	if w.FailedCount != nil {
		r.FailedCount = *w.FailedCount
	}
	return r
}

// decodeList decodes either a bare JSON array or a paginated envelope
// ({"results": [...]}, {"data": [...]}).
func decodeList[W any](body []byte) ([]W, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var env struct {
			Results json.RawMessage `json:"results"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, err
		}
		switch {
		case len(env.Results) > 0:
			body = env.Results
		case len(env.Data) > 0:
			body = env.Data
		default:
			return nil, fmt.Errorf("unexpected list envelope")
		}
	}
	var out []W
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeObject decodes a single record, unwrapping {"data": {...}} or
// {"sale": {...}} envelopes.
func decodeObject[W any](body []byte, envelopeKeys ...string) (W, error) {
	var out W
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err == nil {
		for _, k := range envelopeKeys {
			if inner, ok := env[k]; ok && len(inner) > 0 && inner[0] == '{' {
				body = inner
				break
			}
		}
	}
	err := json.Unmarshal(body, &out)
	return out, err
}

// DecodeSales normalizes a pending-sales payload.
func DecodeSales(body []byte) ([]Sale, error) {
	wire, err := decodeList[wireSale](body)
	if err != nil {
		return nil, fmt.Errorf("decode sales: %w", err)
	}
	sales := make([]Sale, 0, len(wire))
	for _, w := range wire {
		sales = append(sales, w.normalize())
	}
	return sales, nil
}

// DecodeSale normalizes a single sale payload.
func DecodeSale(body []byte) (Sale, error) {
	w, err := decodeObject[wireSale](body, "data", "sale")
	if err != nil {
		return Sale{}, fmt.Errorf("decode sale: %w", err)
	}
	return w.normalize(), nil
}

// DecodeCustomers normalizes a customer list payload.
func DecodeCustomers(body []byte) ([]Customer, error) {
	wire, err := decodeList[wireCustomer](body)
	if err != nil {
		return nil, fmt.Errorf("decode customers: %w", err)
	}
	out := make([]Customer, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.normalize())
	}
	return out, nil
}

// DecodeProducts normalizes a product list payload.
func DecodeProducts(body []byte) ([]Product, error) {
	wire, err := decodeList[wireProduct](body)
	if err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	out := make([]Product, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.normalize())
	}
	return out, nil
}

// DecodeBatchResult normalizes a batch settlement response.
func DecodeBatchResult(body []byte) (BatchResult, error) {
	w, err := decodeObject[wireBatchResult](body, "data")
	if err != nil {
		return BatchResult{}, fmt.Errorf("decode batch result: %w", err)
	}
	return w.normalize(), nil
}

// --- Helpers ---

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstRef(refs ...ref) ref {
	for _, r := range refs {
		if r.Valid {
			return r
		}
	}
	return ref{}
}

func firstInt(vals ...flexInt) flexInt {
	for _, v := range vals {
		if v.Valid {
			return v
		}
	}
	return flexInt{}
}

func firstDecimal(vals ...*decimal.Decimal) *decimal.Decimal {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
