package receipt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cafe-pos/terminal/internal/salesapi"
)

type mockProducts struct {
	names  map[int64]string
	prices map[int64]decimal.Decimal
}

func (m *mockProducts) Name(id int64) (string, bool) {
	n, ok := m.names[id]
	return n, ok
}

func (m *mockProducts) Price(id int64) (decimal.Decimal, bool) {
	p, ok := m.prices[id]
	return p, ok
}

func testSale() salesapi.Sale {
	return salesapi.Sale{
		ID:         42,
		RoomNo:     "12B",
		TotalPrice: decimal.NewFromInt(460),
		Items: []salesapi.SaleItem{
			{ProductID: 7, ProductName: "Latte", Quantity: 2, UnitPrice: decimal.NewFromInt(150)},
			{ProductID: 9, Quantity: 1},
			{ProductID: 11, Quantity: 1, UnitPrice: decimal.NewFromInt(0)},
		},
		CustomerName: "Walk-in",
	}
}

func TestBuild(t *testing.T) {
	products := &mockProducts{
		names:  map[int64]string{9: "Brownie"},
		prices: map[int64]decimal.Decimal{9: decimal.NewFromInt(160)},
	}
	settledAt := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	header := Header{ShopName: "Café"}

	r := Build(testSale(), "cash", nil, products, settledAt, header)

	if r.SaleID != 42 || r.RoomNo != "12B" || r.PaymentMethod != "cash" || !r.SettledAt.Equal(settledAt) {
		t.Errorf("receipt = %+v", r)
	}
	if r.CustomerName != "Walk-in" {
		t.Errorf("customer = %q", r.CustomerName)
	}
	if !r.Total.Equal(decimal.NewFromInt(460)) {
		t.Errorf("total = %s", r.Total)
	}
	if len(r.Items) != 3 {
		t.Fatalf("items = %d", len(r.Items))
	}

	latte := r.Items[0]
	if latte.Name != "Latte" || !latte.LineTotal.Equal(decimal.NewFromInt(300)) {
		t.Errorf("latte = %+v", latte)
	}
	brownie := r.Items[1]
	if brownie.Name != "Brownie" || !brownie.UnitPrice.Equal(decimal.NewFromInt(160)) {
		t.Errorf("brownie = %+v", brownie)
	}
	unknown := r.Items[2]
	if unknown.Name != "Product #11" || !unknown.LineTotal.IsZero() {
		t.Errorf("unknown product = %+v", unknown)
	}
}

func TestBuild_CardCustomerName(t *testing.T) {
	customer := &salesapi.Customer{ID: 1, Name: "Sara"}
	r := Build(testSale(), "card", customer, nil, time.Now(), Header{})
	if r.CustomerName != "Sara" {
		t.Errorf("customer = %q, want Sara", r.CustomerName)
	}
	if r.Items[1].Name != "Product #9" {
		t.Errorf("nil catalog should fall back to id, got %q", r.Items[1].Name)
	}
}

func TestBuild_IsPure(t *testing.T) {
	sale := testSale()
	Build(sale, "cash", nil, nil, time.Now(), Header{})
	if sale.Items[1].ProductName != "" {
		t.Error("Build must not modify the sale")
	}
}

func TestRenderPDF(t *testing.T) {
	r := Build(testSale(), "easypaisa", nil, nil, time.Now(), Header{ShopName: "Café Luna", Address: "Mall Road", Phone: "0300"})
	pdf, err := RenderPDF(r)
	if err != nil {
		t.Fatalf("RenderPDF: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Errorf("output is not a PDF: %q", pdf[:8])
	}
	if r.FileName() != "receipt-42.pdf" {
		t.Errorf("file name = %q", r.FileName())
	}
}

func TestHTTPPrinter(t *testing.T) {
	var got printRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/print-pdf" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(printResponse{Success: true})
	}))
	defer srv.Close()

	p := NewHTTPPrinter(srv.URL + "/")
	if err := p.Print(context.Background(), "receipt-1.pdf", []byte("%PDF-1.3")); err != nil {
		t.Fatalf("Print: %v", err)
	}
	if got.FileName != "receipt-1.pdf" || got.Copies != 1 {
		t.Errorf("request = %+v", got)
	}
	data, _ := base64.StdEncoding.DecodeString(got.Data)
	if string(data) != "%PDF-1.3" {
		t.Errorf("data = %q", data)
	}
}

func TestHTTPPrinter_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(printResponse{Success: false, Message: "out of paper"})
	}))
	defer srv.Close()

	err := NewHTTPPrinter(srv.URL).Print(context.Background(), "r.pdf", nil)
	if err == nil || !strings.Contains(err.Error(), "out of paper") {
		t.Errorf("err = %v", err)
	}
}

func TestNopPrinter(t *testing.T) {
	var p Printer = NopPrinter{}
	if err := p.Print(context.Background(), "r.pdf", nil); err != nil {
		t.Errorf("err = %v", err)
	}
}
