// Package salesapitest provides an in-memory stand-in for the café API. It
// speaks the same endpoints and, deliberately, the older payload spellings
// (total, productName, customerId, paginated envelopes) so the client's
// normalization is exercised end to end.
package salesapitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cafe-pos/terminal/internal/auth"
)

const secret = "salesapitest-secret"

// SaleRecord is a sale held by the fake.
type SaleRecord struct {
	ID         int64
	Items      []ItemRecord
	Total      decimal.Decimal
	RoomNo     string
	CustomerID *int64
	Method     string
	Settled    bool
	CreatedAt  time.Time
}

// ItemRecord is one sale line.
type ItemRecord struct {
	ProductID int64
	Quantity  int
}

// CustomerRecord is a customer held by the fake.
type CustomerRecord struct {
	ID         int64
	Name       string
	Balance    decimal.Decimal
	CardRefID  string
	CardNumber string
	RFIDNo     string
}

// ProductRecord is a catalog entry held by the fake.
type ProductRecord struct {
	ID    int64
	Name  string
	Price decimal.Decimal
}

// Server is a running fake café API.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	users        map[string]string
	sales        map[int64]*SaleRecord
	customers    map[int64]*CustomerRecord
	products     map[int64]ProductRecord
	settleErrors map[int64]string
	calls        map[string]int
	revoked      bool
	pendingFail  string
	gate         chan struct{}
}

// NewServer starts a fake API. Close it with Server.Close.
func NewServer() *Server {
	s := &Server{
		users:        make(map[string]string),
		sales:        make(map[int64]*SaleRecord),
		customers:    make(map[int64]*CustomerRecord),
		products:     make(map[int64]ProductRecord),
		settleErrors: make(map[int64]string),
		calls:        make(map[string]int),
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login/", s.login)
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/sales/reports/pending", s.listPending)
			r.Put("/sales/{id}/settle", s.settle)
			r.Post("/sales/settle-batch", s.settleBatch)
			r.Get("/customers/", s.listCustomers)
			r.Get("/products/", s.listProducts)
		})
	})
	s.Server = httptest.NewServer(r)
	return s
}

// BaseURL is the API root including the /api prefix.
func (s *Server) BaseURL() string {
	return s.URL + "/api"
}

// --- Fixtures ---

func (s *Server) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = password
}

func (s *Server) AddSale(rec SaleRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Method == "" {
		rec.Method = "pending"
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}
	s.sales[rec.ID] = &rec
}

func (s *Server) AddCustomer(rec CustomerRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[rec.ID] = &rec
}

func (s *Server) AddProduct(rec ProductRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[rec.ID] = rec
}

// FailSettlement makes every settlement of saleID fail with msg.
func (s *Server) FailSettlement(saleID int64, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settleErrors[saleID] = msg
}

// FailPending makes the pending listing fail with a 500 and msg.
// An empty msg restores normal behavior.
func (s *Server) FailPending(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingFail = msg
}

// RevokeTokens makes every authenticated call answer 401.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = true
}

// HoldSettlements blocks settle and settle-batch handlers (after they are
// counted) until the returned release func is called.
func (s *Server) HoldSettlements() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// IssueToken returns a valid bearer token for username.
func (s *Server) IssueToken(username string) string {
	token, err := auth.GenerateToken(secret, 1, username, time.Hour)
	if err != nil {
		panic(err)
	}
	return token
}

// --- Inspection ---

// Calls returns how many requests reached the named endpoint: login,
// pending, settle, batch, customers or products.
func (s *Server) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// Balance returns the current balance of a customer.
func (s *Server) Balance(customerID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.customers[customerID]; ok {
		return c.Balance
	}
	return decimal.Zero
}

// Sale returns a copy of a sale record.
func (s *Server) Sale(id int64) (SaleRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sales[id]
	if !ok {
		return SaleRecord{}, false
	}
	return *rec, true
}

func (s *Server) count(name string) {
	s.mu.Lock()
	s.calls[name]++
	s.mu.Unlock()
}

// --- Handlers ---

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		s.mu.Lock()
		revoked := s.revoked
		s.mu.Unlock()
		if token == header || revoked {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		if _, err := auth.ValidateToken(secret, token); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	s.count("login")
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	s.mu.Lock()
	want, ok := s.users[req.Username]
	s.mu.Unlock()
	if !ok || want != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": s.IssueToken(req.Username)})
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	s.count("pending")
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingFail != "" {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": s.pendingFail})
		return
	}

	ids := make([]int64, 0, len(s.sales))
	for id, rec := range s.sales {
		if !rec.Settled && rec.Method == "pending" {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	results := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		results = append(results, s.saleJSON(s.sales[id]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(results), "results": results})
}

type settleBody struct {
	SaleIDs       []int64 `json:"sale_ids"`
	PaymentMethod string  `json:"payment_method"`
	CustomerID    *int64  `json:"customer_id"`
}

func (s *Server) settle(w http.ResponseWriter, r *http.Request) {
	s.count("settle")
	s.wait(r)

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid sale id"})
		return
	}
	var req settleBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sales[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Sale not found"})
		return
	}
	if msg := s.settleOneLocked(id, req.PaymentMethod, req.CustomerID); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}
	writeJSON(w, http.StatusOK, s.saleJSON(s.sales[id]))
}

func (s *Server) settleBatch(w http.ResponseWriter, r *http.Request) {
	s.count("batch")
	s.wait(r)

	var req settleBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.SaleIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sale_ids is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	settled := []int64{}
	failed := []map[string]any{}
	for _, id := range req.SaleIDs {
		msg := "Sale not found"
		if _, ok := s.sales[id]; ok {
			msg = s.settleOneLocked(id, req.PaymentMethod, req.CustomerID)
		}
		if msg != "" {
			failed = append(failed, map[string]any{"sale_id": id, "error": msg})
			continue
		}
		settled = append(settled, id)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settled_count": len(settled),
		"failed_count":  len(failed),
		"settled_sales": settled,
		"failed_sales":  failed,
	})
}

// settleOneLocked applies the API's own rules and returns an error message,
// or "" on success. The balance is re-validated here; the terminal's check is
// only a pre-flight.
func (s *Server) settleOneLocked(id int64, method string, customerID *int64) string {
	rec := s.sales[id]
	if msg, ok := s.settleErrors[id]; ok {
		return msg
	}
	if rec.Settled {
		return "already settled"
	}
	switch method {
	case "cash", "easypaisa":
	case "card":
		if customerID == nil {
			return "customer_id is required for card payments"
		}
		c, ok := s.customers[*customerID]
		if !ok {
			return "Customer not found"
		}
		if c.Balance.LessThan(rec.Total) {
			return "Insufficient balance"
		}
		c.Balance = c.Balance.Sub(rec.Total)
	default:
		return fmt.Sprintf("invalid payment method %q", method)
	}
	rec.Settled = true
	rec.Method = method
	if customerID != nil {
		cid := *customerID
		rec.CustomerID = &cid
	}
	return ""
}

func (s *Server) listCustomers(w http.ResponseWriter, r *http.Request) {
	s.count("customers")
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.customers))
	for id := range s.customers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		c := s.customers[id]
		out = append(out, map[string]any{
			"id":          c.ID,
			"name":        c.Name,
			"balance":     c.Balance.StringFixed(2),
			"cardRefId":   c.CardRefID,
			"card_number": c.CardNumber,
			"rfid_no":     c.RFIDNo,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	s.count("products")
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		p := s.products[id]
		out = append(out, map[string]any{"id": p.ID, "name": p.Name, "price": p.Price.StringFixed(2)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "results": out})
}

// saleJSON renders a sale with the legacy field names.
func (s *Server) saleJSON(rec *SaleRecord) map[string]any {
	items := make([]map[string]any, 0, len(rec.Items))
	for _, it := range rec.Items {
		item := map[string]any{"product_id": it.ProductID, "quantity": it.Quantity}
		if p, ok := s.products[it.ProductID]; ok {
			item["productName"] = p.Name
			item["price"] = p.Price.StringFixed(2)
		}
		items = append(items, item)
	}
	return map[string]any{
		"id":             rec.ID,
		"items":          items,
		"total":          rec.Total.StringFixed(2),
		"payment_method": rec.Method,
		"is_settled":     rec.Settled,
		"room_no":        rec.RoomNo,
		"customerId":     rec.CustomerID,
		"created_at":     rec.CreatedAt.Format("2006-01-02T15:04:05.000000"),
	}
}

func (s *Server) wait(r *http.Request) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate == nil {
		return
	}
	select {
	case <-gate:
	case <-r.Context().Done():
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
