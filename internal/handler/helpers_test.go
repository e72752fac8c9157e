package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cafe-pos/terminal/internal/salesapi"
)

func sendJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return sendJSON(t, router, "POST", path, body)
}

func getPath(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	return sendJSON(t, router, "GET", path, nil)
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v; body: %s", err, rr.Body.String())
	}
	return resp
}

// --- Shared stubs ---

type nopNotifier struct{}

func (nopNotifier) Notify(string, string)       {}
func (nopNotifier) Publish(string, string, any) {}

type stubSales struct {
	sales []salesapi.Sale
	err   error
}

func (s *stubSales) ListPending(context.Context) ([]salesapi.Sale, error) {
	return s.sales, s.err
}

type stubCustomers struct {
	customers []salesapi.Customer
	err       error
}

func (s *stubCustomers) ListCustomers(context.Context) ([]salesapi.Customer, error) {
	return s.customers, s.err
}

func int64Ptr(v int64) *int64 { return &v }
