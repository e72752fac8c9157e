package salesapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cafe-pos/terminal/internal/session"
)

const loginPath = "/auth/login/"

// ErrUnauthorized is returned when the API rejects the session token. The
// session has already been cleared by the time callers see it.
var ErrUnauthorized = errors.New("session expired, please log in again")

// ErrNoSession is returned when a call is attempted without credentials.
var ErrNoSession = errors.New("not logged in")

// APIError is a non-2xx response from the café API. Message is the API's
// own text and is shown to the operator verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client is a typed wrapper over the café API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	session    *session.Session
}

// New creates a Client for baseURL (including the /api prefix).
func New(baseURL string, timeout time.Duration, sess *session.Session) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		session:    sess,
	}
}

// Login exchanges operator credentials for a bearer token and stores it in
// the session.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body, err := c.do(ctx, http.MethodPost, loginPath, map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return err
	}

	var resp struct {
		Access      string `json:"access"`
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	token := firstString(resp.Access, resp.AccessToken, resp.Token)
	if token == "" {
		return fmt.Errorf("login response carried no token")
	}
	return c.session.Set(ctx, token, username)
}

// ListPending returns all unsettled pending sales.
func (c *Client) ListPending(ctx context.Context) ([]Sale, error) {
	body, err := c.do(ctx, http.MethodGet, "/sales/reports/pending", nil)
	if err != nil {
		return nil, err
	}
	return DecodeSales(body)
}

// Settle records final payment for one sale.
func (c *Client) Settle(ctx context.Context, saleID int64, method string, customerID *int64) (Sale, error) {
	body, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/sales/%d/settle", saleID), SettleRequest{
		PaymentMethod: method,
		CustomerID:    customerID,
	})
	if err != nil {
		return Sale{}, err
	}
	return DecodeSale(body)
}

// BatchSettle settles several sales in a single request.
func (c *Client) BatchSettle(ctx context.Context, saleIDs []int64, method string, customerID *int64) (BatchResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/sales/settle-batch", BatchSettleRequest{
		SaleIDs:       saleIDs,
		PaymentMethod: method,
		CustomerID:    customerID,
	})
	if err != nil {
		return BatchResult{}, err
	}
	return DecodeBatchResult(body)
}

// ListCustomers returns the full customer list.
func (c *Client) ListCustomers(ctx context.Context) ([]Customer, error) {
	body, err := c.do(ctx, http.MethodGet, "/customers/", nil)
	if err != nil {
		return nil, err
	}
	return DecodeCustomers(body)
}

// ListProducts returns the product catalog.
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	body, err := c.do(ctx, http.MethodGet, "/products/", nil)
	if err != nil {
		return nil, err
	}
	return DecodeProducts(body)
}

// do performs one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var token string
	if path != loginPath {
		token = c.session.Token()
		if token == "" {
			return nil, ErrNoSession
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized && path != loginPath {
		c.session.Unauthorized(ctx, token)
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}
	return body, nil
}

// errorMessage pulls a human-readable message out of an error body.
func errorMessage(status int, body []byte) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		for _, key := range []string{"error", "detail", "message", "non_field_errors"} {
			raw, ok := obj[key]
			if !ok {
				continue
			}
			var s string
			if json.Unmarshal(raw, &s) == nil && s != "" {
				return s
			}
			var list []string
			if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
				return strings.Join(list, "; ")
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && !strings.HasPrefix(text, "<") {
		return text
	}
	return http.StatusText(status)
}
