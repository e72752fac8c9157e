package receipt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Printer sends a rendered receipt to a physical printer.
type Printer interface {
	Print(ctx context.Context, name string, pdf []byte) error
}

// HTTPPrinter posts PDFs to a print server on the local network.
type HTTPPrinter struct {
	client  *http.Client
	baseURL string
}

type printRequest struct {
	FileName string `json:"filename"`
	Data     string `json:"data"` // base64 PDF
	Copies   int    `json:"copies"`
}

type printResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewHTTPPrinter(baseURL string) *HTTPPrinter {
	return &HTTPPrinter{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (p *HTTPPrinter) Print(ctx context.Context, name string, pdf []byte) error {
	body, err := json.Marshal(printRequest{
		FileName: name,
		Data:     base64.StdEncoding.EncodeToString(pdf),
		Copies:   1,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal print request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/print-pdf", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create print request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send print request: %w", err)
	}
	defer resp.Body.Close()

	var printResp printResponse
	if err := json.NewDecoder(resp.Body).Decode(&printResp); err != nil {
		return fmt.Errorf("failed to decode print response (status %d): %w", resp.StatusCode, err)
	}
	if !printResp.Success {
		return fmt.Errorf("print failed: %s", printResp.Message)
	}
	return nil
}

// NopPrinter is used when no print server is configured.
type NopPrinter struct{}

func (NopPrinter) Print(_ context.Context, name string, _ []byte) error {
	log.Printf("[Printer] No printer configured, skipping %s", name)
	return nil
}
