package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cafe-pos/terminal/internal/journal"
	"github.com/cafe-pos/terminal/internal/metrics"
	"github.com/cafe-pos/terminal/internal/receipt"
)

// ReceiptJournal defines the journal methods needed by receipt handlers.
// Satisfied by *journal.PgStore and *journal.MemoryStore.
type ReceiptJournal interface {
	Get(ctx context.Context, saleID int64) (journal.Entry, error)
	MarkPrinted(ctx context.Context, saleID int64) error
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// ReceiptHandler serves reprints of journaled receipts.
type ReceiptHandler struct {
	journal ReceiptJournal
	printer receipt.Printer
}

// NewReceiptHandler creates a new ReceiptHandler.
func NewReceiptHandler(j ReceiptJournal, printer receipt.Printer) *ReceiptHandler {
	if printer == nil {
		printer = receipt.NopPrinter{}
	}
	return &ReceiptHandler{journal: j, printer: printer}
}

// RegisterRoutes registers receipt endpoints on the given Chi router.
// Expected to be mounted at /receipts.
func (h *ReceiptHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Recent)
	r.Get("/{saleID}", h.PDF)
	r.Post("/{saleID}/print", h.Print)
}

const defaultRecentLimit = 20

// load fetches and renders a journaled receipt, writing the error response
// itself when that fails.
func (h *ReceiptHandler) load(w http.ResponseWriter, r *http.Request) (receipt.Receipt, []byte, bool) {
	saleID, err := parseIDParam(r, "saleID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return receipt.Receipt{}, nil, false
	}

	entry, err := h.journal.Get(r.Context(), saleID)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "receipt not found"})
			return receipt.Receipt{}, nil, false
		}
		log.Printf("ERROR: load receipt %d: %v", saleID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return receipt.Receipt{}, nil, false
	}

	pdf, err := receipt.RenderPDF(entry.Receipt)
	if err != nil {
		log.Printf("ERROR: render receipt %d: %v", saleID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to render receipt"})
		return receipt.Receipt{}, nil, false
	}
	return entry.Receipt, pdf, true
}

// --- Handlers ---

// Recent lists the latest journaled receipts, newest first.
func (h *ReceiptHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}

	entries, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		log.Printf("ERROR: list receipts: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// PDF returns the receipt as a PDF document.
func (h *ReceiptHandler) PDF(w http.ResponseWriter, r *http.Request) {
	rec, pdf, ok := h.load(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+rec.FileName()+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// Print sends the receipt to the printer again.
func (h *ReceiptHandler) Print(w http.ResponseWriter, r *http.Request) {
	rec, pdf, ok := h.load(w, r)
	if !ok {
		return
	}

	if err := h.printer.Print(r.Context(), rec.FileName(), pdf); err != nil {
		metrics.ReceiptPrintFailures.Inc()
		log.Printf("ERROR: reprint receipt %d: %v", rec.SaleID, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "printer: " + err.Error()})
		return
	}
	if err := h.journal.MarkPrinted(r.Context(), rec.SaleID); err != nil {
		log.Printf("ERROR: mark receipt %d printed: %v", rec.SaleID, err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "printed"})
}
