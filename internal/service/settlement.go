package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cafe-pos/terminal/internal/catalog"
	"github.com/cafe-pos/terminal/internal/enum"
	"github.com/cafe-pos/terminal/internal/metrics"
	"github.com/cafe-pos/terminal/internal/pending"
	"github.com/cafe-pos/terminal/internal/receipt"
	"github.com/cafe-pos/terminal/internal/salesapi"
)

// attemptTTL bounds how long an untouched draft attempt is kept.
const attemptTTL = 30 * time.Minute

// Errors returned by the dispatcher.
var (
	ErrAttemptNotFound     = errors.New("settlement attempt not found")
	ErrEmptySelection      = errors.New("no sales selected")
	ErrSingleSaleRequired  = errors.New("single settlement takes exactly one sale")
	ErrInvalidMethod       = errors.New("payment_method must be cash, card or easypaisa")
	ErrMethodRequired      = errors.New("payment method is required")
	ErrCustomerRequired    = errors.New("a customer is required for card payments")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSettlementInFlight  = errors.New("settlement already in progress for this sale")
	ErrCardNotFound        = errors.New("card not recognised")
	ErrNotAwaitingCard     = errors.New("attempt is not waiting for a card")
	ErrAttemptBusy         = errors.New("attempt is being submitted")
)

// SalesService is the remote settlement API.
type SalesService interface {
	Settle(ctx context.Context, saleID int64, method string, customerID *int64) (salesapi.Sale, error)
	BatchSettle(ctx context.Context, saleIDs []int64, method string, customerID *int64) (salesapi.BatchResult, error)
}

// PendingStore is the local pending-sales list.
type PendingStore interface {
	Lookup(ids []int64) ([]salesapi.Sale, error)
	Remove(ids []int64)
	Annotate(id int64, message string)
}

// CustomerDirectory resolves customers for card payments. Refresh reloads
// balances after the API has charged a card.
type CustomerDirectory interface {
	Get(id int64) (salesapi.Customer, error)
	Resolve(token string) catalog.Match
	Refresh(ctx context.Context) error
}

// Notifier delivers transient notices to the operator.
type Notifier interface {
	Notify(level, message string)
}

// Journal keeps printed receipts for reprints.
type Journal interface {
	Save(ctx context.Context, r receipt.Receipt) error
	MarkPrinted(ctx context.Context, saleID int64) error
}

// Archive stores rendered receipts off the terminal.
type Archive interface {
	Upload(ctx context.Context, saleID int64, settledAt time.Time, pdf []byte) (string, error)
}

// Deps are the collaborators of a Dispatcher. Journal, Archive, Printer and
// Cashier may be nil.
type Deps struct {
	Sales     SalesService
	Pending   PendingStore
	Customers CustomerDirectory
	Products  receipt.ProductLookup
	Notifier  Notifier
	Printer   receipt.Printer
	Journal   Journal
	Archive   Archive
	Header    receipt.Header
	Cashier   func() string
}

// Outcome is the result of a submitted attempt.
type Outcome struct {
	Attempt    Attempt               `json:"attempt"`
	Settled    []int64               `json:"settled"`
	Failed     []salesapi.FailedSale `json:"failed"`
	Receipt    *receipt.Receipt      `json:"receipt,omitempty"`
	PrintError string                `json:"print_error,omitempty"`
}

// Dispatcher runs settlement attempts against the café API. It is the only
// writer of settlement state on the terminal.
type Dispatcher struct {
	deps Deps

	mu       sync.Mutex
	attempts map[uuid.UUID]*Attempt
	inFlight map[int64]uuid.UUID

	now func() time.Time
}

func NewDispatcher(deps Deps) *Dispatcher {
	if deps.Printer == nil {
		deps.Printer = receipt.NopPrinter{}
	}
	return &Dispatcher{
		deps:     deps,
		attempts: make(map[uuid.UUID]*Attempt),
		inFlight: make(map[int64]uuid.UUID),
		now:      time.Now,
	}
}

// Begin opens a draft attempt for saleIDs. Every id must be pending.
func (d *Dispatcher) Begin(saleIDs []int64, batch bool) (Attempt, error) {
	ids := dedupe(saleIDs)
	if len(ids) == 0 {
		return Attempt{}, ErrEmptySelection
	}
	mode := enum.ModeBatch
	if !batch {
		if len(ids) != 1 {
			return Attempt{}, ErrSingleSaleRequired
		}
		mode = enum.ModeSingle
	}

	sales, err := d.deps.Pending.Lookup(ids)
	if err != nil {
		return Attempt{}, err
	}

	a := &Attempt{
		ID:        uuid.New(),
		Mode:      mode,
		SaleIDs:   ids,
		AmountDue: pending.Sum(sales),
		Phase:     enum.PhaseIdle,
		CreatedAt: d.now(),
	}

	d.mu.Lock()
	d.pruneLocked()
	d.attempts[a.ID] = a
	out := a.clone()
	d.mu.Unlock()
	return out, nil
}

// Get returns a snapshot of an attempt.
func (d *Dispatcher) Get(id uuid.UUID) (Attempt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.attempts[id]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return a.clone(), nil
}

// SelectMethod picks the payment method. Card moves the attempt to
// AWAITING_CARD; cash and easypaisa keep it IDLE and drop any customer.
func (d *Dispatcher) SelectMethod(id uuid.UUID, method string) (Attempt, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if !enum.IsSettlementMethod(method) {
		return Attempt{}, ErrInvalidMethod
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	a, err := d.editableLocked(id)
	if err != nil {
		return Attempt{}, err
	}

	next := enum.PhaseIdle
	if method == enum.PaymentMethodCard {
		next = enum.PhaseAwaitingCard
	} else {
		a.Customer = nil
	}
	if err := a.transition(next); err != nil {
		return Attempt{}, err
	}
	a.Method = method
	a.LastError = ""
	return a.clone(), nil
}

// ScanCard resolves a scanned token to the attempt's customer. An unknown or
// ambiguous token returns ErrCardNotFound and leaves any earlier customer in
// place.
func (d *Dispatcher) ScanCard(id uuid.UUID, token string) (Attempt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, err := d.awaitingCardLocked(id)
	if err != nil {
		return Attempt{}, err
	}

	m := d.deps.Customers.Resolve(token)
	if !m.Found() {
		a.LastError = ErrCardNotFound.Error()
		if m.Status == catalog.Ambiguous {
			return a.clone(), fmt.Errorf("%w: %d customers share this card", ErrCardNotFound, len(m.Candidates))
		}
		return a.clone(), ErrCardNotFound
	}
	a.Customer = m.Customer
	a.LastError = ""
	return a.clone(), nil
}

// SelectCustomer sets the card customer by id, the manual fallback to a scan.
func (d *Dispatcher) SelectCustomer(id uuid.UUID, customerID int64) (Attempt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, err := d.awaitingCardLocked(id)
	if err != nil {
		return Attempt{}, err
	}

	c, err := d.deps.Customers.Get(customerID)
	if err != nil {
		return Attempt{}, err
	}
	a.Customer = &c
	a.LastError = ""
	return a.clone(), nil
}

// Cancel discards a draft attempt. No remote call is ever made for it.
func (d *Dispatcher) Cancel(id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.editableLocked(id); err != nil {
		return err
	}
	delete(d.attempts, id)
	return nil
}

// Submit validates the attempt and, if it passes, makes exactly one remote
// call for it. Validation failures leave the attempt usable; once the call
// is made the attempt is discarded whatever the result.
func (d *Dispatcher) Submit(ctx context.Context, id uuid.UUID) (Outcome, error) {
	a, sales, err := d.validate(id)
	if err != nil {
		return Outcome{}, err
	}

	// A submitted settlement runs to completion even if the caller goes
	// away; the API client's timeout still bounds it.
	ctx = context.WithoutCancel(ctx)

	start := d.now()
	var out Outcome
	if a.Mode == enum.ModeSingle {
		out, err = d.submitSingle(ctx, a, sales[0])
	} else {
		out, err = d.submitBatch(ctx, a)
	}
	metrics.SettlementDuration.WithLabelValues(a.Mode).Observe(d.now().Sub(start).Seconds())
	return out, err
}

// validate runs the VALIDATING phase and, on success, marks the sales in
// flight and moves the attempt to SUBMITTING. It returns a snapshot.
func (d *Dispatcher) validate(id uuid.UUID) (Attempt, []salesapi.Sale, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, err := d.editableLocked(id)
	if errors.Is(err, ErrAttemptBusy) {
		return Attempt{}, nil, ErrSettlementInFlight
	}
	if err != nil {
		return Attempt{}, nil, err
	}
	if a.Method == "" {
		return Attempt{}, nil, ErrMethodRequired
	}

	rest := a.restPhase()
	if err := a.transition(enum.PhaseValidating); err != nil {
		return Attempt{}, nil, err
	}
	reject := func(err error) (Attempt, []salesapi.Sale, error) {
		a.Phase = rest
		a.LastError = err.Error()
		return Attempt{}, nil, err
	}

	for _, saleID := range a.SaleIDs {
		if _, busy := d.inFlight[saleID]; busy {
			return reject(fmt.Errorf("sale %d: %w", saleID, ErrSettlementInFlight))
		}
	}

	sales, err := d.deps.Pending.Lookup(a.SaleIDs)
	if err != nil {
		return reject(err)
	}
	a.AmountDue = pending.Sum(sales)

	if a.Method == enum.PaymentMethodCard {
		if a.Customer == nil {
			return reject(ErrCustomerRequired)
		}
		if c, err := d.deps.Customers.Get(a.Customer.ID); err == nil {
			a.Customer = &c
		}
		if a.Customer.Balance.LessThan(a.AmountDue) {
			err := fmt.Errorf("%w: %s has %s, %s due", ErrInsufficientBalance,
				a.Customer.Name, a.Customer.Balance.StringFixed(2), a.AmountDue.StringFixed(2))
			a.Customer = nil
			return reject(err)
		}
	}

	if err := a.transition(enum.PhaseSubmitting); err != nil {
		return reject(err)
	}
	a.LastError = ""
	for _, saleID := range a.SaleIDs {
		d.inFlight[saleID] = a.ID
	}
	return a.clone(), sales, nil
}

// finish releases the in-flight ids and discards the attempt.
func (d *Dispatcher) finish(a *Attempt, phase string, lastError string) {
	d.mu.Lock()
	for _, saleID := range a.SaleIDs {
		if d.inFlight[saleID] == a.ID {
			delete(d.inFlight, saleID)
		}
	}
	delete(d.attempts, a.ID)
	d.mu.Unlock()

	// SUBMITTING -> SETTLED/FAILED is always allowed.
	a.Phase = phase
	a.LastError = lastError
}

func (d *Dispatcher) submitSingle(ctx context.Context, a Attempt, sale salesapi.Sale) (Outcome, error) {
	settled, err := d.deps.Sales.Settle(ctx, sale.ID, a.Method, a.customerID())
	if err != nil {
		d.finish(&a, enum.PhaseFailed, err.Error())
		metrics.SettlementsTotal.WithLabelValues(a.Mode, a.Method, metrics.OutcomeFailed).Inc()
		log.Printf("ERROR: settle sale %d: %v", sale.ID, err)
		d.deps.Notifier.Notify(enum.NoticeError, err.Error())
		return Outcome{Attempt: a}, err
	}

	d.deps.Pending.Remove([]int64{sale.ID})
	d.finish(&a, enum.PhaseSettled, "")
	d.refreshBalances(ctx, a, 1)
	metrics.SettlementsTotal.WithLabelValues(a.Mode, a.Method, metrics.OutcomeSettled).Inc()
	d.deps.Notifier.Notify(enum.NoticeSuccess, fmt.Sprintf("Sale #%d settled by %s", sale.ID, a.Method))

	// The API's copy wins where it has detail; ours fills the gaps.
	if len(settled.Items) > 0 {
		sale.Items = settled.Items
	}
	if !settled.TotalPrice.IsZero() {
		sale.TotalPrice = settled.TotalPrice
	}

	out := Outcome{Attempt: a, Settled: []int64{sale.ID}, Failed: []salesapi.FailedSale{}}
	r, printErr := d.issueReceipt(ctx, sale, a)
	out.Receipt = &r
	if printErr != nil {
		out.PrintError = printErr.Error()
	}
	return out, nil
}

// issueReceipt journals, prints and archives the receipt for a settled sale.
// None of these can undo the settlement; failures are reported and returned
// for information only.
func (d *Dispatcher) issueReceipt(ctx context.Context, sale salesapi.Sale, a Attempt) (receipt.Receipt, error) {
	r := receipt.Build(sale, a.Method, a.Customer, d.deps.Products, d.now(), d.deps.Header)
	if d.deps.Cashier != nil {
		r.Cashier = d.deps.Cashier()
	}

	if d.deps.Journal != nil {
		if err := d.deps.Journal.Save(ctx, r); err != nil {
			log.Printf("ERROR: journal receipt %d: %v", sale.ID, err)
		}
	}

	pdf, err := receipt.RenderPDF(r)
	if err != nil {
		log.Printf("ERROR: render receipt %d: %v", sale.ID, err)
		d.printFailed(sale.ID, err)
		return r, err
	}

	if err := d.deps.Printer.Print(ctx, r.FileName(), pdf); err != nil {
		log.Printf("ERROR: print receipt %d: %v", sale.ID, err)
		d.printFailed(sale.ID, err)
		return r, err
	}
	if d.deps.Journal != nil {
		if err := d.deps.Journal.MarkPrinted(ctx, sale.ID); err != nil {
			log.Printf("ERROR: mark receipt %d printed: %v", sale.ID, err)
		}
	}

	if d.deps.Archive != nil {
		if _, err := d.deps.Archive.Upload(ctx, sale.ID, r.SettledAt, pdf); err != nil {
			log.Printf("ERROR: archive receipt %d: %v", sale.ID, err)
		}
	}
	return r, nil
}

func (d *Dispatcher) printFailed(saleID int64, err error) {
	metrics.ReceiptPrintFailures.Inc()
	d.deps.Notifier.Notify(enum.NoticeError,
		fmt.Sprintf("Sale #%d was settled but the receipt could not be printed: %v", saleID, err))
}

func (d *Dispatcher) submitBatch(ctx context.Context, a Attempt) (Outcome, error) {
	res, err := d.deps.Sales.BatchSettle(ctx, a.SaleIDs, a.Method, a.customerID())
	if err != nil {
		d.finish(&a, enum.PhaseFailed, err.Error())
		metrics.SettlementsTotal.WithLabelValues(a.Mode, a.Method, metrics.OutcomeFailed).Inc()
		log.Printf("ERROR: batch settle %v: %v", a.SaleIDs, err)
		d.deps.Notifier.Notify(enum.NoticeError, err.Error())
		return Outcome{Attempt: a}, err
	}

	settled, failed := sanitizeBatch(a.SaleIDs, res)
	d.deps.Pending.Remove(settled)
	d.refreshBalances(ctx, a, len(settled))
	for _, f := range failed {
		d.deps.Pending.Annotate(f.SaleID, f.Error)
	}

	outcome := metrics.OutcomeSettled
	switch {
	case len(settled) == 0:
		outcome = metrics.OutcomeFailed
	case len(failed) > 0:
		outcome = metrics.OutcomePartial
	}
	metrics.SettlementsTotal.WithLabelValues(a.Mode, a.Method, outcome).Inc()

	if len(failed) == 0 {
		d.finish(&a, enum.PhaseSettled, "")
		d.deps.Notifier.Notify(enum.NoticeSuccess, fmt.Sprintf("Settled %d sales by %s", len(settled), a.Method))
	} else {
		summary := batchSummary(len(a.SaleIDs), settled, failed)
		phase := enum.PhaseSettled
		if len(settled) == 0 {
			phase = enum.PhaseFailed
		}
		d.finish(&a, phase, summary)
		d.deps.Notifier.Notify(enum.NoticeError, summary)
	}
	return Outcome{Attempt: a, Settled: settled, Failed: failed}, nil
}

// refreshBalances reloads customers after a card charge so the next balance
// check sees the API's deducted balance.
func (d *Dispatcher) refreshBalances(ctx context.Context, a Attempt, settled int) {
	if a.Method != enum.PaymentMethodCard || settled == 0 {
		return
	}
	if err := d.deps.Customers.Refresh(ctx); err != nil {
		log.Printf("ERROR: refresh customers after card settlement: %v", err)
	}
}

// sanitizeBatch partitions a batch result so that settled and failed are
// disjoint subsets of requested. An id reported both ways counts as failed;
// a requested id reported neither way is failed too, so it is never lost.
func sanitizeBatch(requested []int64, res salesapi.BatchResult) ([]int64, []salesapi.FailedSale) {
	want := make(map[int64]bool, len(requested))
	for _, id := range requested {
		want[id] = true
	}

	failed := []salesapi.FailedSale{}
	isFailed := make(map[int64]bool)
	for _, f := range res.Failed {
		if !want[f.SaleID] || isFailed[f.SaleID] {
			continue
		}
		if f.Error == "" {
			f.Error = "not settled"
		}
		isFailed[f.SaleID] = true
		failed = append(failed, f)
	}

	settled := []int64{}
	isSettled := make(map[int64]bool)
	for _, id := range res.Settled {
		if !want[id] || isFailed[id] || isSettled[id] {
			continue
		}
		isSettled[id] = true
		settled = append(settled, id)
	}

	for _, id := range requested {
		if !isSettled[id] && !isFailed[id] {
			isFailed[id] = true
			failed = append(failed, salesapi.FailedSale{SaleID: id, Error: "no result returned by server"})
		}
	}
	return settled, failed
}

func batchSummary(total int, settled []int64, failed []salesapi.FailedSale) string {
	parts := make([]string, 0, len(failed))
	for _, f := range failed {
		parts = append(parts, fmt.Sprintf("#%d %s", f.SaleID, f.Error))
	}
	return fmt.Sprintf("Settled %d of %d sales. Failed: %s", len(settled), total, strings.Join(parts, "; "))
}

// --- Internals ---

func (d *Dispatcher) editableLocked(id uuid.UUID) (*Attempt, error) {
	a, ok := d.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	if !a.editable() {
		return nil, ErrAttemptBusy
	}
	return a, nil
}

func (d *Dispatcher) awaitingCardLocked(id uuid.UUID) (*Attempt, error) {
	a, err := d.editableLocked(id)
	if err != nil {
		return nil, err
	}
	if a.Phase != enum.PhaseAwaitingCard {
		return nil, ErrNotAwaitingCard
	}
	return a, nil
}

func (d *Dispatcher) pruneLocked() {
	cutoff := d.now().Add(-attemptTTL)
	for id, a := range d.attempts {
		if a.editable() && a.CreatedAt.Before(cutoff) {
			delete(d.attempts, id)
		}
	}
}

// InFlight reports whether a sale is currently being settled.
func (d *Dispatcher) InFlight(saleID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[saleID]
	return ok
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
