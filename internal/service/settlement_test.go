package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cafe-pos/terminal/internal/catalog"
	"github.com/cafe-pos/terminal/internal/enum"
	"github.com/cafe-pos/terminal/internal/journal"
	"github.com/cafe-pos/terminal/internal/pending"
	"github.com/cafe-pos/terminal/internal/prefs"
	"github.com/cafe-pos/terminal/internal/receipt"
	"github.com/cafe-pos/terminal/internal/salesapi"
	"github.com/cafe-pos/terminal/internal/salesapi/salesapitest"
	"github.com/cafe-pos/terminal/internal/session"
)

// --- Mock implementations ---

type mockNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (m *mockNotifier) Notify(level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, level+": "+message)
}

func (m *mockNotifier) Publish(topic, eventType string, payload any) {}

func (m *mockNotifier) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.notices) == 0 {
		return ""
	}
	return m.notices[len(m.notices)-1]
}

type mockPrinter struct {
	mu      sync.Mutex
	printFn func(ctx context.Context, name string, pdf []byte) error
	printed []string
}

func (m *mockPrinter) Print(ctx context.Context, name string, pdf []byte) error {
	m.mu.Lock()
	m.printed = append(m.printed, name)
	m.mu.Unlock()
	if m.printFn != nil {
		return m.printFn(ctx, name, pdf)
	}
	return nil
}

// countingDirectory records customer lookups.
type countingDirectory struct {
	*catalog.CustomerStore
	mu    sync.Mutex
	calls int
}

func (c *countingDirectory) Get(id int64) (salesapi.Customer, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.CustomerStore.Get(id)
}

func (c *countingDirectory) Resolve(token string) catalog.Match {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.CustomerStore.Resolve(token)
}

type mockSales struct {
	settleFn      func(ctx context.Context, saleID int64, method string, customerID *int64) (salesapi.Sale, error)
	batchSettleFn func(ctx context.Context, saleIDs []int64, method string, customerID *int64) (salesapi.BatchResult, error)
}

func (m *mockSales) Settle(ctx context.Context, saleID int64, method string, customerID *int64) (salesapi.Sale, error) {
	return m.settleFn(ctx, saleID, method, customerID)
}

func (m *mockSales) BatchSettle(ctx context.Context, saleIDs []int64, method string, customerID *int64) (salesapi.BatchResult, error) {
	return m.batchSettleFn(ctx, saleIDs, method, customerID)
}

// --- Fixture ---

type fixture struct {
	api       *salesapitest.Server
	store     *pending.Store
	customers *countingDirectory
	notifier  *mockNotifier
	printer   *mockPrinter
	journal   *journal.MemoryStore
	d         *Dispatcher
}

// newFixture wires a dispatcher to a fake café API holding the given sales
// and customers, with the pending list and customers already loaded.
func newFixture(t *testing.T, sales []salesapitest.SaleRecord, customers []salesapitest.CustomerRecord) *fixture {
	t.Helper()
	ctx := context.Background()

	api := salesapitest.NewServer()
	t.Cleanup(api.Close)
	api.AddProduct(salesapitest.ProductRecord{ID: 7, Name: "Latte", Price: decimal.NewFromInt(250)})
	for _, s := range sales {
		api.AddSale(s)
	}
	for _, c := range customers {
		api.AddCustomer(c)
	}

	sess := session.New(prefs.NewMemoryStore(), nil)
	if err := sess.Set(ctx, api.IssueToken("cashier"), "cashier"); err != nil {
		t.Fatalf("session.Set: %v", err)
	}
	client := salesapi.New(api.BaseURL(), 5*time.Second, sess)

	n := &mockNotifier{}
	store := pending.NewStore(client, n)
	if err := store.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	dir := &countingDirectory{CustomerStore: catalog.NewCustomerStore(client)}
	if err := dir.Refresh(ctx); err != nil {
		t.Fatalf("Refresh customers: %v", err)
	}
	products := catalog.NewProductCatalog(client)
	if err := products.Refresh(ctx); err != nil {
		t.Fatalf("Refresh products: %v", err)
	}

	f := &fixture{
		api:       api,
		store:     store,
		customers: dir,
		notifier:  n,
		printer:   &mockPrinter{},
		journal:   journal.NewMemoryStore(),
	}
	f.d = NewDispatcher(Deps{
		Sales:     client,
		Pending:   store,
		Customers: dir,
		Products:  products,
		Notifier:  n,
		Printer:   f.printer,
		Journal:   f.journal,
		Header:    receipt.Header{ShopName: "Café"},
		Cashier:   sess.Username,
	})
	return f
}

func pendingSale(id, total int64) salesapitest.SaleRecord {
	return salesapitest.SaleRecord{
		ID:    id,
		Total: decimal.NewFromInt(total),
		Items: []salesapitest.ItemRecord{{ProductID: 7, Quantity: 2}},
	}
}

func (f *fixture) pendingIDs() []int64 {
	var ids []int64
	for _, e := range f.store.Filter(pending.Filter{}) {
		ids = append(ids, e.ID)
	}
	return ids
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// --- Scenarios ---

func TestSubmit_SingleCash(t *testing.T) {
	f := newFixture(t, []salesapitest.SaleRecord{pendingSale(42, 500), pendingSale(43, 100)}, nil)
	f.store.Select(42, 43)
	lookupsBefore := f.customers.calls

	a, err := f.d.Begin([]int64{42}, false)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := f.d.SelectMethod(a.ID, enum.PaymentMethodCash); err != nil {
		t.Fatalf("SelectMethod: %v", err)
	}
	out, err := f.d.Submit(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if out.Attempt.Phase != enum.PhaseSettled {
		t.Errorf("phase = %s, want SETTLED", out.Attempt.Phase)
	}
	if contains(f.pendingIDs(), 42) {
		t.Error("sale 42 still pending")
	}
	if contains(f.store.Selection(), 42) || !contains(f.store.Selection(), 43) {
		t.Errorf("selection = %v, want [43]", f.store.Selection())
	}
	if f.customers.calls != lookupsBefore {
		t.Error("cash settlement must not look up customers")
	}
	if f.api.Calls("settle") != 1 {
		t.Errorf("settle calls = %d, want 1", f.api.Calls("settle"))
	}
	if rec, _ := f.api.Sale(42); !rec.Settled || rec.Method != enum.PaymentMethodCash {
		t.Errorf("server sale = %+v", rec)
	}

	if out.Receipt == nil || out.Receipt.SaleID != 42 || out.Receipt.Cashier != "cashier" {
		t.Fatalf("receipt = %+v", out.Receipt)
	}
	if out.Receipt.Items[0].Name != "Latte" {
		t.Errorf("receipt item = %+v", out.Receipt.Items[0])
	}
	if len(f.printer.printed) != 1 || f.printer.printed[0] != "receipt-42.pdf" {
		t.Errorf("printed = %v", f.printer.printed)
	}
	if entry, err := f.journal.Get(context.Background(), 42); err != nil {
		t.Errorf("receipt not journaled: %v", err)
	} else if entry.PrintedCount != 1 {
		t.Errorf("printed count = %d, want 1", entry.PrintedCount)
	}
	if _, err := f.d.Get(a.ID); !errors.Is(err, ErrAttemptNotFound) {
		t.Error("attempt should be discarded after submit")
	}
	if !strings.HasPrefix(f.notifier.last(), "success:") {
		t.Errorf("notice = %q", f.notifier.last())
	}
}

func TestSubmit_BatchCardInsufficientBalance(t *testing.T) {
	f := newFixture(t,
		[]salesapitest.SaleRecord{pendingSale(1, 500), pendingSale(2, 500), pendingSale(3, 500)},
		[]salesapitest.CustomerRecord{{ID: 9, Name: "Sara", Balance: decimal.NewFromInt(1000), CardRefID: "CARD007"}},
	)

	a, err := f.d.Begin([]int64{1, 2, 3}, true)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !a.AmountDue.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("amount due = %s, want 1500", a.AmountDue)
	}
	if a, err = f.d.SelectMethod(a.ID, enum.PaymentMethodCard); err != nil || a.Phase != enum.PhaseAwaitingCard {
		t.Fatalf("SelectMethod = %s, %v", a.Phase, err)
	}
	if a, err = f.d.ScanCard(a.ID, "CARD007\n"); err != nil || a.Customer == nil || a.Customer.ID != 9 {
		t.Fatalf("ScanCard = %+v, %v", a.Customer, err)
	}

	_, err = f.d.Submit(context.Background(), a.ID)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if f.api.Calls("batch") != 0 || f.api.Calls("settle") != 0 {
		t.Error("no settlement call may be made when the balance is insufficient")
	}

	got, err := f.d.Get(a.ID)
	if err != nil {
		t.Fatalf("attempt should stay usable: %v", err)
	}
	if got.Phase != enum.PhaseAwaitingCard || got.Customer != nil {
		t.Errorf("attempt = phase %s customer %+v, want AWAITING_CARD without customer", got.Phase, got.Customer)
	}
	if !strings.Contains(got.LastError, "insufficient balance") {
		t.Errorf("last error = %q", got.LastError)
	}
	if len(f.pendingIDs()) != 3 {
		t.Error("pending list must be unchanged")
	}
}

func TestSubmit_BatchPartialFailure(t *testing.T) {
	f := newFixture(t, []salesapitest.SaleRecord{pendingSale(4, 100), pendingSale(5, 100)}, nil)
	f.api.FailSettlement(5, "already settled")
	f.store.Select(4, 5)

	a, _ := f.d.Begin(f.store.Selection(), true)
	f.d.SelectMethod(a.ID, enum.PaymentMethodCash)
	out, err := f.d.Submit(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if len(out.Settled) != 1 || out.Settled[0] != 4 {
		t.Errorf("settled = %v, want [4]", out.Settled)
	}
	if len(out.Failed) != 1 || out.Failed[0].SaleID != 5 || out.Failed[0].Error != "already settled" {
		t.Errorf("failed = %+v", out.Failed)
	}
	if out.Receipt != nil || len(f.printer.printed) != 0 {
		t.Error("batch settlement does not print receipts")
	}
	if f.api.Calls("batch") != 1 || f.api.Calls("settle") != 0 {
		t.Error("batch must use exactly one batch call")
	}

	entries := f.store.Filter(pending.Filter{})
	if len(entries) != 1 || entries[0].ID != 5 || entries[0].BatchError != "already settled" {
		t.Errorf("pending = %+v", entries)
	}
	if got := f.store.Selection(); len(got) != 1 || got[0] != 5 {
		t.Errorf("selection = %v, want [5]", got)
	}
	if n := f.notifier.last(); !strings.Contains(n, "#5 already settled") || !strings.HasPrefix(n, "error:") {
		t.Errorf("notice = %q", n)
	}
}

func TestSubmit_DoubleSubmitMakesOneCall(t *testing.T) {
	f := newFixture(t, []salesapitest.SaleRecord{pendingSale(42, 500)}, nil)
	release := f.api.HoldSettlements()
	defer release()

	first, _ := f.d.Begin([]int64{42}, false)
	f.d.SelectMethod(first.ID, enum.PaymentMethodCash)
	second, _ := f.d.Begin([]int64{42}, false)
	f.d.SelectMethod(second.ID, enum.PaymentMethodCash)

	done := make(chan error, 1)
	go func() {
		_, err := f.d.Submit(context.Background(), first.ID)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.api.Calls("settle") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !f.d.InFlight(42) {
		t.Fatal("sale 42 should be in flight")
	}

	if _, err := f.d.Submit(context.Background(), first.ID); !errors.Is(err, ErrSettlementInFlight) {
		t.Errorf("resubmit same attempt: err = %v", err)
	}
	if _, err := f.d.Submit(context.Background(), second.ID); !errors.Is(err, ErrSettlementInFlight) {
		t.Errorf("submit overlapping attempt: err = %v", err)
	}
	batch, _ := f.d.Begin([]int64{42}, true)
	f.d.SelectMethod(batch.ID, enum.PaymentMethodCash)
	if _, err := f.d.Submit(context.Background(), batch.ID); !errors.Is(err, ErrSettlementInFlight) {
		t.Errorf("submit overlapping batch: err = %v", err)
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if f.api.Calls("settle") != 1 || f.api.Calls("batch") != 0 {
		t.Errorf("calls: settle=%d batch=%d, want exactly one settle", f.api.Calls("settle"), f.api.Calls("batch"))
	}
	if f.d.InFlight(42) {
		t.Error("in-flight entry not released")
	}
	if got, err := f.d.Get(second.ID); err != nil || got.Phase != enum.PhaseIdle {
		t.Errorf("rejected attempt = %+v, %v; want it kept in IDLE", got, err)
	}
}

func TestSubmit_CallerCancelDoesNotAbortSettlement(t *testing.T) {
	f := newFixture(t, []salesapitest.SaleRecord{pendingSale(42, 500)}, nil)
	release := f.api.HoldSettlements()
	defer release()

	a, _ := f.d.Begin([]int64{42}, false)
	f.d.SelectMethod(a.ID, enum.PaymentMethodCash)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.d.Submit(ctx, a.ID)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.api.Calls("settle") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	time.Sleep(50 * time.Millisecond)
	release()

	if err := <-done; err != nil {
		t.Fatalf("Submit after caller went away: %v", err)
	}
	if rec, _ := f.api.Sale(42); !rec.Settled {
		t.Error("sale 42 not settled on the API")
	}
	if _, ok := f.store.Get(42); ok {
		t.Error("sale 42 still listed as pending after settlement")
	}
	if !strings.HasPrefix(f.notifier.last(), "success:") {
		t.Errorf("notice = %q", f.notifier.last())
	}
}

func TestSubmit_SecondCardSettlementSeesDeductedBalance(t *testing.T) {
	f := newFixture(t,
		[]salesapitest.SaleRecord{pendingSale(1, 600), pendingSale(2, 600)},
		[]salesapitest.CustomerRecord{{ID: 9, Name: "Sara", Balance: decimal.NewFromInt(1000), RFIDNo: "RF-9"}},
	)

	first, _ := f.d.Begin([]int64{1}, false)
	f.d.SelectMethod(first.ID, enum.PaymentMethodCard)
	f.d.ScanCard(first.ID, "RF-9")
	if _, err := f.d.Submit(context.Background(), first.ID); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if c, _ := f.customers.CustomerStore.Get(9); !c.Balance.Equal(decimal.NewFromInt(400)) {
		t.Errorf("cached balance = %s, want 400 after the charge", c.Balance)
	}

	second, _ := f.d.Begin([]int64{2}, false)
	f.d.SelectMethod(second.ID, enum.PaymentMethodCard)
	f.d.ScanCard(second.ID, "RF-9")
	if _, err := f.d.Submit(context.Background(), second.ID); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("second Submit err = %v, want ErrInsufficientBalance", err)
	}
	if f.api.Calls("settle") != 1 {
		t.Errorf("settle calls = %d, want 1", f.api.Calls("settle"))
	}
}

func TestSubmit_CardRequiresCustomer(t *testing.T) {
	f := newFixture(t, []salesapitest.SaleRecord{pendingSale(42, 500)}, nil)

	a, _ := f.d.Begin([]int64{42}, false)
	f.d.SelectMethod(a.ID, enum.PaymentMethodCard)
	if _, err := f.d.Submit(context.Background(), a.ID); !errors.Is(err, ErrCustomerRequired) {
		t.Fatalf("err = %v, want ErrCustomerRequired", err)
	}
	if f.api.Calls("settle") != 0 {
		t.Error("card settlement without customer must not be submitted")
	}
}

func TestSubmit_CardSettles(t *testing.T) {
	f := newFixture(t,
		[]salesapitest.SaleRecord{pendingSale(42, 500)},
		[]salesapitest.CustomerRecord{{ID: 9, Name: "Sara", Balance: decimal.NewFromInt(1000), RFIDNo: "RF-9"}},
	)

	a, _ := f.d.Begin([]int64{42}, false)
	f.d.SelectMethod(a.ID, enum.PaymentMethodCard)
	f.d.ScanCard(a.ID, "RF-9")
	out, err := f.d.Submit(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Receipt.CustomerName != "Sara" || out.Receipt.PaymentMethod != enum.PaymentMethodCard {
		t.Errorf("receipt = %+v", out.Receipt)
	}
	if !f.api.Balance(9).Equal(decimal.NewFromInt(500)) {
		t.Errorf("server balance = %s, want 500", f.api.Balance(9))
	}
	if rec, _ := f.api.Sale(42); rec.CustomerID == nil || *rec.CustomerID != 9 {
		t.Errorf("server sale customer = %v", rec.CustomerID)
	}
}

func TestSubmit_RemoteFailureIsVerbatim(t *testing.T) {
	f := newFixture(t, []salesapitest.SaleRecord{pendingSale(42, 500)}, nil)
	f.api.FailSettlement(42, "Sale is locked by another terminal")
	f.store.Select(42)

	a, _ := f.d.Begin([]int64{42}, false)
	f.d.SelectMethod(a.ID, enum.PaymentMethodEasypaisa)
	out, err := f.d.Submit(context.Background(), a.ID)

	var apiErr *salesapi.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if out.Attempt.Phase != enum.PhaseFailed {
		t.Errorf("phase = %s, want FAILED", out.Attempt.Phase)
	}
	if f.notifier.last() != "error: Sale is locked by another terminal" {
		t.Errorf("notice = %q", f.notifier.last())
	}
	if !contains(f.pendingIDs(), 42) || !contains(f.store.Selection(), 42) {
		t.Error("local state must be unchanged after a failure")
	}
	if f.d.InFlight(42) {
		t.Error("in-flight entry not released")
	}

	// Retry is a fresh, deliberate attempt.
	retry, err := f.d.Begin([]int64{42}, false)
	if err != nil {
		t.Fatalf("retry Begin: %v", err)
	}
	if retry.ID == a.ID {
		t.Error("retry should be a new attempt")
	}
}

func TestSubmit_ZeroTotal(t *testing.T) {
	f := newFixture(t,
		[]salesapitest.SaleRecord{{ID: 8, Total: decimal.Zero}},
		[]salesapitest.CustomerRecord{{ID: 1, Name: "Zero", Balance: decimal.Zero, CardRefID: "Z"}},
	)

	a, _ := f.d.Begin([]int64{8}, false)
	f.d.SelectMethod(a.ID, enum.PaymentMethodCard)
	f.d.ScanCard(a.ID, "Z")
	if _, err := f.d.Submit(context.Background(), a.ID); err != nil {
		t.Fatalf("zero-total settlement should pass: %v", err)
	}
}

func TestSubmit_PrintFailureKeepsSettlement(t *testing.T) {
	f := newFixture(t, []salesapitest.SaleRecord{pendingSale(42, 500)}, nil)
	f.printer.printFn = func(context.Context, string, []byte) error {
		return errors.New("printer offline")
	}

	a, _ := f.d.Begin([]int64{42}, false)
	f.d.SelectMethod(a.ID, enum.PaymentMethodCash)
	out, err := f.d.Submit(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Attempt.Phase != enum.PhaseSettled || contains(f.pendingIDs(), 42) {
		t.Error("settlement must stand when printing fails")
	}
	if out.PrintError != "printer offline" {
		t.Errorf("print error = %q", out.PrintError)
	}
	if !strings.Contains(f.notifier.last(), "could not be printed") {
		t.Errorf("notice = %q", f.notifier.last())
	}
}

// --- Draft handling ---

func TestScanCard_UnknownKeepsCustomer(t *testing.T) {
	f := newFixture(t,
		[]salesapitest.SaleRecord{pendingSale(42, 500)},
		[]salesapitest.CustomerRecord{{ID: 9, Name: "Sara", Balance: decimal.NewFromInt(1000), CardRefID: "CARD007"}},
	)

	a, _ := f.d.Begin([]int64{42}, false)
	if _, err := f.d.ScanCard(a.ID, "CARD007"); !errors.Is(err, ErrNotAwaitingCard) {
		t.Errorf("scan before choosing card: err = %v", err)
	}
	f.d.SelectMethod(a.ID, enum.PaymentMethodCard)
	f.d.ScanCard(a.ID, "CARD007")

	got, err := f.d.ScanCard(a.ID, "UNKNOWN")
	if !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("err = %v, want ErrCardNotFound", err)
	}
	if got.Customer == nil || got.Customer.ID != 9 {
		t.Errorf("customer = %+v, want previous customer kept", got.Customer)
	}

	got, err = f.d.SelectCustomer(a.ID, 9)
	if err != nil || got.Customer.Name != "Sara" {
		t.Errorf("SelectCustomer = %+v, %v", got.Customer, err)
	}
	if _, err := f.d.SelectCustomer(a.ID, 404); !errors.Is(err, catalog.ErrCustomerNotFound) {
		t.Errorf("unknown customer: err = %v", err)
	}

	// Switching back to cash drops the customer.
	got, _ = f.d.SelectMethod(a.ID, enum.PaymentMethodCash)
	if got.Phase != enum.PhaseIdle || got.Customer != nil {
		t.Errorf("after cash: phase %s customer %+v", got.Phase, got.Customer)
	}
}

func TestBegin_Validation(t *testing.T) {
	f := newFixture(t, []salesapitest.SaleRecord{pendingSale(1, 100), pendingSale(2, 100)}, nil)

	if _, err := f.d.Begin(nil, true); !errors.Is(err, ErrEmptySelection) {
		t.Errorf("empty batch: err = %v", err)
	}
	if _, err := f.d.Begin([]int64{1, 2}, false); !errors.Is(err, ErrSingleSaleRequired) {
		t.Errorf("single with two ids: err = %v", err)
	}
	if _, err := f.d.Begin([]int64{1, 99}, true); !errors.Is(err, pending.ErrUnknownSale) {
		t.Errorf("unknown sale: err = %v", err)
	}
	a, err := f.d.Begin([]int64{2, 1, 2}, true)
	if err != nil || len(a.SaleIDs) != 2 || a.Mode != enum.ModeBatch {
		t.Errorf("Begin = %+v, %v", a, err)
	}
}

func TestSelectMethod_Invalid(t *testing.T) {
	f := newFixture(t, []salesapitest.SaleRecord{pendingSale(1, 100)}, nil)
	a, _ := f.d.Begin([]int64{1}, false)

	if _, err := f.d.SelectMethod(a.ID, "pending"); !errors.Is(err, ErrInvalidMethod) {
		t.Errorf("err = %v", err)
	}
	if _, err := f.d.Submit(context.Background(), a.ID); !errors.Is(err, ErrMethodRequired) {
		t.Errorf("submit without method: err = %v", err)
	}
	if _, err := f.d.SelectMethod(uuid.New(), enum.PaymentMethodCash); !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("unknown attempt: err = %v", err)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t, []salesapitest.SaleRecord{pendingSale(1, 100)}, nil)
	a, _ := f.d.Begin([]int64{1}, false)
	f.d.SelectMethod(a.ID, enum.PaymentMethodCard)

	if err := f.d.Cancel(a.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := f.d.Get(a.ID); !errors.Is(err, ErrAttemptNotFound) {
		t.Error("cancelled attempt should be gone")
	}
	if err := f.d.Cancel(a.ID); !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("second cancel: err = %v", err)
	}
	if f.api.Calls("settle") != 0 || len(f.pendingIDs()) != 1 {
		t.Error("cancel must have no side effect")
	}
}

func TestPruneStaleAttempts(t *testing.T) {
	f := newFixture(t, []salesapitest.SaleRecord{pendingSale(1, 100)}, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.d.now = func() time.Time { return now }

	old, _ := f.d.Begin([]int64{1}, false)
	now = now.Add(attemptTTL + time.Minute)
	f.d.Begin([]int64{1}, false)

	if _, err := f.d.Get(old.ID); !errors.Is(err, ErrAttemptNotFound) {
		t.Error("stale draft should be pruned")
	}
}

// --- Batch result sanitizing ---

func TestSanitizeBatch(t *testing.T) {
	tests := []struct {
		name        string
		requested   []int64
		res         salesapi.BatchResult
		wantSettled []int64
		wantFailed  []int64
	}{
		{
			name:        "clean partition",
			requested:   []int64{4, 5},
			res:         salesapi.BatchResult{Settled: []int64{4}, Failed: []salesapi.FailedSale{{SaleID: 5, Error: "already settled"}}},
			wantSettled: []int64{4},
			wantFailed:  []int64{5},
		},
		{
			name:        "id in both lists counts as failed",
			requested:   []int64{1, 2},
			res:         salesapi.BatchResult{Settled: []int64{1, 2}, Failed: []salesapi.FailedSale{{SaleID: 2, Error: "x"}}},
			wantSettled: []int64{1},
			wantFailed:  []int64{2},
		},
		{
			name:        "ids outside the request are dropped",
			requested:   []int64{1},
			res:         salesapi.BatchResult{Settled: []int64{1, 77}, Failed: []salesapi.FailedSale{{SaleID: 88, Error: "x"}}},
			wantSettled: []int64{1},
			wantFailed:  []int64{},
		},
		{
			name:        "duplicates collapse",
			requested:   []int64{1, 2},
			res:         salesapi.BatchResult{Settled: []int64{1, 1}, Failed: []salesapi.FailedSale{{SaleID: 2, Error: "a"}, {SaleID: 2, Error: "b"}}},
			wantSettled: []int64{1},
			wantFailed:  []int64{2},
		},
		{
			name:        "unreported ids are failed",
			requested:   []int64{1, 2, 3},
			res:         salesapi.BatchResult{Settled: []int64{1}},
			wantSettled: []int64{1},
			wantFailed:  []int64{2, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settled, failed := sanitizeBatch(tt.requested, tt.res)

			if len(settled) != len(tt.wantSettled) {
				t.Fatalf("settled = %v, want %v", settled, tt.wantSettled)
			}
			for i := range settled {
				if settled[i] != tt.wantSettled[i] {
					t.Errorf("settled = %v, want %v", settled, tt.wantSettled)
				}
			}
			if len(failed) != len(tt.wantFailed) {
				t.Fatalf("failed = %+v, want %v", failed, tt.wantFailed)
			}
			for i := range failed {
				if failed[i].SaleID != tt.wantFailed[i] || failed[i].Error == "" {
					t.Errorf("failed = %+v, want %v", failed, tt.wantFailed)
				}
			}

			// settled ∩ failed = ∅, both ⊆ requested
			for _, id := range settled {
				if !contains(tt.requested, id) {
					t.Errorf("settled id %d not requested", id)
				}
				for _, f := range failed {
					if f.SaleID == id {
						t.Errorf("id %d in both lists", id)
					}
				}
			}
		})
	}
}

func TestSubmit_BatchWithMockSanitizes(t *testing.T) {
	f := newFixture(t, []salesapitest.SaleRecord{pendingSale(1, 100), pendingSale(2, 100)}, nil)
	f.d.deps.Sales = &mockSales{
		batchSettleFn: func(_ context.Context, ids []int64, method string, customerID *int64) (salesapi.BatchResult, error) {
			if method != enum.PaymentMethodCash || customerID != nil {
				t.Errorf("method=%s customer=%v", method, customerID)
			}
			return salesapi.BatchResult{Settled: []int64{1, 2}, Failed: []salesapi.FailedSale{{SaleID: 2, Error: "race"}}}, nil
		},
	}

	a, _ := f.d.Begin([]int64{1, 2}, true)
	f.d.SelectMethod(a.ID, enum.PaymentMethodCash)
	out, err := f.d.Submit(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(out.Settled) != 1 || out.Settled[0] != 1 {
		t.Errorf("settled = %v", out.Settled)
	}
	if ids := f.pendingIDs(); len(ids) != 1 || ids[0] != 2 {
		t.Errorf("pending = %v, want [2]", ids)
	}
}

func TestAttemptTransitions(t *testing.T) {
	a := &Attempt{Phase: enum.PhaseSettled}
	if err := a.transition(enum.PhaseIdle); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SETTLED -> IDLE: err = %v", err)
	}
	a = &Attempt{Phase: enum.PhaseIdle}
	if err := a.transition(enum.PhaseSubmitting); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("IDLE -> SUBMITTING must go through VALIDATING: err = %v", err)
	}
	for _, to := range []string{enum.PhaseValidating, enum.PhaseSubmitting, enum.PhaseSettled} {
		if err := a.transition(to); err != nil {
			t.Fatalf("-> %s: %v", to, err)
		}
	}
}
