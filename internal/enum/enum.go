package enum

// ── Payment methods (as the remote API spells them) ──

const (
	PaymentMethodCash      = "cash"
	PaymentMethodCard      = "card"
	PaymentMethodEasypaisa = "easypaisa"
	PaymentMethodPending   = "pending"
)

// IsSettlementMethod reports whether m can settle a pending sale.
func IsSettlementMethod(m string) bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodEasypaisa:
		return true
	}
	return false
}

// ── Settlement attempt phases ──

const (
	PhaseIdle         = "IDLE"
	PhaseAwaitingCard = "AWAITING_CARD"
	PhaseValidating   = "VALIDATING"
	PhaseSubmitting   = "SUBMITTING"
	PhaseSettled      = "SETTLED"
	PhaseFailed       = "FAILED"
)

// ── Settlement modes (metric labels) ──

const (
	ModeSingle = "single"
	ModeBatch  = "batch"
)

// ── WebSocket topics and event types ──

const (
	TopicNotices = "notices"
	TopicPending = "pending"
)

const (
	EventNotice         = "notice"
	EventPendingUpdated = "pending.updated"
	EventSessionExpired = "session.expired"
)

// ── Notice levels ──

const (
	NoticeInfo    = "info"
	NoticeSuccess = "success"
	NoticeError   = "error"
)

// ── Persisted preference keys ──

const (
	PrefAuthToken        = "authToken"
	PrefLastView         = "lastView"
	PrefSidebarCollapsed = "sidebarCollapsed"
)
