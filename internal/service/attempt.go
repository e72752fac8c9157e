package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cafe-pos/terminal/internal/enum"
	"github.com/cafe-pos/terminal/internal/salesapi"
)

// ErrInvalidTransition is returned when an attempt cannot move to a phase.
var ErrInvalidTransition = errors.New("invalid settlement transition")

// Attempt is one operator-driven settlement of a sale or a batch of sales.
type Attempt struct {
	ID        uuid.UUID          `json:"id"`
	Mode      string             `json:"mode"`
	SaleIDs   []int64            `json:"sale_ids"`
	AmountDue decimal.Decimal    `json:"amount_due"`
	Phase     string             `json:"phase"`
	Method    string             `json:"payment_method,omitempty"`
	Customer  *salesapi.Customer `json:"customer,omitempty"`
	LastError string             `json:"last_error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// transitions lists the phases reachable from each phase.
var transitions = map[string][]string{
	enum.PhaseIdle:         {enum.PhaseIdle, enum.PhaseAwaitingCard, enum.PhaseValidating},
	enum.PhaseAwaitingCard: {enum.PhaseAwaitingCard, enum.PhaseIdle, enum.PhaseValidating},
	enum.PhaseValidating:   {enum.PhaseSubmitting, enum.PhaseIdle, enum.PhaseAwaitingCard},
	enum.PhaseSubmitting:   {enum.PhaseSettled, enum.PhaseFailed},
}

func (a *Attempt) transition(to string) error {
	for _, next := range transitions[a.Phase] {
		if next == to {
			a.Phase = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Phase, to)
}

// editable reports whether the operator may still change method or customer.
func (a *Attempt) editable() bool {
	return a.Phase == enum.PhaseIdle || a.Phase == enum.PhaseAwaitingCard
}

// restPhase is where an attempt returns after a rejected submit.
func (a *Attempt) restPhase() string {
	if a.Method == enum.PaymentMethodCard {
		return enum.PhaseAwaitingCard
	}
	return enum.PhaseIdle
}

func (a *Attempt) customerID() *int64 {
	if a.Customer == nil {
		return nil
	}
	id := a.Customer.ID
	return &id
}

func (a *Attempt) clone() Attempt {
	c := *a
	c.SaleIDs = append([]int64(nil), a.SaleIDs...)
	if a.Customer != nil {
		cust := *a.Customer
		c.Customer = &cust
	}
	return c
}
