package subscription

import (
	"errors"
	"time"

	"subgate/internal/btzpay"
	"subgate/internal/plan"
)

var (
	ErrNoPendingTransaction  = errors.New("no pending transaction")
	ErrSubscriptionInactive  = errors.New("subscription is not active")
	ErrAlreadyBoundElsewhere = errors.New("subscription is already bound to another group")
	ErrInvalidGroup          = errors.New("invalid group id")
)

// PendingTransaction is a gateway payment request that has not reached a
// terminal status yet. At most one exists per user.
type PendingTransaction struct {
	PlanID               string        `json:"plan_id"`
	AmountMinor          int64         `json:"amount_minor"`
	GatewayTransactionID string        `json:"transaction_id"`
	GatewayAccessKey     string        `json:"access_key"`
	PaymentURL           string        `json:"payment_url"`
	OrderID              string        `json:"order_id"`
	CreatedAt            time.Time     `json:"created_at"`
	ExpiresAt            time.Time     `json:"expires_at"`
	LastKnownStatus      btzpay.Status `json:"status"`
}

// Unresolved reports whether the transaction may still settle.
func (p *PendingTransaction) Unresolved() bool {
	return p != nil && !p.LastKnownStatus.Terminal()
}

// LocallyExpired reports whether the gateway-side deadline has passed.
func (p *PendingTransaction) LocallyExpired(now time.Time) bool {
	return p != nil && !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Record is the per-user subscription state. The zero value (apart from
// UserID) is a user that never subscribed.
type Record struct {
	UserID       int64
	PlanID       string    // empty until the first successful payment
	ActiveUntil  time.Time // zero means never subscribed
	BoundGroupID int64     // 0 means no group is bound
	Pending      *PendingTransaction
	UpdatedAt    time.Time
}

// NewRecord returns the default record for a user without stored state.
func NewRecord(userID int64) *Record {
	return &Record{UserID: userID}
}

// Clone returns a deep copy, so callers can mutate it without touching
// the stored value.
func (r *Record) Clone() *Record {
	c := *r
	if r.Pending != nil {
		p := *r.Pending
		c.Pending = &p
	}
	return &c
}

// IsActive reports whether the subscription window covers now.
func (r *Record) IsActive(now time.Time) bool {
	return r.ActiveUntil.After(now)
}

// Remaining is the time left in the subscription window, never negative.
func (r *Record) Remaining(now time.Time) time.Duration {
	if !r.IsActive(now) {
		return 0
	}
	return r.ActiveUntil.Sub(now)
}

// SetPending overwrites any existing pending transaction.
func (r *Record) SetPending(tx PendingTransaction) {
	r.Pending = &tx
}

// ClearPending drops the pending transaction, if any.
func (r *Record) ClearPending() {
	r.Pending = nil
}

// ApplyPayment extends the subscription by the plan duration starting from
// the later of now and the current end, so early renewals stack.
func (r *Record) ApplyPayment(p plan.Plan, now time.Time) {
	start := now
	if r.ActiveUntil.After(now) {
		start = r.ActiveUntil
	}
	r.ActiveUntil = start.Add(p.Duration).Truncate(time.Second)
	r.PlanID = p.ID
}

// Bind attaches the subscription to a group. Binding the same group again is
// a no-op; binding a different one is refused.
func (r *Record) Bind(groupID int64, now time.Time) error {
	if groupID == 0 {
		return ErrInvalidGroup
	}
	if !r.IsActive(now) {
		return ErrSubscriptionInactive
	}
	if r.BoundGroupID != 0 && r.BoundGroupID != groupID {
		return ErrAlreadyBoundElsewhere
	}
	r.BoundGroupID = groupID
	return nil
}

// Unbind clears the bound group. It is not an error when none is bound.
func (r *Record) Unbind() {
	r.BoundGroupID = 0
}
