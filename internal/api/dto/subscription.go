package dto

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"subgate/internal/plan"
	"subgate/internal/subscription"
	"subgate/internal/subscription/service"
)

type BuyRequest struct {
	PlanID string `json:"plan_id" validate:"required,max=32"`
}

type ChatRequest struct {
	ChatID   int64  `json:"chat_id" validate:"required"`
	ChatType string `json:"chat_type" validate:"required,oneof=private group supergroup channel"`
	ThreadID int64  `json:"thread_id,omitempty" validate:"gte=0"`
}

type PlanResponse struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	DurationSeconds int64  `json:"duration_seconds"`
	PriceMinor      int64  `json:"price_minor"`
}

type PendingResponse struct {
	TransactionID string    `json:"transaction_id"`
	OrderID       string    `json:"order_id"`
	PlanID        string    `json:"plan_id"`
	AmountMinor   int64     `json:"amount_minor"`
	PaymentURL    string    `json:"payment_url"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type SubscriptionResponse struct {
	UserID           int64            `json:"user_id"`
	PlanID           string           `json:"plan_id,omitempty"`
	Active           bool             `json:"active"`
	ActiveUntil      *time.Time       `json:"active_until,omitempty"`
	RemainingSeconds int64            `json:"remaining_seconds"`
	BoundGroupID     *int64           `json:"bound_group_id,omitempty"`
	Pending          *PendingResponse `json:"pending,omitempty"`
}

type BuyResponse struct {
	Existing   bool            `json:"existing"`
	Plan       PlanResponse    `json:"plan"`
	Pending    PendingResponse `json:"pending"`
	Reconciled *CheckResponse  `json:"reconciled,omitempty"`
}

type CheckResponse struct {
	Outcome      string               `json:"outcome"`
	Status       string               `json:"status"`
	RawStatus    string               `json:"raw_status"`
	Subscription SubscriptionResponse `json:"subscription"`
}

type CancelResponse struct {
	TransactionID       string `json:"transaction_id"`
	GatewayAcknowledged bool   `json:"gateway_acknowledged"`
}

type AccessResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

var Validate = newValidator()

// newValidator reports JSON field names in validation errors.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func NewPlanResponse(p plan.Plan) PlanResponse {
	return PlanResponse{ID: p.ID, Label: p.Label, DurationSeconds: p.DurationSeconds(), PriceMinor: p.PriceMinor}
}

func NewPendingResponse(tx subscription.PendingTransaction) PendingResponse {
	return PendingResponse{
		TransactionID: tx.GatewayTransactionID,
		OrderID:       tx.OrderID,
		PlanID:        tx.PlanID,
		AmountMinor:   tx.AmountMinor,
		PaymentURL:    tx.PaymentURL,
		Status:        string(tx.LastKnownStatus),
		CreatedAt:     tx.CreatedAt,
		ExpiresAt:     tx.ExpiresAt,
	}
}

func NewSubscriptionResponse(rec *subscription.Record, now time.Time) SubscriptionResponse {
	resp := SubscriptionResponse{
		UserID:           rec.UserID,
		PlanID:           rec.PlanID,
		Active:           rec.IsActive(now),
		RemainingSeconds: int64(rec.Remaining(now) / time.Second),
	}
	if !rec.ActiveUntil.IsZero() {
		until := rec.ActiveUntil
		resp.ActiveUntil = &until
	}
	if rec.BoundGroupID != 0 {
		group := rec.BoundGroupID
		resp.BoundGroupID = &group
	}
	if rec.Pending != nil {
		pending := NewPendingResponse(*rec.Pending)
		resp.Pending = &pending
	}
	return resp
}

func NewStatusResponse(view *service.StatusView) SubscriptionResponse {
	rec := &subscription.Record{
		UserID:       view.UserID,
		PlanID:       view.PlanID,
		ActiveUntil:  view.ActiveUntil,
		BoundGroupID: view.BoundGroupID,
		Pending:      view.Pending,
	}
	resp := NewSubscriptionResponse(rec, time.Time{})
	resp.Active = view.Active
	resp.RemainingSeconds = int64(view.Remaining / time.Second)
	return resp
}

func NewCheckResponse(res *service.CheckResult, now time.Time) CheckResponse {
	resp := CheckResponse{
		Outcome:   string(res.Outcome),
		Status:    string(res.Status),
		RawStatus: res.RawStatus,
	}
	if res.Record != nil {
		resp.Subscription = NewSubscriptionResponse(res.Record, now)
	}
	return resp
}

func NewBuyResponse(res *service.BuyResult, now time.Time) BuyResponse {
	resp := BuyResponse{
		Existing: res.Existing,
		Plan:     NewPlanResponse(res.Plan),
		Pending:  NewPendingResponse(res.Pending),
	}
	if res.Reconciled != nil {
		check := NewCheckResponse(res.Reconciled, now)
		resp.Reconciled = &check
	}
	return resp
}
