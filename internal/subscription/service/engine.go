package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"subgate/internal/access"
	"subgate/internal/btzpay"
	"subgate/internal/metrics"
	"subgate/internal/plan"
	"subgate/internal/subscription"
)

const (
	DefaultIntentTimeout = 15 * time.Minute
	DefaultProductName   = "Subscription"
	cancelReason         = "User cancelled"
)

// Gateway is the subset of the payment gateway client the engine uses.
type Gateway interface {
	CreateIntent(ctx context.Context, req btzpay.CreateIntentRequest) (*btzpay.Intent, error)
	GetStatus(ctx context.Context, transactionID, accessKey string) (*btzpay.TransactionStatus, error)
	CancelIntent(ctx context.Context, transactionID, reason string) (map[string]any, error)
}

type PlanCatalog interface {
	Lookup(id string) (plan.Plan, error)
}

type EngineConfig struct {
	IntentTimeout time.Duration // how long a payment QR stays payable
	CallbackURL   string
	ProductName   string
	Policy        access.Policy
}

// Outcome is the result of reconciling a pending transaction.
type Outcome string

const (
	OutcomeActivated    Outcome = "activated"
	OutcomeTerminated   Outcome = "terminated"
	OutcomeStillPending Outcome = "still_pending"
)

type BuyResult struct {
	Plan    plan.Plan
	Pending subscription.PendingTransaction
	// Existing is set when an unresolved transaction was already outstanding.
	// Pending is that transaction and nothing new was created.
	Existing bool
	// Reconciled is the check run on a locally expired transaction before
	// buying, if any.
	Reconciled *CheckResult
}

type CheckResult struct {
	Outcome     Outcome
	Status      btzpay.Status
	RawStatus   string
	Transaction subscription.PendingTransaction
	Record      *subscription.Record
}

type CancelResult struct {
	Transaction subscription.PendingTransaction
	// GatewayAcknowledged is false when the gateway cancel call failed. The
	// local transaction is cleared either way.
	GatewayAcknowledged bool
}

// StatusView is what a user sees about their own subscription.
type StatusView struct {
	UserID       int64
	PlanID       string
	Active       bool
	ActiveUntil  time.Time
	Remaining    time.Duration
	BoundGroupID int64
	Pending      *subscription.PendingTransaction
}

// Engine runs the per-user subscription state machine. Operations on the
// same user are serialized, including their gateway round trips.
type Engine struct {
	subs    *Service
	gateway Gateway
	plans   PlanCatalog
	cfg     EngineConfig
	locks   *userLocks
	now     Clock
}

func NewEngine(subs *Service, gateway Gateway, plans PlanCatalog, cfg EngineConfig) *Engine {
	if cfg.IntentTimeout <= 0 {
		cfg.IntentTimeout = DefaultIntentTimeout
	}
	if cfg.ProductName == "" {
		cfg.ProductName = DefaultProductName
	}
	return &Engine{
		subs:    subs,
		gateway: gateway,
		plans:   plans,
		cfg:     cfg,
		locks:   newUserLocks(),
		now:     subs.now,
	}
}

// Now is the engine clock.
func (e *Engine) Now() time.Time {
	return e.now()
}

func (e *Engine) Policy() access.Policy {
	return e.cfg.Policy
}

func (e *Engine) lookupPlan(planID string) (plan.Plan, error) {
	p, err := e.plans.Lookup(planID)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("%w: %q", ErrInvalidPlan, planID)
	}
	return p, nil
}

// Buy issues a payment intent for planID. An outstanding unresolved
// transaction is returned as is instead of creating a second one.
func (e *Engine) Buy(ctx context.Context, userID int64, planID string) (*BuyResult, error) {
	p, err := e.lookupPlan(planID)
	if err != nil {
		record("buy", "invalid_plan")
		return nil, err
	}

	unlock, err := e.locks.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := e.subs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &BuyResult{Plan: p}
	if rec.Pending.Unresolved() {
		if !rec.Pending.LocallyExpired(e.now()) {
			return e.existing(result, *rec.Pending), nil
		}

		// The QR is past its deadline here, but a late payment must still be credited.
		check, err := e.reconcile(ctx, userID, *rec.Pending)
		if err != nil && !errors.Is(err, subscription.ErrNoPendingTransaction) {
			return nil, err
		}
		result.Reconciled = check
		if check != nil && check.Outcome == OutcomeStillPending {
			return e.existing(result, check.Transaction), nil
		}
	}

	tx, err := e.createIntent(ctx, userID, p)
	if err != nil {
		record("buy", "gateway_error")
		return nil, err
	}

	if _, err := e.subs.SetPendingTransaction(ctx, userID, tx); err != nil {
		log.Error().Err(err).Str("component", "engine").Int64("user_id", userID).
			Str("transaction_id", tx.GatewayTransactionID).Msg("failed to store pending transaction, cancelling intent")
		e.cancelRemote(context.WithoutCancel(ctx), userID, tx.GatewayTransactionID)
		return nil, fmt.Errorf("store pending transaction: %w", err)
	}

	record("buy", "created")
	log.Info().Str("component", "engine").Int64("user_id", userID).Str("plan", p.ID).
		Str("transaction_id", tx.GatewayTransactionID).Str("order_id", tx.OrderID).Msg("payment intent created")

	result.Pending = tx
	return result, nil
}

// existing fills result with the outstanding transaction and the plan it was
// created for, which may differ from the plan just requested.
func (e *Engine) existing(result *BuyResult, tx subscription.PendingTransaction) *BuyResult {
	record("buy", "existing")
	p, err := e.plans.Lookup(tx.PlanID)
	if err != nil {
		p = plan.Plan{ID: tx.PlanID, PriceMinor: tx.AmountMinor}
	}
	result.Plan = p
	result.Pending = tx
	result.Existing = true
	return result
}

func (e *Engine) createIntent(ctx context.Context, userID int64, p plan.Plan) (subscription.PendingTransaction, error) {
	orderID := uuid.NewString()
	req := btzpay.CreateIntentRequest{
		Amount:      p.PriceMinor,
		TimeoutMs:   e.cfg.IntentTimeout.Milliseconds(),
		Notes:       fmt.Sprintf("SUB user=%d plan=%s order=%s", userID, p.ID, orderID),
		CallbackURL: e.cfg.CallbackURL,
		Metadata: map[string]any{
			"orderId":     orderID,
			"userId":      strconv.FormatInt(userID, 10),
			"plan":        p.ID,
			"productName": e.cfg.ProductName + " " + p.ID,
		},
	}

	intent, err := e.gateway.CreateIntent(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("component", "engine").Int64("user_id", userID).Str("order_id", orderID).
			Bool("ambiguous", btzpay.IsTimeout(err)).Msg("create payment intent failed")
		return subscription.PendingTransaction{}, createError(err)
	}

	now := e.now()
	expiresAt := intent.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(e.cfg.IntentTimeout)
	}
	return subscription.PendingTransaction{
		PlanID:               p.ID,
		AmountMinor:          p.PriceMinor,
		GatewayTransactionID: intent.TransactionID,
		GatewayAccessKey:     intent.AccessKey,
		PaymentURL:           intent.PaymentURL,
		OrderID:              orderID,
		CreatedAt:            now.UTC().Truncate(time.Second),
		ExpiresAt:            expiresAt.UTC(),
		LastKnownStatus:      btzpay.StatusPending,
	}, nil
}

// CheckPending asks the gateway about the user's pending transaction and
// applies the outcome.
func (e *Engine) CheckPending(ctx context.Context, userID int64) (*CheckResult, error) {
	unlock, err := e.locks.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := e.subs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec.Pending == nil {
		record("check", "nothing_pending")
		return nil, subscription.ErrNoPendingTransaction
	}
	return e.reconcile(ctx, userID, *rec.Pending)
}

// reconcile must be called with the user's lock held.
func (e *Engine) reconcile(ctx context.Context, userID int64, tx subscription.PendingTransaction) (*CheckResult, error) {
	st, err := e.gateway.GetStatus(ctx, tx.GatewayTransactionID, tx.GatewayAccessKey)
	if err != nil {
		record("check", "gateway_error")
		log.Warn().Err(err).Str("component", "engine").Int64("user_id", userID).
			Str("transaction_id", tx.GatewayTransactionID).Msg("status check failed")
		return nil, gatewayError(err)
	}

	status := st.Normalized()
	result := &CheckResult{Status: status, RawStatus: st.Status, Transaction: tx}
	logger := log.With().Str("component", "engine").Int64("user_id", userID).
		Str("transaction_id", tx.GatewayTransactionID).Str("status", st.Status).Logger()

	switch status {
	case btzpay.StatusSuccess:
		p, err := e.lookupPlan(tx.PlanID)
		if err != nil {
			logger.Error().Err(err).Msg("paid transaction references an unknown plan, leaving it pending")
			return nil, err
		}
		rec, err := e.subs.SettlePayment(ctx, userID, tx.GatewayTransactionID, p)
		if err != nil {
			if errors.Is(err, subscription.ErrNoPendingTransaction) {
				record("check", "nothing_pending")
			}
			return nil, err
		}
		record("check", "activated")
		logger.Info().Time("active_until", rec.ActiveUntil).Msg("payment settled")
		result.Outcome = OutcomeActivated
		result.Record = rec
		return result, nil

	case btzpay.StatusExpired, btzpay.StatusFailed, btzpay.StatusCancelled:
		rec, err := e.subs.ResolvePending(ctx, userID, tx.GatewayTransactionID)
		if err != nil {
			return nil, err
		}
		record("check", string(status))
		logger.Info().Msg("payment ended without settlement")
		result.Outcome = OutcomeTerminated
		result.Record = rec
		return result, nil

	default:
		if status == btzpay.StatusUnknown {
			record("check", "unknown_status")
			logger.Warn().Msg("unrecognized gateway status, treating as pending")
		} else {
			record("check", "still_pending")
		}
		var rec *subscription.Record
		if tx.LastKnownStatus != status {
			rec, err = e.subs.RecordPendingStatus(ctx, userID, tx.GatewayTransactionID, status)
		} else {
			rec, err = e.subs.Get(ctx, userID)
		}
		if err != nil {
			return nil, err
		}
		if rec.Pending != nil {
			result.Transaction = *rec.Pending
		}
		result.Outcome = OutcomeStillPending
		result.Record = rec
		return result, nil
	}
}

// CancelPending drops the user's pending transaction. The gateway is told on
// a best-effort basis.
func (e *Engine) CancelPending(ctx context.Context, userID int64) (*CancelResult, error) {
	unlock, err := e.locks.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := e.subs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec.Pending == nil {
		record("cancel", "nothing_pending")
		return nil, subscription.ErrNoPendingTransaction
	}
	tx := *rec.Pending

	acked := e.cancelRemote(ctx, userID, tx.GatewayTransactionID)

	if _, err := e.subs.ResolvePending(context.WithoutCancel(ctx), userID, tx.GatewayTransactionID); err != nil {
		return nil, err
	}
	record("cancel", "cancelled")
	log.Info().Str("component", "engine").Int64("user_id", userID).
		Str("transaction_id", tx.GatewayTransactionID).Bool("gateway_ack", acked).Msg("pending transaction cancelled")

	return &CancelResult{Transaction: tx, GatewayAcknowledged: acked}, nil
}

func (e *Engine) cancelRemote(ctx context.Context, userID int64, txID string) bool {
	if _, err := e.gateway.CancelIntent(ctx, txID, cancelReason); err != nil {
		log.Warn().Err(gatewayError(err)).Str("component", "engine").Int64("user_id", userID).
			Str("transaction_id", txID).Msg("gateway cancel failed, ignoring")
		return false
	}
	return true
}

// Bind attaches the user's active subscription to groupID.
func (e *Engine) Bind(ctx context.Context, userID, groupID int64) (*subscription.Record, error) {
	if e.cfg.Policy.IsFreeGroup(groupID) {
		record("bind", "free_group")
		return nil, ErrFreeGroupBind
	}

	unlock, err := e.locks.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := e.subs.BindGroup(ctx, userID, groupID)
	if err != nil {
		record("bind", outcomeOf(err))
		return nil, err
	}
	record("bind", "bound")
	log.Info().Str("component", "engine").Int64("user_id", userID).Int64("group_id", groupID).Msg("group bound")
	return rec, nil
}

// Unbind detaches the bound group. It is not an error when none is bound.
func (e *Engine) Unbind(ctx context.Context, userID int64) (*subscription.Record, error) {
	unlock, err := e.locks.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := e.subs.UnbindGroup(ctx, userID)
	if err != nil {
		record("unbind", outcomeOf(err))
		return nil, err
	}
	record("unbind", "unbound")
	log.Info().Str("component", "engine").Int64("user_id", userID).Msg("group unbound")
	return rec, nil
}

// IsAuthorized evaluates the access policy for principal in chat. It does not
// take the user lock and never writes.
func (e *Engine) IsAuthorized(ctx context.Context, principal int64, chat access.Chat) (access.Decision, error) {
	rec, err := e.subs.Get(ctx, principal)
	if err != nil {
		return access.Decision{Reason: access.ReasonDenied}, err
	}
	return e.cfg.Policy.Authorize(principal, chat, rec, e.now()), nil
}

func (e *Engine) RemainingTime(ctx context.Context, userID int64) (time.Duration, error) {
	rec, err := e.subs.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return rec.Remaining(e.now()), nil
}

// CurrentPlan returns the plan of the last successful payment while the
// subscription is active.
func (e *Engine) CurrentPlan(ctx context.Context, userID int64) (plan.Plan, bool, error) {
	rec, err := e.subs.Get(ctx, userID)
	if err != nil {
		return plan.Plan{}, false, err
	}
	if !rec.IsActive(e.now()) || rec.PlanID == "" {
		return plan.Plan{}, false, nil
	}
	p, err := e.plans.Lookup(rec.PlanID)
	if err != nil {
		// Plan was removed from the catalog after purchase.
		return plan.Plan{ID: rec.PlanID}, true, nil
	}
	return p, true, nil
}

func (e *Engine) BoundGroup(ctx context.Context, userID int64) (int64, bool, error) {
	rec, err := e.subs.Get(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	return rec.BoundGroupID, rec.BoundGroupID != 0, nil
}

func (e *Engine) Status(ctx context.Context, userID int64) (*StatusView, error) {
	rec, err := e.subs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	return &StatusView{
		UserID:       userID,
		PlanID:       rec.PlanID,
		Active:       rec.IsActive(now),
		ActiveUntil:  rec.ActiveUntil,
		Remaining:    rec.Remaining(now),
		BoundGroupID: rec.BoundGroupID,
		Pending:      rec.Pending,
	}, nil
}

func record(action, outcome string) {
	metrics.ReconcileOutcomesTotal.WithLabelValues(action, outcome).Inc()
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, subscription.ErrSubscriptionInactive):
		return "inactive"
	case errors.Is(err, subscription.ErrAlreadyBoundElsewhere):
		return "bound_elsewhere"
	case errors.Is(err, subscription.ErrInvalidGroup):
		return "invalid_group"
	default:
		return "error"
	}
}
