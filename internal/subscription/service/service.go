package service

import (
	"context"
	"time"

	"subgate/internal/btzpay"
	"subgate/internal/plan"
	"subgate/internal/subscription"
)

// SubscriptionRepository is the persistence contract. Update must apply fn
// atomically per user: concurrent updates for the same user are serialized
// and a failing fn leaves the record untouched.
type SubscriptionRepository interface {
	Get(ctx context.Context, userID int64) (*subscription.Record, error)
	Update(ctx context.Context, userID int64, fn func(*subscription.Record) error) (*subscription.Record, error)
	ListPending(ctx context.Context) ([]int64, error)
}

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

// Service applies subscription state changes through the repository.
type Service struct {
	repo SubscriptionRepository
	now  Clock
}

func NewService(repo SubscriptionRepository, now Clock) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, now: now}
}

func (s *Service) Get(ctx context.Context, userID int64) (*subscription.Record, error) {
	return s.repo.Get(ctx, userID)
}

func (s *Service) ListPending(ctx context.Context) ([]int64, error) {
	return s.repo.ListPending(ctx)
}

// SetPendingTransaction replaces whatever pending transaction the user had.
func (s *Service) SetPendingTransaction(ctx context.Context, userID int64, tx subscription.PendingTransaction) (*subscription.Record, error) {
	return s.repo.Update(ctx, userID, func(rec *subscription.Record) error {
		rec.SetPending(tx)
		return nil
	})
}

func (s *Service) ClearPendingTransaction(ctx context.Context, userID int64) (*subscription.Record, error) {
	return s.repo.Update(ctx, userID, func(rec *subscription.Record) error {
		rec.ClearPending()
		return nil
	})
}

// ResolvePending clears the pending transaction only while it is still txID.
// It returns ErrNoPendingTransaction when another caller got there first.
func (s *Service) ResolvePending(ctx context.Context, userID int64, txID string) (*subscription.Record, error) {
	return s.repo.Update(ctx, userID, func(rec *subscription.Record) error {
		if rec.Pending == nil || rec.Pending.GatewayTransactionID != txID {
			return subscription.ErrNoPendingTransaction
		}
		rec.ClearPending()
		return nil
	})
}

// RecordPendingStatus stores the latest non-terminal status the gateway
// reported for txID.
func (s *Service) RecordPendingStatus(ctx context.Context, userID int64, txID string, status btzpay.Status) (*subscription.Record, error) {
	return s.repo.Update(ctx, userID, func(rec *subscription.Record) error {
		if rec.Pending == nil || rec.Pending.GatewayTransactionID != txID {
			return subscription.ErrNoPendingTransaction
		}
		rec.Pending.LastKnownStatus = status
		return nil
	})
}

// ApplySuccessfulPayment extends the subscription by p and clears the pending
// transaction in one write.
func (s *Service) ApplySuccessfulPayment(ctx context.Context, userID int64, p plan.Plan) (*subscription.Record, error) {
	now := s.now()
	return s.repo.Update(ctx, userID, func(rec *subscription.Record) error {
		rec.ApplyPayment(p, now)
		rec.ClearPending()
		return nil
	})
}

// SettlePayment is ApplySuccessfulPayment guarded on the pending transaction
// id, so a payment is credited at most once even when several callers observe
// the same success.
func (s *Service) SettlePayment(ctx context.Context, userID int64, txID string, p plan.Plan) (*subscription.Record, error) {
	now := s.now()
	return s.repo.Update(ctx, userID, func(rec *subscription.Record) error {
		if rec.Pending == nil || rec.Pending.GatewayTransactionID != txID {
			return subscription.ErrNoPendingTransaction
		}
		rec.ApplyPayment(p, now)
		rec.ClearPending()
		return nil
	})
}

func (s *Service) BindGroup(ctx context.Context, userID, groupID int64) (*subscription.Record, error) {
	now := s.now()
	return s.repo.Update(ctx, userID, func(rec *subscription.Record) error {
		return rec.Bind(groupID, now)
	})
}

// UnbindGroup clears the bound group of an active subscription.
func (s *Service) UnbindGroup(ctx context.Context, userID int64) (*subscription.Record, error) {
	now := s.now()
	return s.repo.Update(ctx, userID, func(rec *subscription.Record) error {
		if !rec.IsActive(now) {
			return subscription.ErrSubscriptionInactive
		}
		rec.Unbind()
		return nil
	})
}
