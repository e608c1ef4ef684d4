package service

import (
	"context"
	"fmt"

	"subgate/internal/access"
	"subgate/internal/subscription"
)

type Action string

const (
	ActionBuy    Action = "buy"
	ActionCheck  Action = "check"
	ActionCancel Action = "cancel"
	ActionBind   Action = "bind"
	ActionUnbind Action = "unbind"
	ActionStatus Action = "status"
	ActionAccess Action = "access"
)

// InboundEvent is a user action already stripped of its transport. Chat is
// where the action was issued; PlanID is used by ActionBuy only.
type InboundEvent struct {
	Principal int64
	Chat      access.Chat
	Action    Action
	PlanID    string
}

// Reply carries the result of exactly one action; the other fields are nil.
type Reply struct {
	Action   Action
	Buy      *BuyResult
	Check    *CheckResult
	Cancel   *CancelResult
	Record   *subscription.Record
	Status   *StatusView
	Decision *access.Decision
}

// Handle dispatches ev to the matching engine operation.
func (e *Engine) Handle(ctx context.Context, ev InboundEvent) (*Reply, error) {
	reply := &Reply{Action: ev.Action}
	var err error

	switch ev.Action {
	case ActionBuy:
		reply.Buy, err = e.Buy(ctx, ev.Principal, ev.PlanID)
	case ActionCheck:
		reply.Check, err = e.CheckPending(ctx, ev.Principal)
	case ActionCancel:
		reply.Cancel, err = e.CancelPending(ctx, ev.Principal)
	case ActionBind:
		if !ev.Chat.Kind.IsGroup() {
			return nil, ErrBindRequiresGroup
		}
		reply.Record, err = e.Bind(ctx, ev.Principal, ev.Chat.ID)
	case ActionUnbind:
		reply.Record, err = e.Unbind(ctx, ev.Principal)
	case ActionStatus:
		reply.Status, err = e.Status(ctx, ev.Principal)
	case ActionAccess:
		var d access.Decision
		d, err = e.IsAuthorized(ctx, ev.Principal, ev.Chat)
		reply.Decision = &d
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, ev.Action)
	}

	if err != nil {
		return nil, err
	}
	return reply, nil
}
