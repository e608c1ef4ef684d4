package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"subgate/internal/access"
	"subgate/internal/api/dto"
	"subgate/internal/plan"
	"subgate/internal/subscription"
	"subgate/internal/subscription/service"
	"subgate/pkg/middleware"
)

type Handler struct {
	engine *service.Engine
	plans  *plan.Catalog
}

func NewSubscriptionHandler(engine *service.Engine, plans *plan.Catalog) *Handler {
	return &Handler{engine: engine, plans: plans}
}

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.plans.List()
	resp := make([]dto.PlanResponse, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, dto.NewPlanResponse(p))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	reply, ok := h.dispatch(w, r, service.InboundEvent{Action: service.ActionStatus})
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, dto.NewStatusResponse(reply.Status))
}

func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	var req dto.BuyRequest
	if !decode(w, r, &req) {
		return
	}
	reply, ok := h.dispatch(w, r, service.InboundEvent{Action: service.ActionBuy, PlanID: req.PlanID})
	if !ok {
		return
	}

	status := http.StatusCreated
	if reply.Buy.Existing {
		status = http.StatusOK
	}
	middleware.WriteJSON(w, status, dto.NewBuyResponse(reply.Buy, h.engine.Now()))
}

func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	reply, ok := h.dispatch(w, r, service.InboundEvent{Action: service.ActionCheck})
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, dto.NewCheckResponse(reply.Check, h.engine.Now()))
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	reply, ok := h.dispatch(w, r, service.InboundEvent{Action: service.ActionCancel})
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, dto.CancelResponse{
		TransactionID:       reply.Cancel.Transaction.GatewayTransactionID,
		GatewayAcknowledged: reply.Cancel.GatewayAcknowledged,
	})
}

func (h *Handler) Bind(w http.ResponseWriter, r *http.Request) {
	var req dto.ChatRequest
	if !decode(w, r, &req) {
		return
	}
	reply, ok := h.dispatch(w, r, service.InboundEvent{Action: service.ActionBind, Chat: chatOf(req)})
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, dto.NewSubscriptionResponse(reply.Record, h.engine.Now()))
}

func (h *Handler) Unbind(w http.ResponseWriter, r *http.Request) {
	reply, ok := h.dispatch(w, r, service.InboundEvent{Action: service.ActionUnbind})
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, dto.NewSubscriptionResponse(reply.Record, h.engine.Now()))
}

func (h *Handler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	var req dto.ChatRequest
	if !decode(w, r, &req) {
		return
	}
	reply, ok := h.dispatch(w, r, service.InboundEvent{Action: service.ActionAccess, Chat: chatOf(req)})
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, dto.AccessResponse{
		Allowed: reply.Decision.Allowed,
		Reason:  string(reply.Decision.Reason),
	})
}

// dispatch fills in the principal, runs the event and writes the error reply
// when it fails. A request without an explicit chat acts from the user's
// private chat.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, ev service.InboundEvent) (*service.Reply, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	ev.Principal = userID
	if ev.Chat.Kind == "" {
		ev.Chat = access.Chat{ID: userID, Kind: access.ChatPrivate}
	}

	reply, err := h.engine.Handle(r.Context(), ev)
	if err != nil {
		writeEngineError(w, ev, err)
		return nil, false
	}
	return reply, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if err := dto.Validate.Struct(dst); err != nil {
		middleware.HandleValidationError(w, err)
		return false
	}
	return true
}

func chatOf(req dto.ChatRequest) access.Chat {
	return access.Chat{ID: req.ChatID, Kind: access.ChatKind(req.ChatType), ThreadID: req.ThreadID}
}

func writeEngineError(w http.ResponseWriter, ev service.InboundEvent, err error) {
	status, msg := http.StatusInternalServerError, "internal error"

	switch {
	case errors.Is(err, service.ErrInvalidPlan):
		status, msg = http.StatusBadRequest, "unknown plan"
	case errors.Is(err, service.ErrBindRequiresGroup):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, subscription.ErrInvalidGroup):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, subscription.ErrNoPendingTransaction):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, subscription.ErrSubscriptionInactive):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrFreeGroupBind):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, subscription.ErrAlreadyBoundElsewhere):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrAmbiguousCreate):
		status, msg = http.StatusServiceUnavailable, "payment request timed out, check again before retrying"
	case errors.Is(err, service.ErrGatewayUnavailable):
		status, msg = http.StatusServiceUnavailable, "payment gateway unavailable, try again later"
	case errors.Is(err, service.ErrGatewayRejected), errors.Is(err, service.ErrGatewayProtocol):
		status, msg = http.StatusBadGateway, "payment gateway error"
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("component", "http").Str("action", string(ev.Action)).
			Int64("user_id", ev.Principal).Msg("request failed")
	}
	middleware.WriteError(w, status, msg)
}
