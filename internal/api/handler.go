package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/listener"
	"github.com/beltoft/restock/internal/metrics"
	"github.com/beltoft/restock/internal/settings"
	"github.com/beltoft/restock/internal/store"
	"github.com/beltoft/restock/internal/token"
	"github.com/beltoft/restock/internal/validator"
)

// SubscriptionStore defines the subscription database operations the API needs.
type SubscriptionStore interface {
	Upsert(ctx context.Context, p store.UpsertParams) (int64, store.UpsertOutcome, error)
	GetByToken(ctx context.Context, token string) (*store.Subscription, error)
	UnsubscribeByToken(ctx context.Context, token string) (bool, error)
	List(ctx context.Context, args store.ListArgs) ([]*store.Subscription, int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
	TopProducts(ctx context.Context, limit, offset int) ([]*store.ProductCount, int64, error)
	BulkDelete(ctx context.Context, ids []int64) (int64, error)
	BulkMarkNotified(ctx context.Context, ids []int64) (int64, error)
}

// SubscriptionRequest represents the incoming subscribe form body.
type SubscriptionRequest struct {
	Email       string `json:"email"`
	ProductID   int64  `json:"product_id"`
	VariationID int64  `json:"variation_id"`
	Quantity    int    `json:"quantity"`
	Consent     bool   `json:"consent"`
	// Website is the honeypot field; humans never fill it.
	Website string `json:"website"`
}

// SubscriptionResponse is returned after a subscribe attempt.
type SubscriptionResponse struct {
	Outcome string `json:"outcome"`
	Message string `json:"message"`
}

// StockEventRequest is the webhook body for a stock status change.
type StockEventRequest struct {
	EntityID     int64    `json:"entity_id"`
	StockStatus  string   `json:"stock_status"`
	ChangedProps []string `json:"changed_props,omitempty"`
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers.
type Handler struct {
	logger    *zap.Logger
	subs      SubscriptionStore
	validator *validator.Validator
	tokens    *token.Manager
	listener  *listener.Listener
	settings  settings.Provider
}

// NewHandler creates an API handler.
func NewHandler(logger *zap.Logger, subs SubscriptionStore, v *validator.Validator, tokens *token.Manager, l *listener.Listener, provider settings.Provider) *Handler {
	return &Handler{
		logger:    logger,
		subs:      subs,
		validator: v,
		tokens:    tokens,
		listener:  l,
		settings:  provider,
	}
}

// CreateSubscription handles POST /v1/subscriptions.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	ip := validator.ClientIP(r, h.settings().TrustForwardedFor)

	if rej := h.validator.Validate(ctx, validator.Request{
		Email:       req.Email,
		ProductID:   req.ProductID,
		VariationID: req.VariationID,
		Quantity:    req.Quantity,
		Consent:     req.Consent,
		Honeypot:    req.Website,
		IP:          ip,
	}); rej != nil {
		metrics.RecordRejection(rej.Code)
		status := http.StatusUnprocessableEntity
		if rej.Code == validator.CodeRateLimited {
			status = http.StatusTooManyRequests
		}
		h.writeError(w, status, rej.Code, "Subscription rejected", rej.Message)
		return
	}

	quantity := req.Quantity
	if quantity < 1 {
		quantity = 1
	}

	id, outcome, err := h.subs.Upsert(ctx, store.UpsertParams{
		ProductID:   req.ProductID,
		VariationID: req.VariationID,
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		Quantity:    quantity,
		IPAddress:   ip,
		GDPRConsent: req.Consent,
	})
	if err != nil {
		h.logger.Error("failed to upsert subscription",
			zap.Error(err),
			zap.Int64("product_id", req.ProductID),
		)
		h.writeError(w, http.StatusInternalServerError, "store_error", "Failed to save subscription", "Please try again.")
		return
	}

	metrics.RecordSubscription(outcome.String())
	h.logger.Info("subscription processed",
		zap.Int64("id", id),
		zap.Int64("product_id", req.ProductID),
		zap.Int64("variation_id", req.VariationID),
		zap.String("outcome", outcome.String()),
	)

	resp := SubscriptionResponse{Outcome: outcome.String()}
	status := http.StatusCreated
	switch outcome {
	case store.OutcomeAlreadyActive:
		resp.Message = "You are already subscribed to this product."
		status = http.StatusOK
	case store.OutcomeReactivated:
		resp.Message = "Your subscription has been renewed. We'll email you when it's back."
		status = http.StatusOK
	default:
		resp.Message = "You're subscribed! We'll email you when it's back in stock."
	}

	h.writeJSON(w, status, resp)
}

// StockEvent handles POST /v1/events/stock, the push path for stock changes.
// Kafka consumption covers deployments without webhooks.
func (h *Handler) StockEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req StockEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.EntityID <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing entity_id", "entity_id is required")
		return
	}

	pass := h.listener.NewPass()
	var err error
	if len(req.ChangedProps) > 0 {
		err = pass.OnProductUpdated(ctx, req.EntityID, req.StockStatus, req.ChangedProps)
	} else {
		err = pass.OnStockTransition(ctx, req.EntityID, req.StockStatus)
	}
	if err != nil {
		h.logger.Error("failed to process stock event",
			zap.Error(err),
			zap.Int64("entity_id", req.EntityID),
		)
		h.writeError(w, http.StatusInternalServerError, "event_error", "Failed to process stock event", "")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
