package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/store"
)

// Admin endpoints back the shop staff dashboard: listing and searching
// subscriptions, aggregate stats, and bulk maintenance actions.

// ListSubscriptions handles GET /v1/subscriptions.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	args := store.ListArgs{
		Status:  q.Get("status"),
		Search:  q.Get("search"),
		OrderBy: q.Get("order_by"),
		Limit:   20,
	}

	switch args.Status {
	case "", store.StatusActive, store.StatusNotified, store.StatusUnsubscribed:
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status filter",
			"status must be one of: active, notified, unsubscribed")
		return
	}

	if pid := q.Get("product_id"); pid != "" {
		id, err := strconv.ParseInt(pid, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid product_id", "product_id must be an integer")
			return
		}
		args.ProductID = id
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			args.Limit = l
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			args.Offset = o
		}
	}
	args.Ascending = q.Get("order") == "asc"

	subs, total, err := h.subs.List(ctx, args)
	if err != nil {
		h.logger.Error("failed to list subscriptions", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "store_error", "Failed to list subscriptions", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":   subs,
		"total":  total,
		"limit":  args.Limit,
		"offset": args.Offset,
	})
}

// Stats handles GET /v1/stats: subscription counts by status.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.subs.CountByStatus(r.Context())
	if err != nil {
		h.logger.Error("failed to aggregate stats", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "store_error", "Failed to aggregate stats", "")
		return
	}

	var total int64
	for _, c := range counts {
		total += c
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"by_status": counts,
	})
}

// TopProducts handles GET /v1/stats/products: most-wanted products by
// active subscriber count.
func (h *Handler) TopProducts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	products, total, err := h.subs.TopProducts(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to aggregate top products", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "store_error", "Failed to aggregate top products", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":   products,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

type bulkRequest struct {
	IDs []int64 `json:"ids"`
}

func (h *Handler) decodeBulk(w http.ResponseWriter, r *http.Request) ([]int64, bool) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return nil, false
	}
	if len(req.IDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing ids", "ids must be a non-empty array")
		return nil, false
	}
	if len(req.IDs) > 1000 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Too many ids", "at most 1000 ids per request")
		return nil, false
	}
	return req.IDs, true
}

// BulkDelete handles POST /v1/subscriptions/bulk-delete.
func (h *Handler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.decodeBulk(w, r)
	if !ok {
		return
	}

	affected, err := h.subs.BulkDelete(r.Context(), ids)
	if err != nil {
		h.logger.Error("failed to bulk delete subscriptions", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "store_error", "Failed to delete subscriptions", "")
		return
	}

	h.logger.Info("subscriptions bulk deleted", zap.Int64("affected", affected))
	h.writeJSON(w, http.StatusOK, map[string]int64{"affected": affected})
}

// BulkMarkNotified handles POST /v1/subscriptions/bulk-notify.
func (h *Handler) BulkMarkNotified(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.decodeBulk(w, r)
	if !ok {
		return
	}

	affected, err := h.subs.BulkMarkNotified(r.Context(), ids)
	if err != nil {
		h.logger.Error("failed to bulk mark notified", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "store_error", "Failed to update subscriptions", "")
		return
	}

	h.logger.Info("subscriptions bulk marked notified", zap.Int64("affected", affected))
	h.writeJSON(w, http.StatusOK, map[string]int64{"affected": affected})
}
