package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"wa_guard/internal/models"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditReader reads eviction events.
type AuditReader interface {
	ListByOwner(ctx context.Context, ownerUserID string, limit int) ([]models.AuditEvent, error)
}

type AuditHandler struct {
	audit AuditReader
	log   *zap.Logger
}

func NewAuditHandler(audit AuditReader, log *zap.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, log: log}
}

// List handles GET /api/audit?limit=N, newest first.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	events, err := h.audit.ListByOwner(r.Context(), userIDFrom(r), limit)
	if err != nil {
		h.log.Error("failed to list audit events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	if events == nil {
		events = []models.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
