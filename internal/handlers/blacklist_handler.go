package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"wa_guard/internal/models"
	"wa_guard/internal/store"
)

// BlacklistStore is the authoritative blacklist.
type BlacklistStore interface {
	ListBlacklist(ctx context.Context, ownerUserID string) ([]models.BlacklistEntry, error)
	Add(ctx context.Context, ownerUserID, rawPhone, reason string) (*models.BlacklistEntry, error)
	Remove(ctx context.Context, ownerUserID, rawPhone string) error
}

// CacheInvalidator drops cached blacklist state after a mutation.
type CacheInvalidator interface {
	Invalidate(ownerUserID string)
}

type BlacklistHandler struct {
	store BlacklistStore
	cache CacheInvalidator
	log   *zap.Logger
}

func NewBlacklistHandler(store BlacklistStore, cache CacheInvalidator, log *zap.Logger) *BlacklistHandler {
	return &BlacklistHandler{store: store, cache: cache, log: log}
}

// List handles GET /api/blacklist
func (h *BlacklistHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := userIDFrom(r)
	entries, err := h.store.ListBlacklist(r.Context(), owner)
	if err != nil {
		h.log.Error("failed to list blacklist", zap.String("owner_user_id", owner), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list blacklist")
		return
	}
	if entries == nil {
		entries = []models.BlacklistEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// Add handles POST /api/blacklist
func (h *BlacklistHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req models.BlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !strings.ContainsAny(req.Phone, "0123456789") {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	owner := userIDFrom(r)
	entry, err := h.store.Add(r.Context(), owner, req.Phone, req.Reason)
	if err != nil {
		h.log.Error("failed to add blacklist entry", zap.String("owner_user_id", owner), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to add blacklist entry")
		return
	}
	h.cache.Invalidate(owner)

	h.log.Info("blacklist entry added", zap.String("owner_user_id", owner), zap.String("phone", entry.NormalizedPhone))
	writeJSON(w, http.StatusCreated, entry)
}

// Remove handles DELETE /api/blacklist/{phone}
func (h *BlacklistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	owner := userIDFrom(r)
	phone := mux.Vars(r)["phone"]

	err := h.store.Remove(r.Context(), owner, phone)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "blacklist entry not found")
		return
	}
	if err != nil {
		h.log.Error("failed to remove blacklist entry", zap.String("owner_user_id", owner), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to remove blacklist entry")
		return
	}
	h.cache.Invalidate(owner)
	w.WriteHeader(http.StatusNoContent)
}
