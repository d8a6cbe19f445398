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

// GroupStore registers the groups to enforce.
type GroupStore interface {
	ListByOwner(ctx context.Context, ownerUserID string) ([]models.GroupBinding, error)
	Bind(ctx context.Context, binding models.GroupBinding) error
	Unbind(ctx context.Context, ownerUserID, groupJID string) error
}

type GroupHandler struct {
	store GroupStore
	log   *zap.Logger
}

func NewGroupHandler(store GroupStore, log *zap.Logger) *GroupHandler {
	return &GroupHandler{store: store, log: log}
}

type bindGroupRequest struct {
	GroupJID string `json:"group_jid"`
	Name     string `json:"name"`
}

// List handles GET /api/groups
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	bindings, err := h.store.ListByOwner(r.Context(), userIDFrom(r))
	if err != nil {
		h.log.Error("failed to list groups", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	if bindings == nil {
		bindings = []models.GroupBinding{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"groups": bindings})
}

// Bind handles POST /api/groups
func (h *GroupHandler) Bind(w http.ResponseWriter, r *http.Request) {
	var req bindGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.GroupJID = strings.TrimSpace(req.GroupJID)
	if !strings.HasSuffix(req.GroupJID, "@g.us") || len(req.GroupJID) == len("@g.us") {
		writeError(w, http.StatusBadRequest, "group_jid must be a WhatsApp group id ending in @g.us")
		return
	}

	binding := models.GroupBinding{
		OwnerUserID: userIDFrom(r),
		GroupJID:    req.GroupJID,
		Name:        req.Name,
	}
	if err := h.store.Bind(r.Context(), binding); err != nil {
		h.log.Error("failed to bind group", zap.String("group_id", req.GroupJID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to bind group")
		return
	}
	binding.Active = true
	writeJSON(w, http.StatusCreated, binding)
}

// Unbind handles DELETE /api/groups/{jid}
func (h *GroupHandler) Unbind(w http.ResponseWriter, r *http.Request) {
	jid := mux.Vars(r)["jid"]
	err := h.store.Unbind(r.Context(), userIDFrom(r), jid)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	if err != nil {
		h.log.Error("failed to unbind group", zap.String("group_id", jid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to unbind group")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
