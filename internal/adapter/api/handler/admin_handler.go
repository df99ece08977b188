package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/issue-stream/internal/usecase"
)

// AdminHandler serves channel introspection for operators: group state,
// consumer state, pending (delivered-but-unsettled) message counts, and
// trimming of the log channel.
type AdminHandler struct {
	uc     *usecase.StreamAdmin
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(uc *usecase.StreamAdmin, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{uc: uc, logger: logger}
}

// HealthCheck is a simple health check endpoint.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetGroupInfo handles GET /admin/channels/{channel}/groups.
func (h *AdminHandler) GetGroupInfo(w http.ResponseWriter, r *http.Request) {
	channel, err := usecase.ParseChannel(r.PathValue("channel"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	groups, err := h.uc.GroupInfo(r.Context(), channel)
	if err != nil {
		h.logger.Error("failed to get group info", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.respondWithJSON(w, http.StatusOK, groups)
}

// GetConsumerInfo handles GET /admin/channels/{channel}/groups/{group}/consumers.
func (h *AdminHandler) GetConsumerInfo(w http.ResponseWriter, r *http.Request) {
	channel, err := usecase.ParseChannel(r.PathValue("channel"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	consumers, err := h.uc.ConsumerInfo(r.Context(), channel, r.PathValue("group"))
	if err != nil {
		h.logger.Error("failed to get consumer info", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.respondWithJSON(w, http.StatusOK, consumers)
}

// GetPendingInfo handles GET /admin/channels/{channel}/groups/{group}/pending.
func (h *AdminHandler) GetPendingInfo(w http.ResponseWriter, r *http.Request) {
	channel, err := usecase.ParseChannel(r.PathValue("channel"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := h.uc.PendingInfo(r.Context(), channel, r.PathValue("group"))
	if err != nil {
		h.logger.Error("failed to get pending info", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.respondWithJSON(w, http.StatusOK, summary)
}

// TrimChannel handles POST /admin/channels/{channel}/trim?maxLen={n}.
func (h *AdminHandler) TrimChannel(w http.ResponseWriter, r *http.Request) {
	channel, err := usecase.ParseChannel(r.PathValue("channel"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	maxLen, err := strconv.ParseInt(r.URL.Query().Get("maxLen"), 10, 64)
	if err != nil {
		http.Error(w, "invalid maxLen parameter", http.StatusBadRequest)
		return
	}

	removed, err := h.uc.Trim(r.Context(), channel, maxLen)
	if err != nil {
		h.logger.Error("failed to trim channel", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
