package api

import (
	"log/slog"
	"net/http"

	"github.com/user/issue-stream/internal/adapter/api/handler"
	"github.com/user/issue-stream/internal/adapter/api/middleware"
	"github.com/user/issue-stream/internal/adapter/metrics"
	"github.com/user/issue-stream/internal/usecase"
)

const maxWebhookBody = 1 << 20 // 1MB

// NewRouter creates the webhook server's HTTP router.
func NewRouter(
	logger *slog.Logger,
	ingestUseCase handler.Ingestor,
	m *metrics.PipelineMetrics,
	webhookSecret string,
) http.Handler {
	mux := http.NewServeMux()

	webhookHandler := handler.NewWebhookHandler(ingestUseCase, logger, m, maxWebhookBody)
	auth := middleware.WebhookAuth(webhookSecret, logger)

	mux.Handle("POST /webhook/jira", auth(webhookHandler))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return mux
}

// NewAdminRouter creates the worker's admin router for channel introspection.
// Path patterns require Go 1.22+.
func NewAdminRouter(adminUseCase *usecase.StreamAdmin, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	adminHandler := handler.NewAdminHandler(adminUseCase, logger)

	mux.HandleFunc("GET /health", adminHandler.HealthCheck)

	mux.HandleFunc("GET /admin/channels/{channel}/groups", adminHandler.GetGroupInfo)
	mux.HandleFunc("GET /admin/channels/{channel}/groups/{group}/consumers", adminHandler.GetConsumerInfo)
	mux.HandleFunc("GET /admin/channels/{channel}/groups/{group}/pending", adminHandler.GetPendingInfo)
	mux.HandleFunc("POST /admin/channels/{channel}/trim", adminHandler.TrimChannel)

	return mux
}
