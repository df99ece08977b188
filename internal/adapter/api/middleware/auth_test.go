package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookAuth(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		token      string
		wantStatus int
	}{
		{"valid token", "s3cret", "s3cret", http.StatusOK},
		{"wrong token", "s3cret", "nope", http.StatusUnauthorized},
		{"missing token", "s3cret", "", http.StatusUnauthorized},
		{"auth disabled", "", "", http.StatusOK},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := WebhookAuth(tt.secret, logger)(next)

			req := httptest.NewRequest(http.MethodPost, "/webhook/jira", nil)
			if tt.token != "" {
				req.Header.Set("X-Webhook-Token", tt.token)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}
