package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

const webhookTokenHeader = "X-Webhook-Token"

// WebhookAuth checks a static shared secret on webhook deliveries. An empty
// secret disables the check, for trackers that cannot send custom headers.
func WebhookAuth(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get(webhookTokenHeader)
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				logger.Warn("rejected webhook with bad token", "remote_addr", r.RemoteAddr)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
