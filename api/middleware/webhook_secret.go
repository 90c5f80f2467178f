package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/macroferro/macroferro-backend/api/responses"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
	"github.com/macroferro/macroferro-backend/pkg/logger"
)

// Telegram echoes the secret configured at setWebhook time in this header.
const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookSecret rejects webhook deliveries that do not carry the configured
// secret token.
func WebhookSecret(secret string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(webhookSecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook secret"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
