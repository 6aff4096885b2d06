package server

import (
	"net/http"

	"github.com/tjfontaine/polyglot-lingua/internal/auth"
)

// AuthMiddleware validates the Bearer API key and puts the resolved user
// in the request context.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				writeErrorMessage(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}

			user, err := authenticator.ValidateAPIKey(apiKey)
			if err != nil {
				writeErrorMessage(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
				return
			}

			AddLogField(r.Context(), "user", user.ID)
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
		})
	}
}
