package auth

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Middleware rejects requests without a valid token and stores the caller's
// Identity in the request context.
func Middleware(v Validator, log zerolog.Logger) func(http.Handler) http.Handler {
	log = log.With().Str("component", "auth").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractTokenFromRequest(r)
			if token == "" {
				log.Debug().Str("from", r.RemoteAddr).Str("path", r.URL.Path).Msg("no token provided")
				unauthorized(w, "token required")
				return
			}

			id, err := v.Validate(r.Context(), token)
			if err != nil {
				log.Warn().Err(err).Str("from", r.RemoteAddr).Msg("token validation failed")
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  "Unauthorized: " + msg,
		"status": http.StatusUnauthorized,
	})
}
