package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/thushan/llmrelay/internal/core/constants"
)

// CredentialResolver returns the upstream credential for a user_key looked
// up from the bearer token, per spec.md §6: "a valid lookup yields an
// opaque callable that returns the upstream credential at send time."
type CredentialResolver func() string

// KeyTable is the static bearer-token lookup table built from
// config.AuthConfig.Users.
type KeyTable map[string]CredentialResolver

// Authenticate extracts the bearer token from r, looks it up in table, and
// either calls next or writes the 401 JSON error envelope spec.md §6
// defines. An empty table authenticates everything (no auth configured).
func Authenticate(table KeyTable, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(table) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeAuthError(w)
			return
		}
		if _, ok := table[token]; !ok {
			writeAuthError(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get(constants.HeaderAuthorization)
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func writeAuthError(w http.ResponseWriter) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": "invalid API key",
			"type":    "authentication_error",
			"code":    "invalid_api_key",
		},
	})
}
