package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireKey gates individual routes behind the operator API key. Wrap the
// admin routes at registration time; routes left unwrapped stay public.
// Caller-facing operations carry their own signed envelopes, so only the
// operator surface (audit log, manual resolution) goes through here. An
// empty key disables the gate.
func RequireKey(apiKey string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		if apiKey == "" {
			return next
		}
		want := []byte(apiKey)
		return func(w http.ResponseWriter, r *http.Request) {
			got := operatorKey(r)
			if got == "" {
				unauthorized(w, "missing operator key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				unauthorized(w, "invalid operator key")
				return
			}
			next(w, r)
		}
	}
}

// operatorKey reads the key from the X-API-Key header, falling back to a
// bearer token in Authorization.
func operatorKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
