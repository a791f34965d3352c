package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type appNameKey struct{}

// Identify returns middleware that resolves an API key, presented as a Bearer
// token or in X-API-Key, to its application name and stores it on the
// request context. Unknown or missing keys leave the request anonymous.
func Identify(keys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if app := lookupApp(keys, extractToken(r)); app != "" {
				r = r.WithContext(context.WithValue(r.Context(), appNameKey{}, app))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAPIKey rejects anonymous requests with 401. It is a no-op when no
// keys are configured. It must run after Identify.
func RequireAPIKey(keys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			if AppName(r.Context()) == "" {
				if extractToken(r) == "" {
					writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
				} else {
					writeJSONError(w, http.StatusUnauthorized, "invalid authentication token")
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AppName returns the application name Identify attached, or "".
func AppName(ctx context.Context) string {
	app, _ := ctx.Value(appNameKey{}).(string)
	return app
}

// Actor names who made the request: the API key's application when one was
// presented, otherwise the client address.
func Actor(r *http.Request) string {
	if app := AppName(r.Context()); app != "" {
		return app
	}
	return ClientIP(r)
}

func lookupApp(keys map[string]string, token string) string {
	if token == "" {
		return ""
	}
	for key, app := range keys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			return app
		}
	}
	return ""
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
