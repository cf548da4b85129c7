package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const deviceContextKey contextKey = "device"

// DeviceFromContext extracts the authenticated device from context
func DeviceFromContext(r *http.Request) (*Device, bool) {
	device, ok := r.Context().Value(deviceContextKey).(*Device)
	return device, ok
}

// ContextWithDevice adds a device to the request context
func ContextWithDevice(ctx context.Context, device *Device) context.Context {
	return context.WithValue(ctx, deviceContextKey, device)
}

// TokenFromRequest extracts the device token from the Authorization header
// or the token query parameter. Empty when the request carries none.
func TokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware authenticates API requests by device token. Requests without a
// valid token get a JSON 401.
func Middleware(deviceManager *DeviceManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token != "" {
				device, err := deviceManager.AuthenticateToken(token)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(ContextWithDevice(r.Context(), device)))
					return
				}
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "Unauthorized",
			})
		})
	}
}
