package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// tenantContextKey is the context key for the authenticated caller's tenant.
type tenantContextKey string

const tenantIDKey tenantContextKey = "tenant_id"

// serviceTokenTTL is the lifetime of a minted service token.
const serviceTokenTTL = 24 * time.Hour

// ServiceClaims carries the calling tenant for the dialer engine's
// machine-to-machine control API — the mutating-route guard spec.md §6
// names as optional. Generalizes the teacher's mobile-app AppClaims
// (internal/api/middleware/jwt.go) from an extension identity to a tenant
// identity, since this API has no browser session concept to protect.
type ServiceClaims struct {
	TenantID string `json:"tenantId"`
	jwt.RegisteredClaims
}

// GenerateServiceToken signs a bearer token scoped to a tenant, for
// provisioning API callers out of band.
func GenerateServiceToken(secret []byte, tenantID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(serviceTokenTTL)

	claims := ServiceClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "dialer-engine",
			Subject:   tenantID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// RequireServiceAuth returns middleware that validates a JWT bearer token on
// mutating routes (campaign start/stop, preview actions, agent status
// upserts). A nil secret disables the check entirely — auth is optional per
// spec.md §6's control surface.
func RequireServiceAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeMWError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeMWError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims := &ServiceClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				slog.Debug("service auth: invalid jwt", "error", err)
				writeMWError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if claims.TenantID == "" {
				writeMWError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			ctx := context.WithValue(r.Context(), tenantIDKey, claims.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantIDFromContext retrieves the authenticated caller's tenant id. Returns
// "" if auth was disabled or no token was presented.
func TenantIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tenantIDKey).(string)
	return id
}

// mwEnvelope matches the api package's {success,error} envelope format for
// error responses written from middleware, which cannot import the api
// package without creating a circular dependency.
type mwEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func writeMWError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(mwEnvelope{Error: msg}) //nolint:errcheck
}
