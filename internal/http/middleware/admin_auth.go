package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/clinic-admin/internal/http/respond"
	"github.com/wolfman30/clinic-admin/internal/tenancy"
)

type contextKey string

const adminClaimsKey contextKey = "adminClaims"

// AdminClaims is the payload of an admin session token. The subject is the
// admin id; HospitalID is the single listing the admin manages.
type AdminClaims struct {
	jwt.RegisteredClaims
	HospitalID string `json:"hospital_id"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
}

// AdminSession enforces an HMAC-signed session JWT for admin endpoints. The
// token is read from the session cookie first, then from a Bearer header.
func AdminSession(secret, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				respond.Error(w, http.StatusUnauthorized, "admin auth disabled")
				return
			}
			tokenString := sessionToken(r, cookieName)
			if tokenString == "" {
				respond.Error(w, http.StatusUnauthorized, "missing session")
				return
			}
			claims, err := ParseAdminToken(secret, tokenString)
			if err != nil {
				respond.Error(w, http.StatusUnauthorized, "invalid session")
				return
			}
			if claims.HospitalID == "" || claims.Subject == "" {
				respond.Error(w, http.StatusForbidden, "session not bound to a hospital")
				return
			}
			ctx := context.WithValue(r.Context(), adminClaimsKey, *claims)
			ctx = tenancy.WithHospitalID(ctx, claims.HospitalID)
			ctx = tenancy.WithAdminID(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseAdminToken verifies signature and expiry of an admin session token.
func ParseAdminToken(secret, tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// SignAdminToken issues an HS256 session token for claims.
func SignAdminToken(secret string, claims AdminClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AdminClaimsFromContext returns admin session claims if present.
func AdminClaimsFromContext(ctx context.Context) (AdminClaims, bool) {
	claims, ok := ctx.Value(adminClaimsKey).(AdminClaims)
	return claims, ok
}

// WithAdminClaims stores claims in ctx the same way AdminSession does.
func WithAdminClaims(ctx context.Context, claims AdminClaims) context.Context {
	ctx = context.WithValue(ctx, adminClaimsKey, claims)
	ctx = tenancy.WithHospitalID(ctx, claims.HospitalID)
	return tenancy.WithAdminID(ctx, claims.Subject)
}

func sessionToken(r *http.Request, cookieName string) string {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && strings.TrimSpace(c.Value) != "" {
			return strings.TrimSpace(c.Value)
		}
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
