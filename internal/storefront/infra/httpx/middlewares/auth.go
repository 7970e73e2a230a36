package middlewares

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jcmexdev/storefront/internal/pkg/reqctx"
)

// Claims is the bearer token payload: sub is the user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for userID. Tokens are minted by the
// identity provider in production; this is used by the CLI and tests.
func IssueToken(secret []byte, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies the signature and expiry of raw and returns the caller.
func ParseToken(secret []byte, raw string) (reqctx.Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return reqctx.Identity{}, err
	}
	if claims.Subject == "" {
		return reqctx.Identity{}, errors.New("token has no subject")
	}

	role := claims.Role
	if role == "" {
		role = reqctx.RoleCustomer
	}
	return reqctx.Identity{UserID: claims.Subject, Role: role}, nil
}

// Authenticate attaches the caller identity when a bearer token is present.
// Requests without one continue anonymously; an invalid token is rejected.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				deny(w, http.StatusUnauthorized, "invalid_token", "expected a Bearer token")
				return
			}
			id, err := ParseToken(secret, strings.TrimSpace(raw))
			if err != nil {
				deny(w, http.StatusUnauthorized, "invalid_token", err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(reqctx.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireUser rejects anonymous requests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := reqctx.IdentityFrom(r.Context()); !ok {
			deny(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects callers that do not hold role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := reqctx.IdentityFrom(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
				return
			}
			if id.Role != role {
				deny(w, http.StatusForbidden, "forbidden", fmt.Sprintf("%s role required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// deny writes the same error body as the handlers.
func deny(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}
