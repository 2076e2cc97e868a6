package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"voxcampaign/internal/apperr"
)

// Role names gate the mutating operator actions this orchestrator
// exposes: starting, pausing, resuming, stopping or cancelling a
// campaign, and importing a contact roster. A viewer can authenticate
// and read, but never touch any of those.
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var SecretKey = []byte("CHANGE_ME_IN_PRODUCTION")

// Claims carries the authenticated operator's identity and role
// alongside the standard JWT fields.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken creates a new JWT token for a user with the given role.
func GenerateToken(userID int64, username, role string) (string, error) {
	expirationTime := time.Now().Add(24 * time.Hour)
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			Issuer:    "voxcampaign",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(SecretKey)
}

// VerifyPassword checks hashed password
func VerifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// HashPassword hashes a password
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	return string(b), err
}

// contextKey is unexported so only this package can mint one.
type contextKey string

const userContextKey contextKey = "user"

// Middleware verifies the JWT token and attaches its claims to the
// request context. It only authenticates; route groups that need a
// specific role stack RequireRole behind it.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeAuthError(w, apperr.Unauthorized("authorization header required"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeAuthError(w, apperr.Unauthorized("invalid authorization format"))
			return
		}

		tokenStr := parts[1]
		claims := &Claims{}

		token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
			return SecretKey, nil
		})

		if err != nil || !token.Valid {
			writeAuthError(w, apperr.Unauthorized("invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates a route group to callers whose claims carry role.
// It must sit behind Middleware, which is what puts claims on the
// request context in the first place.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := GetUserFromContext(r.Context())
			if err != nil {
				writeAuthError(w, apperr.Unauthorized("no user in context"))
				return
			}
			if claims.Role != role {
				writeAuthError(w, apperr.Forbidden("%s role required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext retrieves claims from context
func GetUserFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(userContextKey).(*Claims)
	if !ok {
		return nil, errors.New("no user in context")
	}
	return claims, nil
}

// writeAuthError mirrors the API surface's response envelope without
// importing the api package, which itself imports this one.
func writeAuthError(w http.ResponseWriter, err *apperr.Error) {
	status := http.StatusUnauthorized
	if err.Kind == apperr.KindForbidden {
		status = http.StatusForbidden
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   false,
		"error":     err.Error(),
		"timestamp": time.Now().UTC(),
	})
}
