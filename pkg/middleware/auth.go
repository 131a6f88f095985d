/**
 * @description
 * This package provides middleware for the HTTP server, specifically for
 * resolving the authenticated user and limiting request rates.
 *
 * @notes
 * - Tokens are HS256 JWTs signed with JWT_SECRET. The user id is the `sub` claim.
 * - When TRUST_USER_HEADER is set, an upstream gateway may pass X-User-Id instead
 *   of a token. Never enable it on a publicly reachable listener.
 */
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/payex/linking-service/internal/config"
)

// AuthContextKey is a custom type for the context key to avoid collisions.
type AuthContextKey string

const (
	// UserIDKey is the key used to store the user's ID in the request context.
	UserIDKey AuthContextKey = "userID"
	// AuthTokenKey is the key used to store the raw auth token in the request context.
	AuthTokenKey AuthContextKey = "authToken"

	userIDHeader = "X-User-Id"
)

var (
	// ErrNoAuthHeader is returned when the Authorization header is missing.
	ErrNoAuthHeader = errors.New("authorization header is required")
	// ErrMissingSubject is returned when a valid token has no subject.
	ErrMissingSubject = errors.New("token has no subject")
)

// AuthMiddleware creates a middleware that validates a JWT and extracts the user ID.
func AuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	secret := []byte(cfg.JWTSecret)
	trustHeader := cfg.TrustUserHeader

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if trustHeader {
				if userID := strings.TrimSpace(r.Header.Get(userIDHeader)); userID != "" {
					ctx := context.WithValue(r.Context(), UserIDKey, userID)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			tokenString, err := bearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}
			userID, err := ParseUserID(tokenString, secret)
			if err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			ctx = context.WithValue(ctx, AuthTokenKey, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseUserID validates an HS256 token and returns its subject.
func ParseUserID(tokenString string, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", ErrMissingSubject
	}
	return subject, nil
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrNoAuthHeader
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("invalid Authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "message": "Unauthorized: " + message})
}

// GetUserIDFromContext retrieves the user ID from the request context.
// It returns an empty string if the user ID is not found.
func GetUserIDFromContext(ctx context.Context) string {
	userID, ok := ctx.Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

// GetAuthTokenFromContext retrieves the authorization token from the request context.
func GetAuthTokenFromContext(ctx context.Context) string {
	token, ok := ctx.Value(AuthTokenKey).(string)
	if !ok {
		return ""
	}
	return token
}
