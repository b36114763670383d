package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"order-lifecycle/internal/lifecycle"
	"order-lifecycle/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var nowFunc = time.Now

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	// Bearer token format: "Bearer {token}"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

// ActorFromJWT resolves the acting identity from a token's claims. The
// actor type comes from the roles claim; the id from the subject. An
// expired token is reported as ErrSessionExpired so callers can tell
// expiry apart from other failures.
func ActorFromJWT(tokenString string) (models.Actor, error) {
	if tokenString == "" {
		return models.Actor{}, errors.New("empty token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenString, claims); err != nil {
		return models.Actor{}, fmt.Errorf("failed to parse token: %w", err)
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Time.Before(nowFunc()) {
		return models.Actor{}, lifecycle.ErrSessionExpired
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return models.Actor{}, errors.New("subject claim not found in token")
	}

	actorType := models.ActorUser
	if rawRoles, ok := claims["roles"].([]interface{}); ok {
		roles := make([]string, 0, len(rawRoles))
		for _, r := range rawRoles {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
		actorType = actorTypeFromRoles(roles)
	}

	return models.Actor{Type: actorType, ID: sub}, nil
}

// IsExpiry reports whether a verification error denotes an expired
// session rather than a malformed or forged token.
func IsExpiry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, lifecycle.ErrSessionExpired) || errors.Is(err, jwt.ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}
