package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const clientContextKey contextKey = "client_id"

var errMissingSubject = errors.New("token subject is not a client id")

// ClientIDFromContext returns the authenticated client stored by
// HTTPMiddleware or the gRPC interceptor.
func ClientIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(clientContextKey).(int64)
	return id, ok
}

// WithClientID stores an authenticated client id in ctx.
func WithClientID(ctx context.Context, clientID int64) context.Context {
	return context.WithValue(ctx, clientContextKey, clientID)
}

// validateToken checks the token signature and returns the client id from
// its subject claim.
func validateToken(tokenString, secret string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return 0, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("invalid token claims")
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return 0, fmt.Errorf("invalid token claims: %w", err)
	}
	clientID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || clientID <= 0 {
		return 0, errMissingSubject
	}
	return clientID, nil
}
