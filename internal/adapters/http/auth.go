package httpadapter

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kirillkom/signflow/internal/core/domain"
)

// actorHeader identifies the caller when no JWT secret is configured.
const actorHeader = "X-Actor-Id"

type callerContextKey struct{}

func withCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

func callerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerContextKey{}).(string)
	return caller
}

type authenticator struct {
	secret []byte
	issuer string
}

func newAuthenticator(secret, issuer string) *authenticator {
	return &authenticator{secret: []byte(secret), issuer: issuer}
}

func (a *authenticator) enabled() bool { return len(a.secret) > 0 }

// authenticate resolves the caller id from an HS256 bearer token, or from
// actorHeader when tokens are disabled.
func (a *authenticator) authenticate(r *http.Request) (string, error) {
	if !a.enabled() {
		caller := strings.TrimSpace(r.Header.Get(actorHeader))
		if caller == "" {
			return "", domain.NewError(domain.ErrUnauthenticated, "authenticate", "%s header is required", actorHeader)
		}
		return caller, nil
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", domain.NewError(domain.ErrUnauthenticated, "authenticate", "bearer token is required")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", domain.WrapError(domain.ErrUnauthenticated, "authenticate", err)
	}
	if !token.Valid {
		return "", domain.WrapError(domain.ErrUnauthenticated, "authenticate", errors.New("invalid token"))
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", domain.NewError(domain.ErrUnauthenticated, "authenticate", "token subject is required")
	}
	return claims.Subject, nil
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.authenticate(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
	})
}
