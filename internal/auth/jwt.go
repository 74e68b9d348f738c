// Package auth resolves the caller's user id from an HS256 bearer token.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Claims struct {
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Issue signs a token for user; used by tests and local tooling.
func (v *Verifier) Issue(user uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   user.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *Verifier) Parse(token string) (uuid.UUID, error) {
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, errors.Mark(errors.Wrap(err, "parse token"), ErrUnauthenticated)
	}
	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return uuid.Nil, errors.Wrap(ErrUnauthenticated, "invalid token")
	}
	user, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, errors.Wrapf(ErrUnauthenticated, "subject %q is not a user id", claims.Subject)
	}
	return user, nil
}

type ctxKey struct{}

func WithUser(ctx context.Context, user uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

func UserFrom(ctx context.Context) (uuid.UUID, bool) {
	user, ok := ctx.Value(ctxKey{}).(uuid.UUID)
	return user, ok
}

// Middleware rejects requests without a valid token. Browsers cannot set
// headers on websocket upgrades, so access_token in the query is accepted too.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		user, err := v.Parse(token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}
