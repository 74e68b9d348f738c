package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	v := NewVerifier("test-secret")
	user := uuid.New()

	token, err := v.Issue(user, time.Minute)
	require.NoError(t, err)

	got, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestParseRejects(t *testing.T) {
	v := NewVerifier("test-secret")
	user := uuid.New()

	expired, err := v.Issue(user, -time.Minute)
	require.NoError(t, err)
	foreign, err := NewVerifier("other-secret").Issue(user, time.Minute)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "driver-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong secret": foreign,
		"bad subject":  noSubject,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Parse(token)
			assert.True(t, errors.Is(err, ErrUnauthenticated), "got %v", err)
		})
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("test-secret")
	user := uuid.New()
	token, err := v.Issue(user, time.Minute)
	require.NoError(t, err)

	var seen uuid.UUID
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/bookings", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/bookings", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user, seen)

	seen = uuid.Nil
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/realtime?access_token="+token, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user, seen)
}
