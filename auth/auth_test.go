package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbxark/formpilot/types"
)

func newManager(t *testing.T) *TokenManager {
	t.Helper()
	tm, err := NewTokenManager("test-secret", "formpilot")
	require.NoError(t, err)
	return tm
}

func TestIssueAndVerify(t *testing.T) {
	tm := newManager(t)
	token, err := tm.Issue(types.Identity{UserID: "u1", Name: "Ada", Email: "ada@example.com"}, time.Hour)
	require.NoError(t, err)

	id, err := tm.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, types.Identity{UserID: "u1", Name: "Ada", Email: "ada@example.com"}, id)
}

func TestVerifyRejects(t *testing.T) {
	tm := newManager(t)

	_, err := tm.Verify("")
	require.ErrorIs(t, err, ErrNoToken)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = tm.Verify("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenManager("other-secret", "formpilot")
	require.NoError(t, err)
	foreign, err := other.Issue(types.Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = tm.Verify(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)

	tm.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := tm.Issue(types.Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	tm.now = time.Now
	_, err = tm.Verify(stale)
	require.ErrorIs(t, err, ErrExpiredToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1", Issuer: "formpilot"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tm.Verify(unsigned)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokenManager(" ", "")
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	tm := newManager(t)
	token, err := tm.Issue(types.Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	h := Middleware(tm, func(w http.ResponseWriter, r *http.Request, err error) {
		http.Error(w, err.Error(), http.StatusUnauthorized)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(id.UserID))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
