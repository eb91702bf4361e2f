package authn

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestVerify_RoundTrip(t *testing.T) {
	v := NewVerifier(testSecret)

	token, err := v.Sign(Identity{UserID: 42, Role: RoleUser}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id.UserID)
	assert.Equal(t, RoleUser, id.Role)
	assert.False(t, id.IsAdmin())
}

func TestVerify_Expired(t *testing.T) {
	v := NewVerifier(testSecret)

	token, err := v.Sign(Identity{UserID: 42, Role: RoleUser}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	token, err := NewVerifier(testSecret).Sign(Identity{UserID: 1, Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("another-secret-another-secret-ok").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_BadRole(t *testing.T) {
	v := NewVerifier(testSecret)

	token, err := v.Sign(Identity{UserID: 7, Role: "superuser"}, time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrBadRole)
}

func TestVerify_Garbage(t *testing.T) {
	_, err := NewVerifier(testSecret).Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func setupRouter(v *Verifier, handler gin.HandlerFunc, guards ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(v))
	chain := append(guards, handler)
	r.GET("/probe", chain...)
	return r
}

func TestMiddleware_SetsIdentity(t *testing.T) {
	v := NewVerifier(testSecret)
	r := setupRouter(v, func(c *gin.Context) {
		id, ok := FromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, id)
	}, RequireAuth())

	token, err := v.Sign(Identity{UserID: 9, Role: RoleUser}, time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"userId":9`)
}

func TestRequireAuth_MissingToken(t *testing.T) {
	v := NewVerifier(testSecret)
	r := setupRouter(v, func(c *gin.Context) {
		c.Status(http.StatusOK)
	}, RequireAuth())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	v := NewVerifier(testSecret)
	r := setupRouter(v, func(c *gin.Context) {
		c.Status(http.StatusOK)
	}, RequireAdmin())

	userToken, _ := v.Sign(Identity{UserID: 2, Role: RoleUser}, time.Hour)
	adminToken, _ := v.Sign(Identity{UserID: 1, Role: RoleAdmin}, time.Hour)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
