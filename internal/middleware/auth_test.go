package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/cache"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func testAuthenticator() (*Authenticator, *auth.TokenIssuer, *cache.SimpleCache[string, *auth.Principal]) {
	issuer := auth.NewTokenIssuer(auth.TokenConfig{Secret: "test-secret", Issuer: "crowdtask", Audience: "crowdtask-clients", TTL: time.Hour})
	c := cache.NewSimpleCache[string, *auth.Principal](cache.Options{ConcurrencySafe: true})
	return NewAuthenticator(issuer, c, time.Minute), issuer, c
}

func whoami(c *gin.Context) {
	p := Principal(c)
	if p == nil {
		c.JSON(http.StatusOK, gin.H{"uid": ""})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uid": p.UID, "role": p.Role})
}

func serve(r *gin.Engine, target, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, issuer, c := testAuthenticator()
	r := gin.New()
	r.GET("/protected", a.RequireAuth(), whoami)

	token, err := issuer.GenerateToken("user-1", "alice", auth.RolePublisher)
	require.NoError(t, err)

	w := serve(r, "/protected", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"uid":"user-1","role":2}`, w.Body.String())
	require.Equal(t, 1, c.Len())

	// the websocket fallback
	w = serve(r, "/protected?token="+token, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuth_Rejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, _, c := testAuthenticator()
	r := gin.New()
	r.GET("/protected", a.RequireAuth(), whoami)

	for _, header := range []string{"", "Bearer nope", "Basic abc"} {
		w := serve(r, "/protected", header)
		require.Equal(t, http.StatusUnauthorized, w.Code, header)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, float64(401), body["code"])
		require.Equal(t, "AUTH", body["type"])
	}
	require.Zero(t, c.Len())
}

func TestOptionalAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, issuer, _ := testAuthenticator()
	r := gin.New()
	r.GET("/open", a.OptionalAuth(), whoami)

	w := serve(r, "/open", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"uid":""}`, w.Body.String())

	token, err := issuer.GenerateToken("user-2", "bob", auth.RoleSubscriber)
	require.NoError(t, err)
	w = serve(r, "/open", "Bearer "+token)
	require.JSONEq(t, `{"uid":"user-2","role":1}`, w.Body.String())

	w = serve(r, "/open", "Bearer broken")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
