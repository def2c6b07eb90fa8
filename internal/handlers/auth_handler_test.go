package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/config"
	"crowdtask-api/internal/database"
	"crowdtask-api/internal/store"
	"crowdtask-api/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.MustDB(t)
	log := testutil.DiscardLogger()
	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	issuer := auth.NewTokenIssuer(auth.TokenConfig{Secret: "s", Issuer: "i", Audience: "a", TTL: time.Hour})
	require.NoError(t, database.SeedUsers(context.Background(), db, hasher, []config.SeedUser{
		{Username: "alice", Password: "wonderland", Roles: []string{"PUBLISHER", "SUBSCRIBER"}},
	}, log))

	r := gin.New()
	r.POST("/api/login", NewAuthHandler(store.NewUserRepository(db), hasher, issuer, log).Login)
	login := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := login(`{"username":"alice","password":"wonderland"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, auth.RolePublisher|auth.RoleSubscriber, resp.Data.Role)
	claims, err := issuer.ValidateToken(resp.Data.Token)
	require.NoError(t, err)
	require.Equal(t, resp.Data.UserID, claims.UserID)
	require.True(t, claims.Principal().HasRole(auth.RolePublisher))

	for _, body := range []string{
		`{"username":"alice","password":"wrong"}`,
		`{"username":"bob","password":"wonderland"}`,
	} {
		require.Equal(t, http.StatusUnauthorized, login(body).Code, body)
	}
	require.Equal(t, http.StatusBadRequest, login(`{"username":"alice"}`).Code)
}
