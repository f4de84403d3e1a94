package handlers

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"couple-sync-backend/pkg/config"
	"couple-sync-backend/pkg/database"
	"couple-sync-backend/pkg/utils"
)

func newDevAuthEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Environment: "development",
		Port:        "3000",
		JWTSecret:   testSecret,
	}
	db := database.NewLocalDatabaseAt(t.TempDir())
	systemHandler := NewSystemHandler(cfg, db)

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		r.Post("/auth/dev-token", systemHandler.DevToken)
		r.Post("/auth/refresh", systemHandler.RefreshToken)
	})

	return &testEnv{router: router, db: db, jwt: utils.NewJWTService(testSecret)}
}

func TestDevTokenAndRefresh(t *testing.T) {
	env := newDevAuthEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/dev-token", "", map[string]string{
		"subject": "idp|alice",
		"email":   "alice@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	data, ok := decodeBody(t, rec)["data"].(map[string]interface{})
	require.True(t, ok)
	refreshToken, _ := data["refresh_token"].(string)
	accessToken, _ := data["access_token"].(string)
	require.NotEmpty(t, refreshToken)
	require.NotEmpty(t, accessToken)

	// 用 refresh token 换新的 access token
	rec = env.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refresh_token": refreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	data, ok = decodeBody(t, rec)["data"].(map[string]interface{})
	require.True(t, ok)
	newAccess, _ := data["access_token"].(string)
	require.NotEmpty(t, newAccess)

	claims, err := env.jwt.ValidateToken(newAccess)
	require.NoError(t, err)
	assert.Equal(t, "idp|alice", claims.Subject)
	assert.Equal(t, "access", claims.Type)

	// access token 不能当 refresh token 用
	rec = env.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refresh_token": accessToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDevTokenRequiresSubject(t *testing.T) {
	env := newDevAuthEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/dev-token", "", map[string]string{
		"subject": "   ",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}
