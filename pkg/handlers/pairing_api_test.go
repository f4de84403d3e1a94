package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"couple-sync-backend/pkg/config"
	"couple-sync-backend/pkg/database"
	customMiddleware "couple-sync-backend/pkg/middleware"
	"couple-sync-backend/pkg/models"
	"couple-sync-backend/pkg/pairing"
	"couple-sync-backend/pkg/utils"
)

const testSecret = "unit-test-secret"

type testEnv struct {
	router chi.Router
	db     database.DatabaseInterface
	jwt    *utils.JWTService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Environment:    "development",
		Port:           "3000",
		JWTSecret:      testSecret,
		AllowedOrigins: []string{"*"},
	}
	db := database.NewLocalDatabaseAt(t.TempDir())
	svc := pairing.NewService(db)

	couplesHandler := NewCouplesHandler(cfg, svc)
	invitationsHandler := NewInvitationsHandler(cfg, svc, couplesHandler)
	journalHandler := NewJournalHandler(cfg, db, svc, couplesHandler)

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.AuthMiddleware(cfg))
			r.Route("/couples", func(r chi.Router) {
				r.Post("/", couplesHandler.HandleCoupleAction)
				r.Get("/status", couplesHandler.GetStatus)
			})
			r.Route("/invitations", func(r chi.Router) {
				r.Post("/", invitationsHandler.CreateInvitation)
				r.Get("/active", invitationsHandler.GetActiveInvitation)
				r.Post("/redeem", invitationsHandler.RedeemInvitation)
			})
			r.Route("/journal", func(r chi.Router) {
				r.Get("/", journalHandler.ListEntries)
				r.Post("/", journalHandler.CreateEntry)
				r.Get("/{id}", journalHandler.GetEntry)
				r.Delete("/{id}", journalHandler.DeleteEntry)
			})
		})
	})

	return &testEnv{router: router, db: db, jwt: utils.NewJWTService(testSecret)}
}

func (e *testEnv) token(t *testing.T, subject, email string) string {
	t.Helper()
	token, _, err := e.jwt.GenerateAccessToken(subject, email)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	return parsed
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	parsed := decodeBody(t, rec)
	errObj, ok := parsed["error"].(map[string]interface{})
	require.True(t, ok, "expected error envelope, got %s", rec.Body.String())
	code, _ := errObj["code"].(string)
	return code
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/couples/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/couples/status", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPairingFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	aliceToken := env.token(t, "idp|alice", "alice@example.com")
	bobToken := env.token(t, "idp|bob", "bob@example.com")

	// Fresh account starts unpaired.
	rec := env.do(t, http.MethodGet, "/api/couples/status", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, false, data["in_couple"])

	// Alice creates a couple.
	rec = env.do(t, http.MethodPost, "/api/couples", aliceToken, map[string]string{"action": "create", "display_name": "A&B"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// No active invitation yet.
	rec = env.do(t, http.MethodGet, "/api/invitations/active", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Issue an invitation.
	rec = env.do(t, http.MethodPost, "/api/invitations", aliceToken, map[string]string{})
	require.Equal(t, http.StatusCreated, rec.Code)
	invData := decodeBody(t, rec)["data"].(map[string]interface{})
	code := invData["code"].(string)
	require.Len(t, code, 5)

	// The active query returns the same code.
	rec = env.do(t, http.MethodGet, "/api/invitations/active", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	activeData := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, code, activeData["code"])

	// A second issue attempt conflicts.
	rec = env.do(t, http.MethodPost, "/api/invitations", aliceToken, map[string]string{})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ACTIVE_INVITATION_EXISTS", errorCode(t, rec))

	// Bob redeems and both sides see the same couple.
	rec = env.do(t, http.MethodPost, "/api/invitations/redeem", bobToken, map[string]string{"code": code})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/couples/status", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bobStatus := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, true, bobStatus["in_couple"])
	assert.Equal(t, float64(2), bobStatus["member_count"])
}

func TestRedeemErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	aliceToken := env.token(t, "idp|alice", "alice@example.com")
	bobToken := env.token(t, "idp|bob", "bob@example.com")
	carolToken := env.token(t, "idp|carol", "carol@example.com")

	rec := env.do(t, http.MethodPost, "/api/couples", aliceToken, map[string]string{"action": "create"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/invitations", aliceToken, map[string]string{})
	require.Equal(t, http.StatusCreated, rec.Code)
	code := decodeBody(t, rec)["data"].(map[string]interface{})["code"].(string)

	// Unknown code is indistinguishable from no code.
	rec = env.do(t, http.MethodPost, "/api/invitations/redeem", bobToken, map[string]string{"code": "ZZZZZ"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "INVALID_CODE", errorCode(t, rec))

	// The issuer cannot redeem their own code.
	rec = env.do(t, http.MethodPost, "/api/invitations/redeem", aliceToken, map[string]string{"code": code})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SELF_REDEMPTION", errorCode(t, rec))

	// First redemption wins; the second gets a conflict.
	rec = env.do(t, http.MethodPost, "/api/invitations/redeem", bobToken, map[string]string{"code": code})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/invitations/redeem", carolToken, map[string]string{"code": code})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_REDEEMED", errorCode(t, rec))
}

func TestRedeemExpiredReturnsGone(t *testing.T) {
	env := newTestEnv(t)
	aliceToken := env.token(t, "idp|alice", "alice@example.com")
	bobToken := env.token(t, "idp|bob", "bob@example.com")

	rec := env.do(t, http.MethodPost, "/api/couples", aliceToken, map[string]string{"action": "create"})
	require.Equal(t, http.StatusCreated, rec.Code)

	alice, err := env.db.GetAccountBySubject("idp|alice")
	require.NoError(t, err)
	membership, err := env.db.GetMembership(alice.ID)
	require.NoError(t, err)

	require.NoError(t, env.db.InsertInvitation(&models.Invitation{
		Code:      "GONE2",
		CoupleID:  membership.CoupleID,
		CreatedBy: alice.ID,
		CreatedAt: time.Now().Add(-8 * 24 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}))

	rec = env.do(t, http.MethodPost, "/api/invitations/redeem", bobToken, map[string]string{"code": "gone2"})
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "INVITATION_EXPIRED", errorCode(t, rec))
}

func TestLinkByContactOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	aliceToken := env.token(t, "idp|alice", "alice@example.com")
	bobToken := env.token(t, "idp|bob", "bob@example.com")

	// Bob's account must exist before Alice can link to it.
	rec := env.do(t, http.MethodGet, "/api/couples/status", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/couples", aliceToken, map[string]string{"action": "link", "contact": "bob@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/couples/status", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, true, status["in_couple"])

	// Linking to an unknown contact is a 404.
	carolToken := env.token(t, "idp|carol", "carol@example.com")
	rec = env.do(t, http.MethodPost, "/api/couples", carolToken, map[string]string{"action": "link", "contact": "ghost@example.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PARTNER_NOT_FOUND", errorCode(t, rec))
}

func TestJournalScopedToCouple(t *testing.T) {
	env := newTestEnv(t)
	aliceToken := env.token(t, "idp|alice", "alice@example.com")
	strangerToken := env.token(t, "idp|stranger", "stranger@example.com")

	rec := env.do(t, http.MethodPost, "/api/couples", aliceToken, map[string]string{"action": "create"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Unpaired accounts cannot use the journal.
	rec = env.do(t, http.MethodPost, "/api/journal", strangerToken, map[string]string{"title": "nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/journal", aliceToken, map[string]string{"title": "Ramen night", "body": "So good"})
	require.Equal(t, http.StatusCreated, rec.Code)
	entry := decodeBody(t, rec)["data"].(map[string]interface{})["entry"].(map[string]interface{})
	entryID := entry["id"].(string)

	// A member of a different couple sees a 404, not a 403.
	rec = env.do(t, http.MethodPost, "/api/couples", strangerToken, map[string]string{"action": "create"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/journal/"+entryID, strangerToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The owner can read and delete.
	rec = env.do(t, http.MethodGet, "/api/journal/"+entryID, aliceToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/journal/"+entryID, aliceToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/journal/"+entryID, aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJournalListETag(t *testing.T) {
	env := newTestEnv(t)
	aliceToken := env.token(t, "idp|alice", "alice@example.com")

	rec := env.do(t, http.MethodPost, "/api/couples", aliceToken, map[string]string{"action": "create"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/journal", aliceToken, map[string]string{"title": "One"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/journal", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/api/journal", nil)
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	req.Header.Set("If-None-Match", etag)
	rec2 := httptest.NewRecorder()
	env.router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusNotModified, rec2.Code)
}
