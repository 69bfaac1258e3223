package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/account-hierarchy/internal/api/http/handlers"
	"github.com/spec-kit/account-hierarchy/internal/app"
	"github.com/spec-kit/account-hierarchy/internal/auth"
	"github.com/spec-kit/account-hierarchy/internal/config"
	"github.com/spec-kit/account-hierarchy/internal/domain"
	"github.com/spec-kit/account-hierarchy/internal/repository/memory"
)

const masterPassword = "master-password-1"

type testServer struct {
	app   *fiber.App
	users map[string]domain.User
}

func testConfig(redisAddr string) *config.Config {
	return &config.Config{
		App:   config.AppConfig{Name: "account-hierarchy-test", Version: "test"},
		Redis: config.RedisConfig{Addr: redisAddr},
		Auth: config.AuthConfig{
			JWTSecret:             "test-secret",
			AccessTokenTTLMinutes: 5,
			BcryptCost:            bcrypt.MinCost,
		},
		Hierarchy: config.HierarchyConfig{
			MasterEmail:    "master@example.com",
			MasterUsername: "master",
			MasterPassword: masterPassword,
		},
		Recovery: config.RecoveryConfig{
			KeyLength:            config.DefaultRecoveryKeyLength,
			Alphabet:             config.DefaultRecoveryKeyAlphabet,
			ValidityDays:         90,
			MaxAttempts:          5,
			AttemptWindowMinutes: 15,
		},
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := testConfig(mr.Addr())
	logger := zap.NewNop()

	container, err := app.Build(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(container.Close)
	require.NoError(t, container.BootstrapMaster(ctx))

	store, ok := container.Store.(*memory.Store)
	require.True(t, ok)
	hash, err := auth.HashPassword("password-1234", bcrypt.MinCost)
	require.NoError(t, err)
	seeded := store.Seed(
		domain.User{Username: "admin", Email: "admin@example.com", PasswordHash: hash, Role: domain.RoleAdmin, IsActive: true},
		domain.User{Username: "user", Email: "user@example.com", PasswordHash: hash, Role: domain.RoleUser, IsActive: true},
	)

	users := map[string]domain.User{}
	for _, u := range seeded {
		users[u.Username] = u
	}
	master, err := store.Users().GetByUsernameOrEmail(ctx, "master")
	require.NoError(t, err)
	users["master"] = *master

	validator := handlers.NewValidator()
	fiberApp := fiber.New()
	RegisterMiddlewares(fiberApp, logger, container.Metrics, 0)
	RegisterRoutes(fiberApp, RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{"redis": container.Redis}),
		Auth:           handlers.NewAuthHandler(container.Auth, validator),
		AdminUsers:     handlers.NewAdminUsersHandler(container.Hierarchy, validator),
		RecoveryKeys:   handlers.NewRecoveryKeyHandler(container.SecretKeys, validator),
		AuthMiddleware: auth.NewAuthMiddleware(container.Tokens, container.Store.Users()),
		Gatherer:       container.Registry,
	})
	return &testServer{app: fiberApp, users: users}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func (s *testServer) login(t *testing.T, login, password string) string {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"login": login, "password": password})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	return body["data"].(map[string]any)["auth"].(map[string]any)["token"].(string)
}

func errorCode(body map[string]any) string {
	e, ok := body["error"].(map[string]any)
	if !ok {
		return ""
	}
	code, _ := e["code"].(string)
	return code
}

func listedRoles(body map[string]any) []string {
	var roles []string
	for _, item := range body["data"].([]any) {
		roles = append(roles, item.(map[string]any)["role"].(string))
	}
	return roles
}

func TestRouter_VisibilityByRole(t *testing.T) {
	s := newTestServer(t)
	master := s.login(t, "master", masterPassword)
	admin := s.login(t, "admin@example.com", "password-1234")
	user := s.login(t, "user", "password-1234")

	resp, body := s.do(t, http.MethodGet, "/admin/users", master, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.ElementsMatch(t, []string{"MASTER", "ADMIN", "USER"}, listedRoles(body))

	resp, body = s.do(t, http.MethodGet, "/admin/users", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"USER"}, listedRoles(body))

	resp, body = s.do(t, http.MethodGet, "/admin/users?role=ADMIN", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["data"])

	resp, body = s.do(t, http.MethodGet, "/admin/users", user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["data"], 1)
	assert.Equal(t, s.users["user"].ID, body["data"].([]any)[0].(map[string]any)["id"])

	resp, body = s.do(t, http.MethodGet, "/admin/users?role=ROOT", master, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestRouter_BlockFlow(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "admin", "password-1234")
	user := s.login(t, "user", "password-1234")
	userID := s.users["user"].ID

	resp, body := s.do(t, http.MethodPost, "/admin/users/"+s.users["admin"].ID+"/block", user, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	resp, body = s.do(t, http.MethodPost, "/admin/users/"+s.users["master"].ID+"/block", admin, map[string]string{"reason": "try"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	resp, body = s.do(t, http.MethodPost, "/admin/users/"+userID+"/block", admin, map[string]string{"reason": "spam"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.NotEmpty(t, body["data"].(map[string]any)["blocked_at"])

	resp, _ = s.do(t, http.MethodGet, "/admin/users", user, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/admin/users/"+userID+"/block", admin, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_STATE", errorCode(body))

	resp, _ = s.do(t, http.MethodPost, "/admin/users/"+userID+"/unblock", admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	s.login(t, "user", "password-1234")
}

func TestRouter_RoleChangesAndDelete(t *testing.T) {
	s := newTestServer(t)
	master := s.login(t, "master", masterPassword)
	admin := s.login(t, "admin", "password-1234")
	userID := s.users["user"].ID

	resp, _ := s.do(t, http.MethodPost, "/admin/users/"+userID+"/promote", admin, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/admin/users/"+userID+"/promote", master, map[string]string{"reason": "trusted"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "ADMIN", body["data"].(map[string]any)["role"])

	resp, body = s.do(t, http.MethodPut, "/admin/users/"+userID+"/admin-visibility", master, map[string]bool{"can_view_admins": true})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["data"].(map[string]any)["can_view_admins"])

	resp, body = s.do(t, http.MethodPut, "/admin/users/"+userID+"/admin-visibility", master, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	resp, _ = s.do(t, http.MethodDelete, "/admin/users/"+s.users["master"].ID, master, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(t, http.MethodDelete, "/admin/users/"+userID, master, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = s.do(t, http.MethodDelete, "/admin/users/"+userID, master, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestRouter_RecoveryKeyLifecycle(t *testing.T) {
	s := newTestServer(t)
	master := s.login(t, "master", masterPassword)
	admin := s.login(t, "admin", "password-1234")

	resp, _ := s.do(t, http.MethodPost, "/admin/recovery-key", admin, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/admin/recovery-key", master, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "no-store", resp.Header.Get(fiber.HeaderCacheControl))
	key := body["data"].(map[string]any)["secret_key"].(string)
	assert.Len(t, key, config.DefaultRecoveryKeyLength)
	expiresAt, err := time.Parse(time.RFC3339Nano, body["data"].(map[string]any)["expires_at"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(90*24*time.Hour), expiresAt, time.Minute)

	resp, body = s.do(t, http.MethodGet, "/admin/recovery-key/status", master, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["data"].(map[string]any)["has_valid_key"])

	redeem := map[string]string{"username": "master", "secret_key": key, "new_password": "brand-new-password"}
	resp, body = s.do(t, http.MethodPost, "/auth/recovery/redeem", "", redeem)
	require.Equal(t, http.StatusNoContent, resp.StatusCode, body)

	resp, body = s.do(t, http.MethodPost, "/auth/recovery/redeem", "", redeem)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_RECOVERY_KEY", errorCode(body))

	master = s.login(t, "master", "brand-new-password")
	resp, body = s.do(t, http.MethodGet, "/admin/recovery-key/status", master, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["data"].(map[string]any)["has_valid_key"])
}

func TestRouter_RecoveryAttemptsThrottled(t *testing.T) {
	s := newTestServer(t)
	guess := map[string]string{"username": "master", "secret_key": "WRONGKEYWRONGKEY", "new_password": "brand-new-password"}

	for i := 0; i < 5; i++ {
		resp, _ := s.do(t, http.MethodPost, "/auth/recovery/redeem", "", guess)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, body := s.do(t, http.MethodPost, "/auth/recovery/redeem", "", guess)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "TOO_MANY_ATTEMPTS", errorCode(body))
}

func TestRouter_Infrastructure(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["dependencies"].(map[string]any)["redis"])

	resp, body = s.do(t, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	resp, body = s.do(t, http.MethodGet, "/admin/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mresp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "account_hierarchy_http_requests_total")
	assert.Contains(t, string(raw), "account_hierarchy_http_errors_total")
}
