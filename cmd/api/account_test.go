package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/koomind/koomind-backend/internal/data"
)

func login(t *testing.T, env *testEnv, email, password string) loginResponse {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[loginResponse](t, rec)
}

func TestRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.user(t, "Alice", "alice@example.com")

	session := login(t, env, "alice@example.com", "secret123")
	require.NotEmpty(t, session.RefreshToken)
	assert.NotEqual(t, session.AccessToken, session.RefreshToken)

	rec := env.do(t, http.MethodPost, "/api/refresh-token", "", map[string]string{"token": session.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refreshed := decode[refreshResponse](t, rec)
	require.NotEmpty(t, refreshed.AccessToken)

	rec = env.do(t, http.MethodGet, "/api/me", refreshed.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice, decode[data.User](t, rec).ID)

	// an access token is not a refresh token
	rec = env.do(t, http.MethodPost, "/api/refresh-token", "", map[string]string{"token": session.AccessToken})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "invalid refresh token", errorMessage(t, rec))

	rec = env.do(t, http.MethodPost, "/api/refresh-token", "", map[string]string{"token": " "})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "refresh token missing", errorMessage(t, rec))

	// nor is a refresh token an access token
	rec = env.do(t, http.MethodGet, "/api/me", session.RefreshToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestResetPasswordRevokesRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.admin(t, "Root", "root@example.com")
	_, userToken := env.user(t, "Alice", "alice@example.com")

	session := login(t, env, "alice@example.com", "secret123")

	reset := map[string]string{"email": "Alice@Example.com", "password": "brand-new-pass"}
	rec := env.do(t, http.MethodPut, "/api/user/reset-password", userToken, reset)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "admin access required", errorMessage(t, rec))

	rec = env.do(t, http.MethodPut, "/api/user/reset-password", adminToken, map[string]string{"email": "alice@example.com", "password": "123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/user/reset-password", adminToken, map[string]string{"email": "ghost@example.com", "password": "brand-new-pass"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/user/reset-password", adminToken, reset)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"Password updated successfully"}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/refresh-token", "", map[string]string{"token": session.RefreshToken})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "alice@example.com", "password": "secret123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	fresh := login(t, env, "alice@example.com", "brand-new-pass")
	rec = env.do(t, http.MethodPost, "/api/refresh-token", "", map[string]string{"token": fresh.RefreshToken})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	alice, token := env.user(t, "Alice", "alice@example.com")

	rec := env.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[data.User](t, rec)
	assert.Equal(t, alice, me.ID)
	assert.Equal(t, "alice@example.com", me.Email)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "$2a$")

	rec = env.do(t, http.MethodPut, "/api/me", token, map[string]string{"bio": strings.Repeat("b", 501)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bio must be at most 500 characters", errorMessage(t, rec))

	rec = env.do(t, http.MethodPut, "/api/me", token, map[string]string{"linkedin": "not a url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/me", token, map[string]string{
		"bio": " Ships things ", "phone": "+1 555 0100", "linkedin": "https://linkedin.com/in/alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[profileResponse](t, rec)
	assert.Equal(t, "Profile updated", updated.Message)
	assert.Equal(t, "Ships things", updated.User.Profile.Bio)

	rec = env.do(t, http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, data.Profile{
		Bio: "Ships things", Phone: "+1 555 0100", LinkedIn: "https://linkedin.com/in/alice",
	}, decode[data.User](t, rec).Profile)

	// a token outliving its account
	require.NoError(t, env.db.Users().DeleteUser(context.Background(), alice))
	rec = env.do(t, http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminUserManagement(t *testing.T) {
	env := newTestEnv(t)
	root, adminToken := env.admin(t, "Root", "root@example.com")
	alice, userToken := env.user(t, "Alice", "alice@example.com")
	env.user(t, "Bob", "bob@example.com")
	alicePath := "/api/user/" + alice.Hex()

	for _, rt := range []struct{ method, path string }{
		{http.MethodGet, "/api/admins"},
		{http.MethodGet, alicePath},
		{http.MethodPut, alicePath},
		{http.MethodDelete, alicePath},
	} {
		rec := env.do(t, rt.method, rt.path, userToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, rt.method+" "+rt.path)
	}

	rec := env.do(t, http.MethodGet, "/api/admins", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	admins := decode[[]data.User](t, rec)
	require.Len(t, admins, 1)
	assert.Equal(t, root, admins[0].ID)

	rec = env.do(t, http.MethodGet, alicePath, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alice", decode[data.User](t, rec).Name)

	missing := "/api/user/" + bson.NewObjectID().Hex()
	rec = env.do(t, http.MethodGet, missing, adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "user not found", errorMessage(t, rec))

	rec = env.do(t, http.MethodGet, "/api/user/nope", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// updates
	rec = env.do(t, http.MethodPut, alicePath, adminToken, map[string]string{"email": "BOB@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPut, alicePath, adminToken, map[string]string{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, missing, adminToken, map[string]string{"name": "Ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, alicePath, adminToken, map[string]string{"name": "Alice Liddell", "email": "Liddell@Example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"User updated","user":{"name":"Alice Liddell","email":"liddell@example.com"}}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, alicePath, adminToken, map[string]string{"name": "Alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"User updated","user":{"name":"Alice","email":"liddell@example.com"}}`, rec.Body.String())

	// deletes
	rec = env.do(t, http.MethodDelete, alicePath, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"User deleted successfully"}`, rec.Body.String())

	rec = env.do(t, http.MethodDelete, alicePath, adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/users", adminToken, nil)
	assert.NotContains(t, rec.Body.String(), alice.Hex())
}

func TestOversizedBodyIsRejected(t *testing.T) {
	env := newTestEnv(t)
	body := `{"name":"Big","email":"big@example.com","password":"secret123","pad":"` + strings.Repeat("x", 1<<20) + `"}`

	req := httptest.NewRequest(http.MethodPost, "/api/create-user", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	_, err := env.db.Users().GetUserByEmail(context.Background(), "big@example.com")
	assert.ErrorIs(t, err, data.ErrNotFound)
}
