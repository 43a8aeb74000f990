package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koomind/koomind-backend/internal/apperror"
)

func TestLimiterStore_AllowAndCleanup(t *testing.T) {
	// allow 5 events immediately then the 6th should be rejected
	s := NewLimiterStore(5, 5, time.Hour)
	defer s.Stop()

	key := "test@example.com"
	for i := 0; i < 5; i++ {
		require.True(t, s.Allow(key), "expected allow at iteration %d", i)
	}
	assert.False(t, s.Allow(key), "expected limiter to block after burst consumed")
	assert.True(t, s.Allow("other@example.com"), "keys are independent")

	s.evictIdle(time.Now().Add(time.Minute))
	s.mu.Lock()
	assert.Empty(t, s.clients)
	s.mu.Unlock()

	// a fresh limiter after eviction
	assert.True(t, s.Allow(key))
	s.Stop()
}

func TestRateLimitMiddleware(t *testing.T) {
	s := NewLimiterStore(1, 2, time.Hour)
	defer s.Stop()

	e := echo.New()
	h := RateLimit(s, KeyByEmail)(func(c echo.Context) error {
		var body struct {
			Email string `json:"email"`
		}
		require.NoError(t, c.Bind(&body))
		return c.String(http.StatusOK, body.Email)
	})

	call := func(email string) (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"email":"`+email+`"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		return rec, h(e.NewContext(req, rec))
	}

	rec, err := call("Ann@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ann@Example.com", rec.Body.String(), "body is still readable by the handler")

	_, err = call("ann@example.com")
	require.NoError(t, err)

	_, err = call(" ANN@example.com ")
	assert.True(t, apperror.Is(err, apperror.KindRateLimited))

	_, err = call("bob@example.com")
	assert.NoError(t, err)
}

func TestKeyByEmailFallsBackToIP(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`not json`))
	req.RemoteAddr = "10.0.0.7:1234"
	c := e.NewContext(req, httptest.NewRecorder())

	assert.Equal(t, "ip:10.0.0.7", KeyByEmail(c))
}

func TestKeyByEmailKeepsLargeBodiesWhole(t *testing.T) {
	e := echo.New()
	payload := `{"email":"ann@example.com","bio":"` + strings.Repeat("x", 2*maxKeyPeek) + `"}`

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(payload))
	req.RemoteAddr = "10.0.0.7:1234"
	c := e.NewContext(req, httptest.NewRecorder())

	// too large to inspect, so the address is the key
	assert.Equal(t, "ip:10.0.0.7", KeyByEmail(c))

	got, err := io.ReadAll(c.Request().Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
	assert.NoError(t, c.Request().Body.Close())

	req = httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"email":"Ann@Example.com"}`))
	c = e.NewContext(req, httptest.NewRecorder())
	assert.Equal(t, "email:ann@example.com", KeyByEmail(c))
	got, err = io.ReadAll(c.Request().Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"Ann@Example.com"}`, string(got))
}
