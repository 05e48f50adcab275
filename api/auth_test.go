package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/security"
)

func newAuthHandlers(t *testing.T) (*AuthHandlers, repository.UserRepository) {
	t.Helper()
	store := repository.NewMemoryStore()
	users := repository.MemoryUserRepository{MemoryStore: store}
	jwt := security.NewJWTService("test-secret")
	return NewAuthHandlers(users, jwt, time.Hour), users
}

func TestAuthHandlers_RegisterThenAccessToken(t *testing.T) {
	h, _ := newAuthHandlers(t)
	e := echo.New()

	body := `{"email":"new@example.com","password":"supersecret"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.Register(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	form := url.Values{"username": {"new@example.com"}, "password": {"supersecret"}}
	req2 := httptest.NewRequest(http.MethodPost, "/auth/access-token", strings.NewReader(form.Encode()))
	req2.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec2 := httptest.NewRecorder()
	c2 := e.NewContext(req2, rec2)

	require.NoError(t, h.AccessToken(c2))
	assert.Equal(t, http.StatusOK, rec2.Code)

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
}

func TestAuthHandlers_RegisterDuplicateEmailConflicts(t *testing.T) {
	h, _ := newAuthHandlers(t)
	e := echo.New()

	body := `{"email":"dup@example.com","password":"supersecret"}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		err := h.Register(c)
		if i == 0 {
			require.NoError(t, err)
		} else {
			require.Error(t, err)
		}
	}
}

func TestAuthHandlers_AccessTokenWrongPasswordUnauthorized(t *testing.T) {
	h, _ := newAuthHandlers(t)
	e := echo.New()

	body := `{"email":"wrong@example.com","password":"supersecret"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Register(e.NewContext(req, rec)))

	form := url.Values{"username": {"wrong@example.com"}, "password": {"bad-password"}}
	req2 := httptest.NewRequest(http.MethodPost, "/auth/access-token", strings.NewReader(form.Encode()))
	req2.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec2 := httptest.NewRecorder()
	c2 := e.NewContext(req2, rec2)

	err := h.AccessToken(c2)
	require.Error(t, err)
}
