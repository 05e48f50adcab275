package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/security"
)

func newAuthFixture(t *testing.T) (*security.JWTService, repository.UserRepository) {
	t.Helper()
	store := repository.NewMemoryStore()
	users := repository.MemoryUserRepository{MemoryStore: store}
	require.NoError(t, users.Create(t.Context(), &domain.User{ID: "u1", Email: "a@b.com", Active: true}))
	return security.NewJWTService("test-secret"), users
}

func TestJWTAuth_ValidTokenSetsUser(t *testing.T) {
	jwt, users := newAuthFixture(t)
	token, err := jwt.GenerateToken("u1", time.Hour)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var captured *AuthUser
	handler := JWTAuth(jwt, users)(func(c echo.Context) error {
		captured, _ = GetUser(c)
		return nil
	})

	require.NoError(t, handler(c))
	require.NotNil(t, captured)
	assert.Equal(t, "u1", captured.ID)
}

func TestJWTAuth_MissingHeaderRejected(t *testing.T) {
	jwt, users := newAuthFixture(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := JWTAuth(jwt, users)(func(c echo.Context) error { return nil })
	err := handler(c)

	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestJWTAuth_InvalidTokenRejected(t *testing.T) {
	jwt, users := newAuthFixture(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer garbage")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := JWTAuth(jwt, users)(func(c echo.Context) error { return nil })
	err := handler(c)

	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestRequireRole_OwnerCanManage(t *testing.T) {
	store := repository.NewMemoryStore()
	memberships := repository.MemoryMembershipRepository{MemoryStore: store}
	require.NoError(t, memberships.Upsert(t.Context(), &domain.Membership{UserID: "u1", KBID: "kb1", Role: domain.RoleOwner}))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kb_id")
	c.SetParamValues("kb1")
	SetUser(c, &AuthUser{ID: "u1"})

	called := false
	handler := RequireRole(memberships, domain.Role.CanManage)(func(c echo.Context) error {
		called = true
		return nil
	})

	require.NoError(t, handler(c))
	assert.True(t, called)
}

func TestRequireRole_ViewerCannotManage(t *testing.T) {
	store := repository.NewMemoryStore()
	memberships := repository.MemoryMembershipRepository{MemoryStore: store}
	require.NoError(t, memberships.Upsert(t.Context(), &domain.Membership{UserID: "u1", KBID: "kb1", Role: domain.RoleViewer}))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kb_id")
	c.SetParamValues("kb1")
	SetUser(c, &AuthUser{ID: "u1"})

	handler := RequireRole(memberships, domain.Role.CanManage)(func(c echo.Context) error {
		t.Fatal("handler should not run")
		return nil
	})

	err := handler(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)
}
