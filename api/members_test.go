package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
)

func TestMemberHandlers_AddThenRemove(t *testing.T) {
	store := repository.NewMemoryStore()
	memberships := repository.MemoryMembershipRepository{MemoryStore: store}
	h := NewMemberHandlers(memberships)
	e := echo.New()

	body := `{"user_id":"u2","role":"EDITOR"}`
	req := httptest.NewRequest(http.MethodPost, "/knowledge/kb1/members", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kb_id")
	c.SetParamValues("kb1")

	require.NoError(t, h.Add(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	m, err := memberships.Get(t.Context(), "u2", "kb1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleEditor, m.Role)

	req2 := httptest.NewRequest(http.MethodDelete, "/knowledge/kb1/members/u2", nil)
	rec2 := httptest.NewRecorder()
	c2 := e.NewContext(req2, rec2)
	c2.SetParamNames("kb_id", "user_id")
	c2.SetParamValues("kb1", "u2")

	require.NoError(t, h.Remove(c2))
	assert.Equal(t, http.StatusNoContent, rec2.Code)

	_, err = memberships.Get(t.Context(), "u2", "kb1")
	assert.Error(t, err)
}

func TestMemberHandlers_AddRejectsUnknownRole(t *testing.T) {
	store := repository.NewMemoryStore()
	memberships := repository.MemoryMembershipRepository{MemoryStore: store}
	h := NewMemberHandlers(memberships)
	e := echo.New()

	body := `{"user_id":"u2","role":"WIZARD"}`
	req := httptest.NewRequest(http.MethodPost, "/knowledge/kb1/members", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kb_id")
	c.SetParamValues("kb1")

	err := h.Add(c)
	require.Error(t, err)
}
