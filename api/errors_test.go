package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/ragctl/ragctl/apperrors"
)

func TestStatusFor(t *testing.T) {
	cases := map[apperrors.Kind]int{
		apperrors.KindNotFound:     http.StatusNotFound,
		apperrors.KindConflict:     http.StatusConflict,
		apperrors.KindInvalid:      http.StatusBadRequest,
		apperrors.KindUnauthorized: http.StatusUnauthorized,
		apperrors.KindForbidden:    http.StatusForbidden,
		apperrors.KindQuotaReached: http.StatusTooManyRequests,
		apperrors.KindUpstream:     http.StatusBadGateway,
		apperrors.KindInternal:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind))
	}
}

func TestErrorHandler_AppErrorMapsStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	ErrorHandler(apperrors.New(apperrors.KindConflict, "create widget", nil), c)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "create widget")
}

func TestErrorHandler_GenericErrorDefaultsTo500(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	ErrorHandler(assertionError("boom"), c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type assertionError string

func (e assertionError) Error() string { return string(e) }
