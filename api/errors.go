package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ragctl/ragctl/apperrors"
)

// statusFor maps an apperrors.Kind to the HTTP status it surfaces as, per
// spec.md §7's error propagation policy.
func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindInvalid:
		return http.StatusBadRequest
	case apperrors.KindUnauthorized:
		return http.StatusUnauthorized
	case apperrors.KindForbidden:
		return http.StatusForbidden
	case apperrors.KindQuotaReached:
		return http.StatusTooManyRequests
	case apperrors.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// httpError converts err into an *echo.HTTPError, mapping a wrapped
// *apperrors.Error to its status and otherwise defaulting to 500 so
// handlers never need to type-switch themselves.
func httpError(err error) *echo.HTTPError {
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		return echo.NewHTTPError(statusFor(ae.Kind), ae.Message)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// ErrorHandler is installed as the echo.Echo's HTTPErrorHandler so every
// handler can just `return err` and get consistent status mapping.
func ErrorHandler(err error, c echo.Context) {
	he := httpError(err)
	if existing, ok := err.(*echo.HTTPError); ok {
		he = existing
	}

	if c.Response().Committed {
		return
	}
	var sendErr error
	if c.Request().Method == http.MethodHead {
		sendErr = c.NoContent(he.Code)
	} else {
		sendErr = c.JSON(he.Code, map[string]interface{}{"error": he.Message})
	}
	if sendErr != nil {
		c.Logger().Error(sendErr)
	}
}
