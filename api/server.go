// Package api exposes the ingestion/query surface (C10) over HTTP: thin
// echo handlers that bind requests to the platform's core components
// (rag.Orchestrator, ingest pipeline, retrieval, evaluation) and translate
// apperrors.Kind into the right status code. Transport itself is out of
// scope for the core spec; this package exists only to give C10 a
// concrete, runnable home.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ragctl/ragctl/config"
)

// NewEchoServer builds an echo instance with the platform's standard
// middleware stack: request logging, panic recovery, body-size limit,
// CORS, and request IDs.
func NewEchoServer(cfg config.ServerSettings) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{
				http.MethodGet, http.MethodPost, http.MethodPut,
				http.MethodDelete, http.MethodPatch, http.MethodOptions,
			},
			AllowHeaders: []string{
				echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
			},
		}))
	}
	e.Use(middleware.RequestID())

	e.HTTPErrorHandler = ErrorHandler
	return e
}

// StartServer runs e with cfg's timeouts until Shutdown is called.
func StartServer(e *echo.Echo, cfg config.ServerSettings) error {
	s := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return e.StartServer(s)
}

// GracefulShutdown stops e, waiting at most timeout for in-flight requests.
func GracefulShutdown(e *echo.Echo, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return e.Shutdown(ctx)
}
