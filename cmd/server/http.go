package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"azure-search-mcp/internal/api"
	"azure-search-mcp/internal/auth"
	"azure-search-mcp/internal/logging"
	"azure-search-mcp/internal/mcp"
	"azure-search-mcp/internal/tls"
)

// newEcho builds the HTTP surface: health, the REST API and the MCP
// transports, with the bearer guard on everything but /health.
func newEcho(a *app, guard *auth.Auth) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(a.cfg.Server.Name, otelecho.WithTracerProvider(a.provider.TracerProvider())))
	e.Use(requestLogger(a.logger))

	h := api.NewHandler(a.router, a.store, a.cfg.Server.Name, a.cfg.Server.Version)
	e.GET("/health", h.HandleHealth)

	apiGroup := e.Group("/api/v1", guard.RequireBearer)
	api.RegisterHandlers(apiGroup, h)

	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, a.server.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(mcpHandlers), guard.RequireBearer)
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers), guard.RequireBearer)
	return e
}

func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency_ms", v.Latency.Milliseconds()}
			if p, ok := auth.FromContext(c.Request().Context()); ok {
				fields = append(fields, "subject", p.Subject)
			}
			if v.Error != nil {
				logger.Warn("HTTP request failed", append(fields, "error", v.Error)...)
				return nil
			}
			logger.Debug("HTTP request", fields...)
			return nil
		},
	})
}

func serveHTTP(ctx context.Context, a *app) error {
	guard, err := auth.New(ctx, auth.Config{
		Issuer:   a.cfg.Auth.Issuer,
		ClientID: a.cfg.Auth.ClientID,
		Scope:    a.cfg.Auth.Scope,
	}, a.logger)
	if err != nil {
		return err
	}
	if guard == nil {
		a.logger.Warn("OIDC_ISSUER not set, HTTP transport is unauthenticated")
	}

	server := &http.Server{
		Addr:              a.cfg.Server.HTTPAddr,
		Handler:           newEcho(a, guard),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// SSE streams stay open, so writes are not bounded here.
		IdleTimeout: 60 * time.Second,
	}

	if a.cfg.TLS.Enable {
		generated, err := tls.EnsureCert(a.cfg.TLS.CertFile, a.cfg.TLS.KeyFile, a.cfg.TLS.Hostnames)
		if err != nil {
			return err
		}
		if generated {
			a.logger.Warn("Generated self-signed certificate", "cert_file", a.cfg.TLS.CertFile)
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", "address", server.Addr, "tls", a.cfg.TLS.Enable)
		if a.cfg.TLS.Enable {
			serverErrors <- server.ListenAndServeTLS(a.cfg.TLS.CertFile, a.cfg.TLS.KeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				a.logger.Error("Server close error", "error", err)
			}
		}
		a.logger.Info("Server stopped gracefully")
		return nil
	}
}
