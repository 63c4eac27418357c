// Package auth guards the HTTP transport with OpenID Connect bearer tokens.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Config selects the identity provider. An empty Issuer disables the guard.
type Config struct {
	Issuer   string
	ClientID string
	// Scope, when set, must be granted by every token.
	Scope string
}

// Auth verifies bearer access tokens issued by an OIDC provider.
type Auth struct {
	verifier *oidc.IDTokenVerifier
	scope    string
	logger   Logger
}

// Principal is the verified caller attached to the request context.
type Principal struct {
	Subject string
	Email   string
	Scopes  []string
}

type principalKey struct{}

// New discovers the provider at cfg.Issuer and prepares a token verifier.
// It returns (nil, nil) when no issuer is configured.
func New(ctx context.Context, cfg Config, logger Logger) (*Auth, error) {
	if cfg.Issuer == "" {
		return nil, nil
	}
	if cfg.ClientID == "" {
		return nil, errors.New("auth configuration is incomplete: OIDC_CLIENT_ID is required with OIDC_ISSUER")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, err
	}

	// Access tokens often carry an API audience rather than the client id.
	verifier := provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	logger.Info("bearer authentication enabled", "issuer", cfg.Issuer, "scope", cfg.Scope)
	return NewWithVerifier(verifier, cfg.Scope, logger), nil
}

// NewWithVerifier builds an Auth around an existing verifier.
func NewWithVerifier(verifier *oidc.IDTokenVerifier, scope string, logger Logger) *Auth {
	return &Auth{verifier: verifier, scope: scope, logger: logger}
}

// RequireBearer is echo middleware that rejects requests without a valid
// bearer token. A nil Auth lets every request through.
func (a *Auth) RequireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	if a == nil {
		return next
	}
	return func(c echo.Context) error {
		r := c.Request()
		authHeader := r.Header.Get(echo.HeaderAuthorization)
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return unauthorized(c, "missing bearer token")
		}

		token, err := a.verifier.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			a.logger.Debug("token rejected", "error", err, "path", r.URL.Path)
			return unauthorized(c, "invalid token")
		}

		var claims struct {
			Email string   `json:"email"`
			Scope string   `json:"scope"`
			Scp   []string `json:"scp"`
		}
		if err := token.Claims(&claims); err != nil {
			return unauthorized(c, "failed to parse token claims")
		}

		p := Principal{Subject: token.Subject, Email: claims.Email, Scopes: claims.Scp}
		if claims.Scope != "" {
			p.Scopes = append(p.Scopes, strings.Fields(claims.Scope)...)
		}
		if a.scope != "" && !p.HasScope(a.scope) {
			a.logger.Warn("token lacks required scope", "subject", p.Subject, "scope", a.scope)
			return echo.NewHTTPError(http.StatusForbidden, "insufficient scope")
		}

		ctx := context.WithValue(r.Context(), principalKey{}, p)
		c.SetRequest(r.WithContext(ctx))
		return next(c)
	}
}

// HasScope reports whether scope was granted.
func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// FromContext returns the verified caller, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func unauthorized(c echo.Context, msg string) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="mcp"`)
	return echo.NewHTTPError(http.StatusUnauthorized, msg)
}
