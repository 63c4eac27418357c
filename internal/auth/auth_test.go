package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azure-search-mcp/internal/logging"
)

const (
	testIssuer = "https://test-issuer.com"
	testScope  = "search:query"
)

// MockKeySet satisfies oidc.KeySet to bypass signature verification
type MockKeySet struct{}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

func fakeToken(t *testing.T, extra map[string]any) string {
	t.Helper()
	claims := map[string]any{
		"iss": testIssuer,
		"aud": "api://search",
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	header, err := json.Marshal(map[string]any{"alg": "RS256", "typ": "JWT", "kid": "test-key"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
}

func newTestAuth(scope string) *Auth {
	verifier := oidc.NewVerifier(testIssuer, &MockKeySet{}, &oidc.Config{SkipClientIDCheck: true})
	return NewWithVerifier(verifier, scope, logging.Nop())
}

func serve(a *Auth, token string) (*httptest.ResponseRecorder, *Principal) {
	var seen *Principal
	e := echo.New()
	e.GET("/mcp", func(c echo.Context) error {
		if p, ok := FromContext(c.Request().Context()); ok {
			seen = &p
		}
		return c.NoContent(http.StatusOK)
	}, a.RequireBearer)

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireBearer_ValidToken(t *testing.T) {
	a := newTestAuth(testScope)
	rec, p := serve(a, fakeToken(t, map[string]any{
		"email": "user@acme.com",
		"scp":   []string{"openid", testScope},
	}))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, p)
	assert.Equal(t, "user-1", p.Subject)
	assert.Equal(t, "user@acme.com", p.Email)
	assert.True(t, p.HasScope(testScope))
}

func TestRequireBearer_SpaceSeparatedScope(t *testing.T) {
	a := newTestAuth(testScope)
	rec, p := serve(a, fakeToken(t, map[string]any{"scope": "openid " + testScope}))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, p)
	assert.ElementsMatch(t, []string{"openid", testScope}, p.Scopes)
}

func TestRequireBearer_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"malformed token", "not-a-jwt", http.StatusUnauthorized},
		{"expired token", fakeToken(t, map[string]any{"exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"missing scope", fakeToken(t, map[string]any{"scope": "openid"}), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, p := serve(newTestAuth(testScope), tt.token)
			assert.Equal(t, tt.status, rec.Code)
			assert.Nil(t, p)
		})
	}
}

func TestRequireBearer_Disabled(t *testing.T) {
	a, err := New(context.Background(), Config{}, logging.Nop())
	require.NoError(t, err)
	assert.Nil(t, a)

	rec, p := serve(a, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, p)
}

func TestNew_RequiresClientID(t *testing.T) {
	_, err := New(context.Background(), Config{Issuer: testIssuer}, logging.Nop())
	assert.Error(t, err)
}
