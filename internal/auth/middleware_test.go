package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/straye-as/salesflow-api/internal/auth"
	"github.com/straye-as/salesflow-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret = "test-signing-secret"
	testIssuer = "salesflow-test"
	testAPIKey = "test-api-key-12345"
)

func createTestConfig() *config.AuthConfig {
	return &config.AuthConfig{
		JWTSecret:       testSecret,
		JWTIssuer:       testIssuer,
		APIKey:          testAPIKey,
		APIKeyActorName: "Website Intake",
	}
}

// captureHandler records the user context seen by the next handler
func captureHandler(called *bool, user **auth.UserContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		*user, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_Authenticate_WithAPIKey(t *testing.T) {
	m := auth.NewMiddleware(createTestConfig(), zap.NewNop())

	var called bool
	var user *auth.UserContext
	handler := m.Authenticate(captureHandler(&called, &user))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/leads/intake", nil)
	req.Header.Set("x-api-key", testAPIKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.True(t, called)
	require.NotNil(t, user)
	assert.Equal(t, auth.AuthTypeAPIKey, user.AuthType)
	assert.Equal(t, "Website Intake", user.Actor().Name)
	assert.NotEmpty(t, user.Actor().ID)
}

func TestMiddleware_Authenticate_WithBearerToken(t *testing.T) {
	cfg := createTestConfig()
	m := auth.NewMiddleware(cfg, zap.NewNop())
	token, err := auth.NewJWTValidator(cfg).IssueToken("staff-42", "Kari Nordmann", "kari@straye.no", []string{"sales"}, time.Hour)
	require.NoError(t, err)

	var called bool
	var user *auth.UserContext
	handler := m.Authenticate(captureHandler(&called, &user))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/opportunities", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.True(t, called)
	assert.Equal(t, "staff-42", user.UserID)
	assert.Equal(t, auth.AuthTypeJWT, user.AuthType)

	actor, ok := auth.ActorFromContext(auth.WithUserContext(req.Context(), user))
	require.True(t, ok)
	assert.Equal(t, "Kari Nordmann", actor.Name)
}

func TestMiddleware_Authenticate_Rejects(t *testing.T) {
	cfg := createTestConfig()
	m := auth.NewMiddleware(cfg, zap.NewNop())

	other := *cfg
	other.JWTSecret = "another-secret"
	forged, err := auth.NewJWTValidator(&other).IssueToken("staff-1", "Mallory", "", nil, time.Hour)
	require.NoError(t, err)

	expired, err := auth.NewJWTValidator(cfg).IssueToken("staff-1", "Kari", "", nil, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"missing header", nil},
		{"wrong api key", map[string]string{"x-api-key": "nope"}},
		{"basic auth", map[string]string{"Authorization": "Basic dXNlcjpwYXNz"}},
		{"garbage token", map[string]string{"Authorization": "Bearer not-a-jwt"}},
		{"foreign signature", map[string]string{"Authorization": "Bearer " + forged}},
		{"expired token", map[string]string{"Authorization": "Bearer " + expired}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			var user *auth.UserContext
			handler := m.Authenticate(captureHandler(&called, &user))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.False(t, called)
		})
	}
}

func TestMiddleware_APIKeyDisabledWhenUnset(t *testing.T) {
	cfg := createTestConfig()
	cfg.APIKey = ""
	m := auth.NewMiddleware(cfg, zap.NewNop())

	var called bool
	var user *auth.UserContext
	handler := m.Authenticate(captureHandler(&called, &user))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	req.Header.Set("x-api-key", "anything")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)
}
