package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezchat/realtime/backend/internal/config"
	"github.com/ezchat/realtime/backend/internal/relay"
	chatService "github.com/ezchat/realtime/backend/internal/service/chat"
	"github.com/ezchat/realtime/backend/internal/store/memstore"
)

func newTestRouter() http.Handler {
	cfg := &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"*"}},
		Relay:  config.RelayConfig{SendBuffer: 8},
		Auth:   config.AuthConfig{JWTSecret: "secret"},
	}
	return NewRouter(cfg, chatService.NewService(memstore.New()), relay.New(relay.NewRegistry()))
}

func TestHealthzReportsRelayStats(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	newTestRouter().ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Status string      `json:"status"`
		Relay  relay.Stats `json:"relay"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Zero(t, body.Relay.Connections)
}

func TestSignupIsPublicButAPIRequiresToken(t *testing.T) {
	r := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"name":"Alice","email":"alice@example.com"}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusCreated, resp.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
	req.Header.Set("X-User-ID", "someone")
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
