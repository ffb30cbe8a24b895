package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/garnizeh/expertfeed/api"
	"github.com/garnizeh/expertfeed/internal/config"
	"github.com/garnizeh/expertfeed/pkg/models"
	"github.com/garnizeh/expertfeed/pkg/repository/mock"
)

const testSecret = "testsecret"

func tokenFor(t *testing.T, userID int64, role models.Role) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func newRouter(m *mock.Mocks, b api.Broadcaster, open api.ChannelOpener) http.Handler {
	cfg := &config.Config{
		JWTSecret:     testSecret,
		TokenDuration: time.Hour,
		Stream:        config.StreamConfig{WriteTimeout: time.Second, PingInterval: time.Second, Buffer: 16},
	}
	return api.SetupRoutes(cfg, "test", "now", api.Deps{
		Users:       m.Users,
		Profiles:    m.Profiles,
		Questions:   m.Questions,
		Categories:  m.Categories,
		Broadcaster: b,
		OpenChannel: open,
	})
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return v
}
