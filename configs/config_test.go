package config

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	assert.Equal(t, log.DebugLevel, logLevel())

	t.Setenv("LOG_LEVEL", "loud")
	assert.Equal(t, log.InfoLevel, logLevel())
}

func TestCreateUniqueInstance(t *testing.T) {
	id := CreateUniqueInstance("card")

	assert.Len(t, id, 36)
	assert.Equal(t, id, GetInstanceId())
}

func TestCustomLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	prev := log.StandardLogger().Out
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(prev) })

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(CustomLoggerMiddleware())
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), "GET /ping")
	assert.Contains(t, buf.String(), "status=418")
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	t.Setenv("CORS_ORIGINS", "https://wish.example.com")

	h := CORS().Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://wish.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://wish.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
