package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ztkent/color-meter/internal/colormeter"
	"github.com/ztkent/color-meter/internal/config"
	"github.com/ztkent/color-meter/tcs34725"
)

type idleSensor struct{}

func (idleSensor) Start(ctx context.Context) error { return nil }

func (idleSensor) ReadRaw(ctx context.Context) (tcs34725.RawSample, error) {
	return tcs34725.RawSample{}, tcs34725.ErrNotStarted
}

func (idleSensor) ReadPhotometric(ctx context.Context) (tcs34725.Reading, error) {
	return tcs34725.Reading{}, tcs34725.ErrNotStarted
}

func (idleSensor) Recalibrate(ctx context.Context) error { return tcs34725.ErrNotStarted }

func (idleSensor) Status() tcs34725.Status { return tcs34725.Status{State: "off"} }

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()
	cfg := config.Default().Server
	cfg.WebDAVRoot = t.TempDir()
	cfg.AllowedCIDRs = []string{"192.168.1.0/24"}

	r := chi.NewRouter()
	r.Use(handleServerPanic)
	require.NoError(t, defineRoutes(r, &colormeter.CMeter{Sensor: idleSensor{}}, cfg))
	r.Get("/panic", func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	return r
}

func request(r http.Handler, method, target, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader("body"))
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	r := newTestRouter(t)

	rec := request(r, http.MethodGet, "/id", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var id map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &id))
	assert.Equal(t, "Color Meter", id["service_name"])

	rec = request(r, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"off"`)

	rec = request(r, http.MethodGet, "/api/v1/reading", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = request(r, http.MethodGet, "/api/v1/recalibrate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRestrictedRoutes(t *testing.T) {
	r := newTestRouter(t)

	assert.Equal(t, http.StatusForbidden, request(r, http.MethodGet, "/colormeter/controls", "8.8.8.8:1234").Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/colormeter/controls", "192.168.1.7:1234").Code)

	assert.Equal(t, http.StatusForbidden, request(r, http.MethodPut, "/files/a.txt", "8.8.8.8:1234").Code)
	// WebDAV is off by default.
	assert.Equal(t, http.StatusMethodNotAllowed, request(r, http.MethodPut, "/files/a.txt", "127.0.0.1:1234").Code)
}

func TestPanicRecovery(t *testing.T) {
	rec := request(newTestRouter(t), http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")
}
