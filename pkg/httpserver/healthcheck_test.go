package httpserver_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/learnsphere/billing/pkg/httpserver"
)

func TestHealthCheckHandler(t *testing.T) {
	t.Parallel()

	log := slog.Default()

	t.Run("no probes means liveness", func(t *testing.T) {
		t.Parallel()

		rr := httptest.NewRecorder()
		httpserver.HealthCheckHandler(log)(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "ALIVE", rr.Body.String())
	})

	t.Run("all probes passing means ready", func(t *testing.T) {
		t.Parallel()

		ok := func(context.Context) error { return nil }

		rr := httptest.NewRecorder()
		httpserver.HealthCheckHandler(log, ok, ok)(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "READY", rr.Body.String())
	})

	t.Run("one failing probe means not ready", func(t *testing.T) {
		t.Parallel()

		ok := func(context.Context) error { return nil }
		bad := func(context.Context) error { return errors.New("mongo unreachable") }

		rr := httptest.NewRecorder()
		httpserver.HealthCheckHandler(log, ok, bad)(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "NOT_READY", rr.Body.String())
	})
}
