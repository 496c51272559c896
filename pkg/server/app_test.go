package server

import (
	"context"
	"net"
	"testing"
	"time"

	"EventArb/internal/domain/models"
	"EventArb/internal/usecase"
	"EventArb/pkg/config"
	xhttp "EventArb/pkg/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upcomingSource struct{ events []models.Event }

func (s upcomingSource) ListEnabledEvents(context.Context) ([]models.Event, error) {
	return s.events, nil
}

type openLedger struct{}

func (openLedger) Claim(context.Context, models.FireRecord) (bool, error) { return true, nil }

type noopHandler struct{}

func (noopHandler) Handle(context.Context, models.Event) error { return nil }

type trackingCloser struct{ closed bool }

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}

func TestRunUnwindsWhenHTTPBindFails(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	cfg := &config.Config{}
	cfg.Server.ShutdownTimeout = time.Second

	src := upcomingSource{events: []models.Event{
		{ID: "CPI_2025_03", Kind: "CPI", ScheduledAt: time.Now().Add(time.Hour), Enabled: true},
	}}
	sched := usecase.NewScheduler(src, openLedger{}, noopHandler{}, nil, usecase.SchedulerConfig{PollInterval: time.Hour}, nil, nil)

	reg := prometheus.NewRegistry()
	httpServer := xhttp.NewServer(nil, xhttp.WithHost("127.0.0.1"), xhttp.WithPort(port), xhttp.WithRegistry(reg, reg))

	app := New(cfg, nil, sched, nil, nil, nil, nil, httpServer)
	closer := &trackingCloser{}
	app.OnClose("store", closer)

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "start http server")
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after a failed start")
	}

	assert.Empty(t, sched.Triggers(), "armed triggers are cancelled")
	assert.ErrorIs(t, sched.Schedule(models.Event{ID: "late", ScheduledAt: time.Now().Add(time.Hour)}), usecase.ErrSchedulerClosed)
	assert.True(t, closer.closed)
}
