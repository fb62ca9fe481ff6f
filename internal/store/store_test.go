package store

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/walkin-service/internal/application"
	"github.com/psds-microservice/walkin-service/internal/config"
	"github.com/psds-microservice/walkin-service/internal/logging"
	"github.com/psds-microservice/walkin-service/internal/model"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestAPI(t *testing.T) *application.API {
	t.Helper()
	cfg := &config.Config{
		DBDriver:              "sqlite",
		SQLitePath:            filepath.Join(t.TempDir(), "walkin.db"),
		FeedBuffer:            16,
		EditIdleTimeout:       time.Second,
		TicketLinkIdleTimeout: time.Second,
	}
	api, err := application.NewAPI(cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = api.Close() })
	return api
}

func newTestServer(t *testing.T) (*application.API, *Remote) {
	t.Helper()
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Handler())
	// Registered after the API cleanup, so it runs first.
	t.Cleanup(srv.Close)
	return api, NewRemote(srv.URL)
}

func nextEvent(t *testing.T, sub Subscription) model.ChangeEvent {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription ended: %v", sub.Err())
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
	return model.ChangeEvent{}
}

func waitClosed(t *testing.T, sub Subscription) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription did not end")
		}
	}
}

func createCase(t *testing.T, api *application.API, name string) model.Case {
	t.Helper()
	c := &model.Case{Name: name, Contact: name, TicketNeeded: true}
	require.NoError(t, api.Cases.Create(context.Background(), c))
	return *c
}
