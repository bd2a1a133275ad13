package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"k8s.io/utils/clock"

	"github.com/dgnsrekt/flagsync/internal/config"
	"github.com/dgnsrekt/flagsync/internal/devserver"
	"github.com/dgnsrekt/flagsync/internal/storage"
)

const waitFor = 5 * time.Second

type authority struct {
	store       *devserver.Store
	broadcaster *devserver.Broadcaster
	server      *config.DevServerConfig
	cfg         *config.Config
}

func newAuthority(t *testing.T, streaming bool) *authority {
	t.Helper()
	logger := zaptest.NewLogger(t)

	dsCfg := &config.DevServerConfig{JWTSecret: "secret", PushEnabled: true, TokenTTL: time.Hour}
	tokens := devserver.NewTokenIssuer(dsCfg.JWTSecret, dsCfg.TokenTTL)
	store := devserver.NewStore()
	broadcaster := devserver.NewBroadcaster(tokens, logger)
	srv := httptest.NewServer(devserver.NewRouter(devserver.NewServer(store, tokens, broadcaster, dsCfg, logger), logger))
	t.Cleanup(func() {
		broadcaster.CloseAll()
		srv.Close()
	})

	syncCfg, _ := config.NewSyncConfig(streaming, 1)
	cfg := &config.Config{
		API: config.APIConfig{Key: "sdk-key", UserKey: "user-1", TimeoutSec: 5, RatePerSecond: 100},
		Endpoints: config.EndpointsConfig{
			SDK:       srv.URL + "/api",
			Events:    srv.URL + "/api",
			Auth:      srv.URL + "/api",
			Streaming: srv.URL + "/sse",
		},
		Sync: syncCfg,
	}
	return &authority{store: store, broadcaster: broadcaster, server: dsCfg, cfg: cfg}
}

func (au *authority) occupancy(t *testing.T, channel string, publishers int) {
	t.Helper()
	frame, err := devserver.OccupancyFrame(channel, publishers)
	require.NoError(t, err)
	au.broadcaster.Publish(frame)
}

func TestAppStreamingLifecycle(t *testing.T) {
	au := newAuthority(t, true)
	au.store.Upsert([]storage.Split{{Name: "checkout", DefaultTreatment: "on"}})
	au.store.SetSegments("user-1", []string{"beta"})

	a, err := newApp(au.cfg, nil, clock.RealClock{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	a.start()
	defer a.stop()

	require.Eventually(t, func() bool { return a.splits.Len() == 1 && a.segments.Contains("beta") }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return au.broadcaster.Clients() == 1 }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !a.manager.PollingEnabled() }, waitFor, 10*time.Millisecond)

	// a kill reaches the cache through the push path
	cn, ok := au.store.Kill("checkout", "off")
	require.True(t, ok)
	frame, err := devserver.NotificationFrame(devserver.SplitsChannel, "", map[string]any{
		"type":             "SPLIT_KILL",
		"changeNumber":     cn,
		"splitName":        "checkout",
		"defaultTreatment": "off",
	})
	require.NoError(t, err)
	au.broadcaster.Publish(frame)

	require.Eventually(t, func() bool {
		s, ok := a.splits.Get("checkout")
		return ok && s.Killed && s.DefaultTreatment == "off"
	}, waitFor, 10*time.Millisecond)

	// publishers gone: fall back to polling
	au.occupancy(t, devserver.ControlPrimaryChannel, 0)
	require.Eventually(t, a.manager.PollingEnabled, waitFor, 10*time.Millisecond)

	// publishers back: streaming again
	au.occupancy(t, devserver.ControlPrimaryChannel, 1)
	require.Eventually(t, func() bool { return !a.manager.PollingEnabled() }, waitFor, 10*time.Millisecond)
}

func TestAppPollingOnly(t *testing.T) {
	au := newAuthority(t, false)
	au.store.Upsert([]storage.Split{{Name: "a"}, {Name: "b"}})

	a, err := newApp(au.cfg, nil, clock.RealClock{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, a.pushMgr)

	a.start()
	defer a.stop()

	require.Eventually(t, func() bool { return a.splits.Len() == 2 }, waitFor, 10*time.Millisecond)
	assert.True(t, a.manager.PollingEnabled())
	assert.Equal(t, 0, au.broadcaster.Clients())
}

func TestAppAlertsWhenStreamingDisabled(t *testing.T) {
	alerts := make(chan string, 4)
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		alerts <- r.Header.Get("Title")
	}))
	defer ntfy.Close()

	au := newAuthority(t, true)
	au.server.PushEnabled = false

	a, err := newApp(au.cfg, nil, clock.RealClock{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	a.watchStreaming(config.NotifyConfig{Enabled: true, Server: ntfy.URL, Topic: "flags", Priority: "default"})
	a.start()
	defer a.stop()

	select {
	case title := <-alerts:
		assert.Equal(t, "Streaming disabled", title)
	case <-time.After(waitFor):
		t.Fatal("no alert sent")
	}
	require.Eventually(t, a.manager.PollingEnabled, waitFor, 10*time.Millisecond)
}
