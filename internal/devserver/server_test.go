package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dgnsrekt/flagsync/internal/api"
	"github.com/dgnsrekt/flagsync/internal/config"
	"github.com/dgnsrekt/flagsync/internal/notification"
	"github.com/dgnsrekt/flagsync/internal/push"
	"github.com/dgnsrekt/flagsync/internal/storage"
)

type fixture struct {
	server      *httptest.Server
	store       *Store
	broadcaster *Broadcaster
	client      *api.HTTPClient
}

func newFixture(t *testing.T, pushEnabled bool) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := &config.DevServerConfig{Port: "0", JWTSecret: "test-secret", PushEnabled: pushEnabled, TokenTTL: time.Hour}
	tokens := NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	store := NewStore()
	broadcaster := NewBroadcaster(tokens, logger)
	srv := httptest.NewServer(NewRouter(NewServer(store, tokens, broadcaster, cfg, logger), logger))
	t.Cleanup(func() {
		broadcaster.CloseAll()
		srv.Close()
	})

	client := api.NewClient(
		config.APIConfig{Key: "sdk-key", TimeoutSec: 5, RatePerSecond: 100},
		config.EndpointsConfig{
			SDK:       srv.URL + "/api",
			Events:    srv.URL + "/api",
			Auth:      srv.URL + "/api",
			Streaming: srv.URL + "/sse",
		},
		logger,
	)
	return &fixture{server: srv, store: store, broadcaster: broadcaster, client: client}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSplitChangesThroughClient(t *testing.T) {
	f := newFixture(t, true)
	cn := f.store.Upsert([]storage.Split{{Name: "checkout", DefaultTreatment: "on"}})

	change, err := f.client.FetchSplitChanges(context.Background(), storage.NoChangeNumber)
	require.NoError(t, err)
	require.Len(t, change.Splits, 1)
	assert.Equal(t, "checkout", change.Splits[0].Name)
	assert.Equal(t, cn, change.Till)

	change, err = f.client.FetchSplitChanges(context.Background(), cn)
	require.NoError(t, err)
	assert.Empty(t, change.Splits)
	assert.Equal(t, cn, change.Till)
}

func TestMySegmentsThroughClient(t *testing.T) {
	f := newFixture(t, true)
	f.store.SetSegments("user-1", []string{"beta"})

	segments, err := f.client.FetchMySegments(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, segments)
}

func TestAPIRequiresBearer(t *testing.T) {
	f := newFixture(t, true)

	resp, err := http.Get(f.server.URL + "/api/splitChanges?since=-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthPushDisabled(t *testing.T) {
	f := newFixture(t, false)

	auth := push.NewAuthenticator(f.client, "user-1", nil)
	_, err := auth.Authenticate(context.Background())
	assert.ErrorIs(t, err, push.ErrStreamingDisabled)
}

func TestStreamRejectsBadToken(t *testing.T) {
	f := newFixture(t, true)

	sse := push.NewSSEClient(f.server.URL+"/sse", 5*time.Second, nil)
	err := sse.Connect(context.Background(), "bogus", []string{SplitsChannel}, nil, func(string, string) {})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, push.StatusCode(err))
}

func TestPushEndToEnd(t *testing.T) {
	f := newFixture(t, true)
	f.store.Upsert([]storage.Split{{Name: "checkout", DefaultTreatment: "on"}})

	auth := push.NewAuthenticator(f.client, "user-1", nil)
	result, err := auth.Authenticate(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, Channels("user-1"), result.Channels)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan *notification.IncomingNotification, 16)
	parser := notification.NewParser()
	done := make(chan error, 1)
	sse := push.NewSSEClient(f.server.URL+"/sse", 5*time.Second, nil)
	go func() {
		done <- sse.Connect(ctx, result.Token, result.Channels, nil, func(event, data string) {
			n, err := parser.ParseIncoming(event, data)
			if err == nil {
				frames <- n
			}
		})
	}()

	next := func() *notification.IncomingNotification {
		select {
		case n := <-frames:
			return n
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for frame")
			return nil
		}
	}

	// connection announces control channel occupancy
	first := next()
	assert.Equal(t, notification.KindOccupancy, first.Kind)
	occ, err := parser.ParseOccupancy(first)
	require.NoError(t, err)
	assert.True(t, occ.IsControlPrimary())
	assert.Equal(t, 1, occ.Publishers())
	second := next()
	assert.Equal(t, notification.KindOccupancy, second.Kind)

	require.Eventually(t, func() bool { return f.broadcaster.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	resp := f.post(t, "/admin/splits/checkout/kill", KillRequest{DefaultTreatment: "off"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var change ChangeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&change))
	assert.Equal(t, 1, change.Delivered)

	kill := next()
	require.Equal(t, notification.KindSplitKill, kill.Kind)
	payload, err := parser.ParseSplitKill(kill.Payload)
	require.NoError(t, err)
	assert.Equal(t, "checkout", payload.FlagName)
	assert.Equal(t, "off", payload.DefaultTreatment)
	assert.Equal(t, change.ChangeNumber, payload.ChangeNumber)

	f.post(t, "/admin/segments/user-1", SegmentsRequest{Segments: []string{"beta"}})
	seg := next()
	require.Equal(t, notification.KindMySegmentsUpdate, seg.Kind)
	segPayload, err := parser.ParseMySegmentsUpdate(seg.Payload)
	require.NoError(t, err)
	assert.True(t, segPayload.IncludesPayload)
	assert.Equal(t, []string{"beta"}, segPayload.SegmentList)

	// other keys' channels are not delivered
	resp = f.post(t, "/admin/segments/user-2", SegmentsRequest{Segments: []string{"x"}})
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&change))
	assert.Equal(t, 0, change.Delivered)

	f.post(t, "/admin/publish", PublishRequest{Event: "error", Data: map[string]any{"message": "Token expired", "code": 40142, "statusCode": 401}})
	streamErr := next()
	require.Equal(t, notification.KindStreamingError, streamErr.Kind)
	se, err := parser.ParseStreamingError(streamErr.Payload)
	require.NoError(t, err)
	assert.Equal(t, 40142, se.Code)

	f.post(t, "/admin/publish", PublishRequest{Channel: ControlPrimaryChannel, Data: map[string]any{"type": "CONTROL", "controlType": "STREAMING_PAUSED"}})
	ctl := next()
	require.Equal(t, notification.KindControl, ctl.Kind)
	control, err := parser.ParseControl(ctl.Payload)
	require.NoError(t, err)
	assert.Equal(t, notification.ControlStreamingPaused, control.ControlType)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not return after cancel")
	}
}

func TestUpsertSplitsPublishesUpdate(t *testing.T) {
	f := newFixture(t, true)

	resp := f.post(t, "/admin/splits", []storage.Split{{Name: "a"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var change ChangeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&change))
	assert.Equal(t, f.store.ChangeNumber(), change.ChangeNumber)
	assert.Equal(t, 0, change.Delivered)

	resp = f.post(t, "/admin/splits", []storage.Split{{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/admin/splits/unknown/kill", KillRequest{DefaultTreatment: "off"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", maskToken(""))
	assert.Equal(t, "accessToken=abcdefgh%2A%2A%2A%2A&v=1.1", maskToken("v=1.1&accessToken=abcdefghijklmnop"))
}
