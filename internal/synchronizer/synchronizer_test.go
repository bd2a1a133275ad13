package synchronizer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/dgnsrekt/flagsync/internal/config"
	"github.com/dgnsrekt/flagsync/internal/storage"
)

// mockFetcher serves split changes from a fixed target change number
type mockFetcher struct {
	mu           sync.Mutex
	till         int64
	splitCalls   []int64
	segmentCalls int
	segments     []string
	err          error
}

func (m *mockFetcher) FetchSplitChanges(_ context.Context, since int64) (*storage.SplitChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.splitCalls = append(m.splitCalls, since)
	if m.err != nil {
		return nil, m.err
	}
	if since >= m.till {
		return &storage.SplitChange{Since: since, Till: since}, nil
	}
	return &storage.SplitChange{
		Since:  since,
		Till:   m.till,
		Splits: []storage.Split{{Name: "flagA", Status: storage.StatusActive, DefaultTreatment: "on", ChangeNumber: m.till}},
	}, nil
}

func (m *mockFetcher) FetchMySegments(_ context.Context, _ string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.segmentCalls++
	if m.err != nil {
		return nil, m.err
	}
	return m.segments, nil
}

func (m *mockFetcher) splitCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.splitCalls)
}

func (m *mockFetcher) segmentCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.segmentCalls
}

type mockFlusher struct {
	mu      sync.Mutex
	flushes int
}

func (m *mockFlusher) Flush(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
}

func (m *mockFlusher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

func newTestSynchronizer(fetcher *mockFetcher, recorder Flusher) (*Synchronizer, *clocktesting.FakeClock) {
	clk := clocktesting.NewFakeClock(time.Now())
	cfg, _ := config.NewSyncConfig(true, 1)
	cfg.FeaturesRefreshRate = 30
	cfg.SegmentsRefreshRate = 60
	cfg.TelemetryRefreshRate = 10

	s := New(Options{
		Fetcher:  fetcher,
		UserKey:  "user-1",
		Config:   cfg,
		Recorder: recorder,
		Clock:    clk,
	})
	return s, clk
}

func TestSyncAll(t *testing.T) {
	fetcher := &mockFetcher{till: 50, segments: []string{"beta"}}
	s, _ := newTestSynchronizer(fetcher, nil)
	defer s.Destroy()

	s.SyncAll()

	assert.Eventually(t, func() bool {
		return s.splits.ChangeNumber() == 50 && s.segments.Contains("beta")
	}, time.Second, 10*time.Millisecond)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Equal(t, []int64{-1, 50}, fetcher.splitCalls)
}

func TestSynchronizeSplits_SkipsWhenUpToDate(t *testing.T) {
	fetcher := &mockFetcher{till: 50}
	s, _ := newTestSynchronizer(fetcher, nil)
	defer s.Destroy()

	s.SynchronizeSplits(50)
	assert.Equal(t, 2, fetcher.splitCallCount())

	s.SynchronizeSplits(40)
	s.SynchronizeSplits(50)
	assert.Equal(t, 2, fetcher.splitCallCount())
}

func TestSynchronizeSplits_ErrorIsAbsorbed(t *testing.T) {
	fetcher := &mockFetcher{till: 50, err: errors.New("boom")}
	s, _ := newTestSynchronizer(fetcher, nil)
	defer s.Destroy()

	assert.NotPanics(t, func() { s.SynchronizeSplits(50) })
	assert.Equal(t, storage.NoChangeNumber, s.splits.ChangeNumber())
}

func TestPeriodicFetching_Idempotent(t *testing.T) {
	fetcher := &mockFetcher{till: 10}
	s, clk := newTestSynchronizer(fetcher, nil)
	defer s.Destroy()

	s.StartPeriodicFetching()
	s.StartPeriodicFetching()
	assert.True(t, s.PeriodicFetchingRunning())

	clk.Step(30 * time.Second)
	assert.Eventually(t, func() bool { return fetcher.splitCallCount() == 2 }, time.Second, 10*time.Millisecond)

	clk.Step(30 * time.Second)
	assert.Eventually(t, func() bool { return fetcher.segmentCallCount() == 1 }, time.Second, 10*time.Millisecond)

	s.StopPeriodicFetching()
	s.StopPeriodicFetching()
	assert.False(t, s.PeriodicFetchingRunning())

	calls := fetcher.splitCallCount()
	clk.Step(30 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, fetcher.splitCallCount())
}

func TestPeriodicFetching_PausedSkipsTicks(t *testing.T) {
	fetcher := &mockFetcher{till: 10}
	s, clk := newTestSynchronizer(fetcher, nil)
	defer s.Destroy()

	s.StartPeriodicFetching()
	s.Pause()

	clk.Step(30 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, fetcher.splitCallCount())

	s.Resume()
	clk.Step(30 * time.Second)
	assert.Eventually(t, func() bool { return fetcher.splitCallCount() > 0 }, time.Second, 10*time.Millisecond)
}

func TestPeriodicRecording(t *testing.T) {
	flusher := &mockFlusher{}
	s, clk := newTestSynchronizer(&mockFetcher{}, flusher)

	s.StartPeriodicRecording()
	s.StartPeriodicRecording()

	clk.Step(10 * time.Second)
	assert.Eventually(t, func() bool { return flusher.count() == 1 }, time.Second, 10*time.Millisecond)

	s.StopPeriodicRecording()
	s.Destroy()

	// Destroy performs a final flush
	assert.Equal(t, 2, flusher.count())
}

func TestDestroy_StopsEverything(t *testing.T) {
	fetcher := &mockFetcher{till: 10}
	s, clk := newTestSynchronizer(fetcher, &mockFlusher{})

	s.StartPeriodicFetching()
	s.StartPeriodicRecording()
	s.Destroy()
	s.Destroy()

	assert.False(t, s.PeriodicFetchingRunning())
	require.ErrorIs(t, s.ctx.Err(), context.Canceled)

	clk.Step(time.Hour)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, fetcher.splitCallCount())

	// starting again after destroy is ignored
	s.StartPeriodicFetching()
	assert.False(t, s.PeriodicFetchingRunning())
}
