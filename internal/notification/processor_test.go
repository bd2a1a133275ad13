package notification

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingWorker[T any] struct {
	mu    sync.Mutex
	calls []T
	err   error
}

func (w *recordingWorker[T]) Process(update T) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, update)
	return w.err
}

type recordingConnectivity struct {
	occupancy []Occupancy
	controls  []Control
	errors    []StreamingError
}

func (r *recordingConnectivity) HandleOccupancy(o Occupancy) { r.occupancy = append(r.occupancy, o) }
func (r *recordingConnectivity) HandleControl(c Control)     { r.controls = append(r.controls, c) }
func (r *recordingConnectivity) HandleStreamingError(e StreamingError) {
	r.errors = append(r.errors, e)
}

type processorFixture struct {
	processor    *Processor
	splits       *recordingWorker[SplitsUpdate]
	segments     *recordingWorker[MySegmentsUpdate]
	kills        *recordingWorker[SplitKill]
	connectivity *recordingConnectivity
	logs         *observer.ObservedLogs
}

func newProcessorFixture() *processorFixture {
	core, logs := observer.New(zap.DebugLevel)
	f := &processorFixture{
		splits:       &recordingWorker[SplitsUpdate]{},
		segments:     &recordingWorker[MySegmentsUpdate]{},
		kills:        &recordingWorker[SplitKill]{},
		connectivity: &recordingConnectivity{},
		logs:         logs,
	}
	f.processor = NewProcessor(NewParser(), f.splits, f.segments, f.kills, f.connectivity, nil, zap.New(core))
	return f
}

func TestProcessor_KillFrameEndToEnd(t *testing.T) {
	f := newProcessorFixture()

	n, err := NewParser().ParseIncoming("message", killFrame)
	require.NoError(t, err)
	f.processor.Process(n)

	require.Len(t, f.kills.calls, 1)
	assert.Equal(t, "flagA", f.kills.calls[0].FlagName)
	assert.Equal(t, "off", f.kills.calls[0].DefaultTreatment)
	assert.Equal(t, int64(123), f.kills.calls[0].ChangeNumber)
	assert.Empty(t, f.splits.calls)
}

func TestProcessor_MalformedPayloadDoesNotStopPipeline(t *testing.T) {
	f := newProcessorFixture()

	f.processor.Process(&IncomingNotification{Kind: KindSplitUpdate, Payload: `{"changeNumber":`})
	f.processor.Process(&IncomingNotification{Kind: KindSplitUpdate, Payload: `{"type":"split_update","changeNumber":99}`})

	require.Len(t, f.splits.calls, 1)
	assert.Equal(t, int64(99), f.splits.calls[0].ChangeNumber)
	assert.Equal(t, 1, f.logs.FilterLevelExact(zap.ErrorLevel).Len())
}

func TestProcessor_WorkerErrorIsLogged(t *testing.T) {
	f := newProcessorFixture()
	f.segments.err = errors.New("queue full")

	assert.NotPanics(t, func() {
		f.processor.Process(&IncomingNotification{Kind: KindMySegmentsUpdate, Payload: `{"changeNumber":1}`})
	})
	assert.Equal(t, 1, f.logs.FilterMessage("processing notification").Len())
}

func TestProcessor_ConnectivityRouting(t *testing.T) {
	f := newProcessorFixture()

	f.processor.Process(&IncomingNotification{Kind: KindOccupancy, Channel: "control_pri", Timestamp: 5, Payload: `{"metrics":{"publishers":1}}`})
	f.processor.Process(&IncomingNotification{Kind: KindControl, Payload: `{"type":"control","controlType":"streaming_disabled"}`})
	f.processor.Process(&IncomingNotification{Kind: KindStreamingError, Payload: `{"message":"m","code":40142,"statusCode":401}`})

	require.Len(t, f.connectivity.occupancy, 1)
	assert.Equal(t, "control_pri", f.connectivity.occupancy[0].Channel)
	require.Len(t, f.connectivity.controls, 1)
	assert.Equal(t, ControlStreamingDisabled, f.connectivity.controls[0].ControlType)
	require.Len(t, f.connectivity.errors, 1)
	assert.Equal(t, 40142, f.connectivity.errors[0].Code)

	assert.Empty(t, f.splits.calls)
	assert.Empty(t, f.kills.calls)
}

func TestProcessor_UnknownIsOnlyLogged(t *testing.T) {
	f := newProcessorFixture()

	f.processor.Process(&IncomingNotification{Kind: KindUnknown, Payload: `{"type":"x"}`})

	assert.Empty(t, f.splits.calls)
	assert.Empty(t, f.segments.calls)
	assert.Empty(t, f.kills.calls)
	assert.Equal(t, 1, f.logs.FilterMessage("ignoring unknown notification").Len())
}

type panickingWorker struct{}

func (panickingWorker) Process(SplitsUpdate) error { panic("boom") }

func TestProcessor_RecoversFromPanic(t *testing.T) {
	f := newProcessorFixture()
	f.processor.splits = panickingWorker{}

	assert.NotPanics(t, func() {
		f.processor.Process(&IncomingNotification{Kind: KindSplitUpdate, Payload: `{"changeNumber":1}`})
	})
	assert.Equal(t, 1, f.logs.FilterLevelExact(zap.ErrorLevel).Len())
}
