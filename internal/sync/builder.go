package sync

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dgnsrekt/flagsync/internal/config"
	"github.com/dgnsrekt/flagsync/internal/lifecycle"
	"github.com/dgnsrekt/flagsync/internal/telemetry"
)

// ErrMissingCollaborator is returned by Build when a required dependency
// was not set.
var ErrMissingCollaborator = errors.New("missing required collaborator")

// Builder assembles a Manager. Push, Events and Timer are required only
// when streaming is enabled.
type Builder struct {
	Config       *config.SyncConfig
	Synchronizer Synchronizer
	Push         PushManager
	Events       EventSource
	Timer        ReconnectTimer
	Lifecycle    lifecycle.Source
	Recorder     EventRecorder
	Metrics      *telemetry.SyncMetrics
	Logger       *zap.Logger
}

func (b *Builder) Build() (*Manager, error) {
	var missing []string

	if b.Config == nil {
		missing = append(missing, "Config")
	}
	if b.Synchronizer == nil {
		missing = append(missing, "Synchronizer")
	}
	if b.Config != nil && b.Config.StreamingEnabled {
		if b.Push == nil {
			missing = append(missing, "Push")
		}
		if b.Events == nil {
			missing = append(missing, "Events")
		}
		if b.Timer == nil {
			missing = append(missing, "Timer")
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingCollaborator, strings.Join(missing, ", "))
	}

	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		cfg:          *b.Config,
		synchronizer: b.Synchronizer,
		push:         b.Push,
		events:       b.Events,
		timer:        b.Timer,
		lifecycle:    b.Lifecycle,
		recorder:     b.Recorder,
		metrics:      b.Metrics,
		logger:       logger,
	}, nil
}
