package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dgnsrekt/flagsync/internal/telemetry"
)

// Worker applies one typed update. Implementations hand the update off and
// return quickly.
type Worker[T any] interface {
	Process(update T) error
}

// ConnectivityHandler receives the notifications that describe the state of
// the push connection rather than the flag data.
type ConnectivityHandler interface {
	HandleOccupancy(Occupancy)
	HandleControl(Control)
	HandleStreamingError(StreamingError)
}

// Processor routes incoming notifications to the worker for their kind.
// A failure on one notification is logged and never affects the next.
type Processor struct {
	parser       *Parser
	splits       Worker[SplitsUpdate]
	mySegments   Worker[MySegmentsUpdate]
	kills        Worker[SplitKill]
	connectivity ConnectivityHandler
	metrics      *telemetry.SyncMetrics
	logger       *zap.Logger
}

func NewProcessor(
	parser *Parser,
	splits Worker[SplitsUpdate],
	mySegments Worker[MySegmentsUpdate],
	kills Worker[SplitKill],
	connectivity ConnectivityHandler,
	metrics *telemetry.SyncMetrics,
	logger *zap.Logger,
) *Processor {
	if parser == nil {
		parser = NewParser()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		parser:       parser,
		splits:       splits,
		mySegments:   mySegments,
		kills:        kills,
		connectivity: connectivity,
		metrics:      metrics,
		logger:       logger,
	}
}

// Process dispatches n. It never panics and never returns an error.
func (p *Processor) Process(n *IncomingNotification) {
	if n == nil {
		return
	}

	err := p.dispatch(n)
	p.metrics.RecordNotification(context.Background(), n.Kind.String(), err == nil)
	if err != nil {
		p.logger.Error("processing notification",
			zap.Stringer("kind", n.Kind),
			zap.String("channel", n.Channel),
			zap.Error(err))
	}
}

func (p *Processor) dispatch(n *IncomingNotification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", n.Kind, r)
		}
	}()

	switch n.Kind {
	case KindSplitUpdate:
		update, err := p.parser.ParseSplitsUpdate(n.Payload)
		if err != nil {
			return err
		}
		return p.splits.Process(update)

	case KindMySegmentsUpdate:
		update, err := p.parser.ParseMySegmentsUpdate(n.Payload)
		if err != nil {
			return err
		}
		return p.mySegments.Process(update)

	case KindSplitKill:
		kill, err := p.parser.ParseSplitKill(n.Payload)
		if err != nil {
			return err
		}
		return p.kills.Process(kill)

	case KindOccupancy:
		occ, err := p.parser.ParseOccupancy(n)
		if err != nil {
			return err
		}
		p.connectivity.HandleOccupancy(occ)
		return nil

	case KindControl:
		ctrl, err := p.parser.ParseControl(n.Payload)
		if err != nil {
			return err
		}
		p.connectivity.HandleControl(ctrl)
		return nil

	case KindStreamingError:
		streamErr, err := p.parser.ParseStreamingError(n.Payload)
		if err != nil {
			return err
		}
		p.connectivity.HandleStreamingError(streamErr)
		return nil

	default:
		p.logger.Debug("ignoring unknown notification",
			zap.String("channel", n.Channel),
			zap.String("payload", n.Payload))
		return nil
	}
}
