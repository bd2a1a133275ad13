package push

import (
	"go.uber.org/zap"

	"github.com/dgnsrekt/flagsync/internal/notification"
)

// NotificationProcessor consumes parsed notifications
type NotificationProcessor interface {
	Process(n *notification.IncomingNotification)
}

// SSEHandler parses raw frames and passes them to the processor. Frames
// that cannot be parsed are logged and dropped.
type SSEHandler struct {
	parser    *notification.Parser
	processor NotificationProcessor
	logger    *zap.Logger
}

func NewSSEHandler(parser *notification.Parser, processor NotificationProcessor, logger *zap.Logger) *SSEHandler {
	if parser == nil {
		parser = notification.NewParser()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEHandler{parser: parser, processor: processor, logger: logger}
}

func (h *SSEHandler) HandleFrame(event, data string) {
	n, err := h.parser.ParseIncoming(event, data)
	if err != nil {
		h.logger.Error("parsing push frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.processor.Process(n)
}
