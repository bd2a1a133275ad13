package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/flagsync/internal/push"
)

// FormatStreamingMessage creates the body of a streaming alert.
func FormatStreamingMessage(userKey string, event push.Event, at time.Time) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Key: %s\n", userKey))
	sb.WriteString(fmt.Sprintf("Event: %s\n", event))
	sb.WriteString(fmt.Sprintf("At: %s\n", at.UTC().Format(time.RFC3339)))

	switch event {
	case push.EventSubsystemDisabled:
		sb.WriteString("Push is disabled for this key; updates now come from polling only.")
	case push.EventNonRetryableError:
		sb.WriteString("The stream was rejected and will not reconnect; updates now come from polling only.")
	}

	return sb.String()
}
