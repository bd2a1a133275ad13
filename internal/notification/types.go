// Package notification turns raw push frames into typed notifications and
// routes them to the workers that apply them.
package notification

import "strings"

// Kind identifies the type of an incoming push notification.
type Kind int

const (
	KindUnknown Kind = iota
	KindSplitUpdate
	KindMySegmentsUpdate
	KindSplitKill
	KindOccupancy
	KindStreamingError
	KindControl
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindSplitUpdate:      "split_update",
	KindMySegmentsUpdate: "my_segments_update",
	KindSplitKill:        "split_kill",
	KindOccupancy:        "occupancy",
	KindStreamingError:   "streaming_error",
	KindControl:          "control",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// KindFromString maps a wire type token to a Kind. Matching is case
// insensitive and only data-bearing tokens are recognized; anything else
// is KindUnknown.
func KindFromString(s string) Kind {
	switch strings.ToLower(s) {
	case "split_update":
		return KindSplitUpdate
	case "my_segments_update":
		return KindMySegmentsUpdate
	case "split_kill":
		return KindSplitKill
	case "control":
		return KindControl
	default:
		return KindUnknown
	}
}

// IncomingNotification is one parsed push frame. Payload holds the inner
// JSON document still undecoded.
type IncomingNotification struct {
	Kind      Kind
	Channel   string
	Payload   string
	Timestamp int64
}

type SplitsUpdate struct {
	ChangeNumber int64 `json:"changeNumber"`
}

type MySegmentsUpdate struct {
	ChangeNumber    int64    `json:"changeNumber"`
	IncludesPayload bool     `json:"includesPayload"`
	SegmentList     []string `json:"segmentList"`
}

type SplitKill struct {
	ChangeNumber     int64  `json:"changeNumber"`
	FlagName         string `json:"splitName"`
	DefaultTreatment string `json:"defaultTreatment"`
}

const (
	controlPrimaryToken   = "control_pri"
	controlSecondaryToken = "control_sec"
)

type OccupancyMetrics struct {
	Publishers int `json:"publishers"`
}

// Occupancy reports how many publishers are attached to a control channel.
type Occupancy struct {
	Channel   string           `json:"-"`
	Timestamp int64            `json:"-"`
	Metrics   OccupancyMetrics `json:"metrics"`
}

func (o Occupancy) Publishers() int {
	return o.Metrics.Publishers
}

func (o Occupancy) IsControlPrimary() bool {
	return strings.Contains(o.Channel, controlPrimaryToken)
}

func (o Occupancy) IsControlSecondary() bool {
	return strings.Contains(o.Channel, controlSecondaryToken)
}

// StreamingError is the payload of an SSE "error" event.
type StreamingError struct {
	Message    string `json:"message"`
	Code       int    `json:"code"`
	HTTPStatus int    `json:"statusCode"`
}

// IsRetryable reports a token or connection problem that a new
// authentication can fix.
func (e StreamingError) IsRetryable() bool {
	return e.Code >= 40140 && e.Code <= 40149
}

// ShouldIgnore reports codes outside the 4xxxx band.
func (e StreamingError) ShouldIgnore() bool {
	return e.Code < 40000 || e.Code > 49999
}

type ControlType int

const (
	ControlUnknown ControlType = iota
	ControlStreamingEnabled
	ControlStreamingDisabled
	ControlStreamingPaused
)

func (c ControlType) String() string {
	switch c {
	case ControlStreamingEnabled:
		return "streaming_enabled"
	case ControlStreamingDisabled:
		return "streaming_disabled"
	case ControlStreamingPaused:
		return "streaming_paused"
	default:
		return "unknown"
	}
}

func ControlTypeFromString(s string) ControlType {
	switch strings.ToLower(s) {
	case "streaming_enabled":
		return ControlStreamingEnabled
	case "streaming_disabled":
		return ControlStreamingDisabled
	case "streaming_paused":
		return ControlStreamingPaused
	default:
		return ControlUnknown
	}
}

func (c *ControlType) UnmarshalText(text []byte) error {
	*c = ControlTypeFromString(string(text))
	return nil
}

type Control struct {
	ControlType ControlType `json:"controlType"`
}
