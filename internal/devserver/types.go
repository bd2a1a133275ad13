package devserver

// Channel names granted by the auth endpoint
const (
	SplitsChannel           = "splits"
	ControlPrimaryChannel   = "control_pri"
	ControlSecondaryChannel = "control_sec"
	mySegmentsSuffix        = "_mySegments"
	occupancyEventName      = "[meta]occupancy"
)

// MySegmentsChannel returns the per-key segments channel.
func MySegmentsChannel(key string) string {
	return key + mySegmentsSuffix
}

// Envelope is the JSON body of every "message" frame. Data carries the
// notification payload as an encoded JSON string.
type Envelope struct {
	ID        string  `json:"id"`
	ClientID  string  `json:"clientId,omitempty"`
	Name      *string `json:"name,omitempty"`
	Timestamp int64   `json:"timestamp"`
	Encoding  string  `json:"encoding"`
	Channel   string  `json:"channel"`
	Data      string  `json:"data"`
}

// Frame is one SSE event queued for delivery. An empty Channel reaches
// every client.
type Frame struct {
	Event   string
	Channel string
	Data    []byte
}

// PublishRequest is the body of POST /admin/publish. Data may be a JSON
// object or an already encoded string.
type PublishRequest struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Name    string `json:"name"`
	Data    any    `json:"data"`
}

type PublishResponse struct {
	Delivered int `json:"delivered"`
}

type ChangeResponse struct {
	ChangeNumber int64 `json:"changeNumber"`
	Delivered    int   `json:"delivered"`
}

type KillRequest struct {
	DefaultTreatment string `json:"defaultTreatment"`
}

type SegmentsRequest struct {
	Segments []string `json:"segments"`
}

type errorResponse struct {
	Message    string `json:"message"`
	Code       int    `json:"code,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// notification payloads published by the admin routes
type splitUpdatePayload struct {
	Type         string `json:"type"`
	ChangeNumber int64  `json:"changeNumber"`
}

type splitKillPayload struct {
	Type             string `json:"type"`
	ChangeNumber     int64  `json:"changeNumber"`
	SplitName        string `json:"splitName"`
	DefaultTreatment string `json:"defaultTreatment"`
}

type mySegmentsPayload struct {
	Type            string   `json:"type"`
	ChangeNumber    int64    `json:"changeNumber"`
	IncludesPayload bool     `json:"includesPayload"`
	SegmentList     []string `json:"segmentList"`
}

type occupancyPayload struct {
	Metrics struct {
		Publishers int `json:"publishers"`
	} `json:"metrics"`
}
