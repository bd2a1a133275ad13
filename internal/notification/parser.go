package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var ErrMalformed = errors.New("malformed notification")

// errorEventName is the SSE event name used for streaming errors.
const errorEventName = "error"

const occupancyToken = "occupancy"

// RawNotification is the outer envelope of every data frame. Data is itself
// a JSON document encoded as a string.
type RawNotification struct {
	ID        string  `json:"id"`
	Name      *string `json:"name"`
	Channel   string  `json:"channel"`
	Timestamp int64   `json:"timestamp"`
	Data      string  `json:"data"`
}

// Parser decodes push frames. The zero value is ready to use.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ParseIncoming classifies one SSE frame. eventName is the SSE "event:"
// field and data the frame body.
func (p *Parser) ParseIncoming(eventName, data string) (*IncomingNotification, error) {
	if strings.EqualFold(eventName, errorEventName) {
		return &IncomingNotification{Kind: KindStreamingError, Payload: data}, nil
	}

	var raw RawNotification
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}

	n := &IncomingNotification{
		Channel:   raw.Channel,
		Payload:   raw.Data,
		Timestamp: raw.Timestamp,
	}

	if raw.Name != nil {
		switch {
		case strings.EqualFold(*raw.Name, errorEventName):
			n.Kind = KindStreamingError
			n.Payload = data
			return n, nil
		case strings.Contains(*raw.Name, occupancyToken):
			n.Kind = KindOccupancy
			return n, nil
		}
	}

	n.Kind = KindFromString(gjson.Get(raw.Data, "type").String())
	return n, nil
}

func (p *Parser) ParseSplitsUpdate(payload string) (SplitsUpdate, error) {
	return decode[SplitsUpdate](payload)
}

func (p *Parser) ParseMySegmentsUpdate(payload string) (MySegmentsUpdate, error) {
	return decode[MySegmentsUpdate](payload)
}

func (p *Parser) ParseSplitKill(payload string) (SplitKill, error) {
	kill, err := decode[SplitKill](payload)
	if err != nil {
		return kill, err
	}
	if kill.FlagName == "" {
		return kill, fmt.Errorf("%w: split kill without splitName", ErrMalformed)
	}
	return kill, nil
}

// ParseOccupancy decodes an occupancy payload. Channel and timestamp come
// from the envelope.
func (p *Parser) ParseOccupancy(n *IncomingNotification) (Occupancy, error) {
	occ, err := decode[Occupancy](n.Payload)
	if err != nil {
		return occ, err
	}
	occ.Channel = n.Channel
	occ.Timestamp = n.Timestamp
	return occ, nil
}

func (p *Parser) ParseStreamingError(payload string) (StreamingError, error) {
	return decode[StreamingError](payload)
}

func (p *Parser) ParseControl(payload string) (Control, error) {
	return decode[Control](payload)
}

func decode[T any](payload string) (T, error) {
	var v T
	if payload == "" {
		return v, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}
