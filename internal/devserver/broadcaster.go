package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const occupancyPrefix = "[?occupancy=metrics.publishers]"

// Broadcaster fans frames out to connected SSE clients.
type Broadcaster struct {
	tokens *TokenIssuer
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*sseClient]bool
}

// sseClient represents a connected SSE subscriber.
type sseClient struct {
	id       string
	channels map[string]bool
	dataCh   chan []byte
	doneCh   chan struct{}
	flusher  http.Flusher
	writer   http.ResponseWriter
}

func NewBroadcaster(tokens *TokenIssuer, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		tokens:  tokens,
		logger:  logger,
		clients: make(map[*sseClient]bool),
	}
}

// HandleSSE handles the stream endpoint. The token must grant every
// requested channel.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("accessToken")
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "missing accessToken", Code: 40101, StatusCode: http.StatusUnauthorized})
		return
	}

	granted, err := b.tokens.Verify(token)
	if err != nil {
		b.logger.Debug("rejecting stream", zap.Error(err))
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "token rejected", Code: 40142, StatusCode: http.StatusUnauthorized})
		return
	}

	channels := parseChannels(q.Get("channels"))
	if len(channels) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "no channels requested", Code: 40000, StatusCode: http.StatusBadRequest})
		return
	}
	for ch := range channels {
		if !granted[ch] {
			writeJSON(w, http.StatusForbidden, errorResponse{Message: "channel denied: " + ch, Code: 40160, StatusCode: http.StatusForbidden})
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := &sseClient{
		id:       r.Header.Get("X-Connection-Id"),
		channels: channels,
		dataCh:   make(chan []byte, 32),
		doneCh:   make(chan struct{}),
		flusher:  flusher,
		writer:   w,
	}

	b.addClient(client)
	defer b.removeClient(client)

	b.logger.Info("stream client connected",
		zap.String("connection_id", client.id),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("channels", len(channels)),
	)

	// Announce one publisher on each control channel, as the first frames
	// a real stream delivers.
	for _, ch := range []string{ControlPrimaryChannel, ControlSecondaryChannel} {
		if !channels[ch] {
			continue
		}
		publishers := 0
		if ch == ControlPrimaryChannel {
			publishers = 1
		}
		frame, err := OccupancyFrame(ch, publishers)
		if err != nil {
			return
		}
		if err := b.write(client, b.formatEvent(frame)); err != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			b.logger.Info("stream client disconnected", zap.String("connection_id", client.id))
			return
		case <-client.doneCh:
			return
		case eventData := <-client.dataCh:
			if err := b.write(client, eventData); err != nil {
				b.logger.Debug("failed to write to client", zap.Error(err))
				return
			}
		}
	}
}

// Publish queues a frame on every client subscribed to its channel and
// returns the number of clients reached. Slow clients miss the frame.
func (b *Broadcaster) Publish(frame Frame) int {
	eventData := b.formatEvent(frame)

	b.mu.RLock()
	clients := make([]*sseClient, 0, len(b.clients))
	for client := range b.clients {
		if frame.Channel == "" || client.channels[frame.Channel] {
			clients = append(clients, client)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, client := range clients {
		select {
		case client.dataCh <- eventData:
			delivered++
		default:
			b.logger.Debug("client channel full, dropping frame",
				zap.String("connection_id", client.id),
				zap.String("channel", frame.Channel),
			)
		}
	}
	return delivered
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// CloseAll disconnects every client.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients {
		close(client.doneCh)
		delete(b.clients, client)
	}
}

func (b *Broadcaster) addClient(client *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
}

func (b *Broadcaster) removeClient(client *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client.doneCh)
	}
}

func (b *Broadcaster) write(client *sseClient, eventData []byte) error {
	if _, err := client.writer.Write(eventData); err != nil {
		return err
	}
	client.flusher.Flush()
	return nil
}

func (b *Broadcaster) formatEvent(frame Frame) []byte {
	event := frame.Event
	if event == "" {
		event = "message"
	}
	return []byte(fmt.Sprintf("event: %s\nid: %s\ndata: %s\n\n", event, uuid.NewString(), frame.Data))
}

// NotificationFrame wraps a payload in a message envelope for channel.
func NotificationFrame(channel, name string, payload any) (Frame, error) {
	var data string
	switch p := payload.(type) {
	case string:
		data = p
	case []byte:
		data = string(p)
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("encoding payload: %w", err)
		}
		data = string(encoded)
	}

	env := Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Encoding:  "json",
		Channel:   channel,
		Data:      data,
	}
	if name != "" {
		env.Name = &name
	}

	body, err := json.Marshal(env)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding envelope: %w", err)
	}
	return Frame{Event: "message", Channel: channel, Data: body}, nil
}

// OccupancyFrame reports the publisher count of a control channel.
func OccupancyFrame(channel string, publishers int) (Frame, error) {
	var p occupancyPayload
	p.Metrics.Publishers = publishers
	return NotificationFrame(channel, occupancyEventName, p)
}

// parseChannels splits the channels query value, dropping the occupancy
// qualifier.
func parseChannels(raw string) map[string]bool {
	channels := make(map[string]bool)
	for _, ch := range strings.Split(raw, ",") {
		ch = strings.TrimPrefix(strings.TrimSpace(ch), occupancyPrefix)
		if ch != "" {
			channels[ch] = true
		}
	}
	return channels
}
