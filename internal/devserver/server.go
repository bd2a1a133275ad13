package devserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/flagsync/internal/config"
	"github.com/dgnsrekt/flagsync/internal/storage"
)

type Server struct {
	store       *Store
	tokens      *TokenIssuer
	broadcaster *Broadcaster
	config      *config.DevServerConfig
	logger      *zap.Logger
}

func NewServer(store *Store, tokens *TokenIssuer, broadcaster *Broadcaster, cfg *config.DevServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:       store,
		tokens:      tokens,
		broadcaster: broadcaster,
		config:      cfg,
		logger:      logger,
	}
}

func (s *Server) getSplitChanges(w http.ResponseWriter, r *http.Request) {
	since := storage.NoChangeNumber
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: "since must be an integer"})
			return
		}
		since = v
	}

	change := s.store.Changes(since)
	s.logger.Debug("split changes",
		zap.Int64("since", since),
		zap.Int64("till", change.Till),
		zap.Int("splits", len(change.Splits)),
	)
	writeJSON(w, http.StatusOK, change)
}

func (s *Server) getMySegments(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	writeJSON(w, http.StatusOK, s.store.Segments(key))
}

func (s *Server) getAuth(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("users")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "missing users parameter"})
		return
	}

	if !s.config.PushEnabled {
		writeJSON(w, http.StatusOK, map[string]any{"pushEnabled": false, "token": ""})
		return
	}

	token, err := s.tokens.Mint(key)
	if err != nil {
		s.logger.Error("minting token", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "token unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pushEnabled": true, "token": token})
}

func (s *Server) postUsage(w http.ResponseWriter, r *http.Request) {
	var usage map[string]any
	if err := json.NewDecoder(r.Body).Decode(&usage); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid usage body"})
		return
	}
	s.logger.Debug("usage received", zap.Any("usage", usage))
	w.WriteHeader(http.StatusNoContent)
}

// publish sends an arbitrary frame. An "error" event is sent with the
// data as the frame body; anything else is wrapped in an envelope.
func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid publish body"})
		return
	}

	var frame Frame
	if strings.EqualFold(req.Event, "error") {
		body, err := json.Marshal(req.Data)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
			return
		}
		if str, ok := req.Data.(string); ok {
			body = []byte(str)
		}
		frame = Frame{Event: "error", Data: body}
	} else {
		if req.Channel == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: "channel is required"})
			return
		}
		var err error
		frame, err = NotificationFrame(req.Channel, req.Name, req.Data)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
			return
		}
		if req.Event != "" {
			frame.Event = req.Event
		}
	}

	delivered := s.broadcaster.Publish(frame)
	s.logger.Info("frame published",
		zap.String("event", frame.Event),
		zap.String("channel", frame.Channel),
		zap.Int("delivered", delivered),
	)
	writeJSON(w, http.StatusAccepted, PublishResponse{Delivered: delivered})
}

func (s *Server) upsertSplits(w http.ResponseWriter, r *http.Request) {
	var splits []storage.Split
	if err := json.NewDecoder(r.Body).Decode(&splits); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "body must be a list of flag definitions"})
		return
	}
	for _, sp := range splits {
		if sp.Name == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: "every definition needs a name"})
			return
		}
	}

	cn := s.store.Upsert(splits)
	delivered := s.notify(SplitsChannel, splitUpdatePayload{Type: "SPLIT_UPDATE", ChangeNumber: cn})
	writeJSON(w, http.StatusOK, ChangeResponse{ChangeNumber: cn, Delivered: delivered})
}

func (s *Server) killSplit(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req KillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DefaultTreatment == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "defaultTreatment is required"})
		return
	}

	cn, ok := s.store.Kill(name, req.DefaultTreatment)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "unknown flag " + name})
		return
	}

	delivered := s.notify(SplitsChannel, splitKillPayload{
		Type:             "SPLIT_KILL",
		ChangeNumber:     cn,
		SplitName:        name,
		DefaultTreatment: req.DefaultTreatment,
	})
	writeJSON(w, http.StatusOK, ChangeResponse{ChangeNumber: cn, Delivered: delivered})
}

func (s *Server) setSegments(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req SegmentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid segments body"})
		return
	}

	cn := s.store.SetSegments(key, req.Segments)
	delivered := s.notify(MySegmentsChannel(key), mySegmentsPayload{
		Type:            "MY_SEGMENTS_UPDATE",
		ChangeNumber:    cn,
		IncludesPayload: true,
		SegmentList:     req.Segments,
	})
	writeJSON(w, http.StatusOK, ChangeResponse{ChangeNumber: cn, Delivered: delivered})
}

func (s *Server) notify(channel string, payload any) int {
	frame, err := NotificationFrame(channel, "", payload)
	if err != nil {
		s.logger.Error("building notification", zap.String("channel", channel), zap.Error(err))
		return 0
	}
	return s.broadcaster.Publish(frame)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
