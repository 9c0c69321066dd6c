// Package server exposes the device registry over HTTP and websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/logger"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/model"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/registry"
)

const defaultMaxBodyBytes = 1 << 20

// Options tunes a Server. Zero values take the defaults.
type Options struct {
	// Interval is the expected reporting cadence every device is judged against.
	Interval     time.Duration
	MaxBodyBytes int64
	// ViewerToken, when set, is required on /devices and /ws.
	ViewerToken string
}

// Server serves ingestion, the device listing and the websocket feed.
type Server struct {
	registry *registry.Registry
	interval time.Duration
	maxBody  int64
	token    string
	logger   logger.Logger
	now      func() time.Time

	hub      *hub
	upgrader websocket.Upgrader
}

// New builds a Server over reg. The registry is shared, not copied.
func New(reg *registry.Registry, opts Options, log logger.Logger) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	return &Server{
		registry: reg,
		interval: opts.Interval,
		maxBody:  opts.MaxBodyBytes,
		token:    opts.ViewerToken,
		logger:   log,
		now:      time.Now,
		hub:      newHub(log),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routed mux wrapped in request-id, recovery and access-log middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /metrics", s.handleReport)
	mux.HandleFunc("GET /devices", s.requireToken(s.handleDevices))
	mux.HandleFunc("GET /ws", s.requireToken(s.handleWebSocket))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return withRequestID(s.withRecovery(s.withAccessLog(mux)))
}

// Run pushes listings to websocket subscribers after every accepted report
// and once per interval, until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.hub.run(ctx, s.interval, s.listing)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	var snap model.Snapshot
	if err := decodeBody(r.Body, &snap); err != nil {
		msg := "invalid JSON"

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "payload too large"
		}

		s.logger.Debug().Err(err).Str("request_id", requestID(r.Context())).Msg("Rejected report")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})

		return
	}

	if err := snap.Validate(); err != nil {
		s.logger.Debug().Err(err).Str("request_id", requestID(r.Context())).Msg("Rejected report")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})

		return
	}

	s.registry.Upsert(snap.DeviceID, snap, s.now())
	s.hub.notify()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.listing())
}

func (s *Server) listing() model.Listing {
	now := s.now()

	return model.Listing{
		Devices: registry.View(s.registry.List(), now, s.interval),
		Now:     now.Unix(),
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ws upgrade")
		return
	}
	defer conn.Close()

	sub := s.hub.add()
	defer s.hub.remove(sub)

	initial := s.listing()
	initial.Type = messageDevices
	if data, err := json.Marshal(initial); err == nil {
		sub.offer(data)
	}

	// Reads only detect the peer going away; viewers never send anything we act on.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-closed:
			return
		case <-s.hub.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

var errTrailingData = errors.New("unexpected data after JSON body")

// decodeBody reads exactly one JSON value from body.
func decodeBody(body io.Reader, v interface{}) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		return err
	}

	var extra json.RawMessage
	switch err := dec.Decode(&extra); {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return err
	default:
		return errTrailingData
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
