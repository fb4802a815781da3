package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/fintalk-ai/fintalk/internal/config"
	"github.com/fintalk-ai/fintalk/internal/observability"
	"github.com/fintalk-ai/fintalk/internal/protocol"
	"github.com/fintalk-ai/fintalk/internal/session"
)

// StreamHandler runs the transcribe -> respond -> stream pipeline for one
// inbound utterance.
type StreamHandler interface {
	RunPipeline(ctx context.Context, sessionID string, msg protocol.AudioChunkData, emit func(protocol.Message) bool)
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	stream   StreamHandler
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, stream StreamHandler, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		stream:   stream,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up; other websites must not
				// be able to drive a user's mic session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws/voice", s.handleVoiceWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

// handleVoiceWS owns one voice session: it allocates the session id at accept
// time, sends the connected event before anything else, and then routes
// inbound envelopes until the socket closes.
func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = "anonymous"
	}
	if s.stream == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "stream handler not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := s.sessions.Register(userID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan protocol.Message, 256)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				s.metrics.WSMessages.WithLabelValues("outbound", string(msg.Event)).Inc()
			}
		}
	}()

	// The client gates recording start on this event, so nothing slow may
	// happen before it.
	emit := s.emitter(ctx, outbound)
	emit(protocol.Message{Event: protocol.EventConnected, Data: protocol.ConnectedData{
		SessionID: sess.ID,
		Message:   "session established",
		Timestamp: time.Now().UnixMilli(),
	}})

	conn.SetReadLimit(8 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	var pipelines sync.WaitGroup

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnsupportedEvent) {
				log.Printf("httpapi: ignoring unsupported event from session %s", sess.ID)
				continue
			}
			emit(protocol.Message{Event: protocol.EventError, Data: protocol.ErrorData{
				ErrorType: protocol.ErrTypeConnection,
				Message:   err.Error(),
				SessionID: sess.ID,
			}})
			continue
		}
		if evt, ok := protocol.EventOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(evt)).Inc()
		}

		switch m := parsed.(type) {
		case protocol.AudioChunkData:
			if m.SessionID != sess.ID {
				log.Printf("httpapi: dropping audio_chunk for unrecognized session %s", m.SessionID)
				emit(protocol.Message{Event: protocol.EventError, Data: protocol.ErrorData{
					ErrorType: protocol.ErrTypeSessionNotFound,
					Message:   "unrecognized session id",
					SessionID: m.SessionID,
				}})
				continue
			}
			// The registered session owner is authoritative for attribution;
			// whatever user id the frame claims is discarded.
			m.UserID = sess.UserID
			// The pipeline runs off the read loop so interrupts can be
			// observed while it is mid-flight. The session's pipeline slot
			// rejects overlapping utterances.
			pipelines.Add(1)
			go func(m protocol.AudioChunkData) {
				defer pipelines.Done()
				s.stream.RunPipeline(ctx, sess.ID, m, emit)
			}(m)
		case protocol.InterruptData:
			if m.SessionID != sess.ID {
				log.Printf("httpapi: dropping interrupt for unrecognized session %s", m.SessionID)
				continue
			}
			s.metrics.SessionEvents.WithLabelValues("interrupt_requested").Inc()
			wasStreaming, err := s.sessions.RequestInterrupt(sess.ID)
			if err != nil {
				continue
			}
			if !wasStreaming {
				// Nothing in flight: acknowledge immediately so the client's
				// UI can settle back to listening. When a stream is active
				// the streaming loop emits the terminal event itself.
				emit(protocol.Message{Event: protocol.EventStreamingInterrupted, Data: protocol.StreamingInterruptedData{
					SessionID: sess.ID,
				}})
			}
		}

		select {
		case <-ctx.Done():
			break readLoop
		default:
		}
	}

	cancel()
	pipelines.Wait()
	<-writerDone
	s.sessions.Remove(sess.ID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("disconnected").Inc()
}

// emitter wraps the outbound channel in the Emitter contract: false means
// the connection is gone and the caller should stop producing.
func (s *Server) emitter(ctx context.Context, outbound chan<- protocol.Message) func(protocol.Message) bool {
	return func(msg protocol.Message) bool {
		select {
		case <-ctx.Done():
			return false
		case outbound <- msg:
			return true
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
