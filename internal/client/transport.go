package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fintalk-ai/fintalk/internal/protocol"
)

// Handlers receives decoded server events. Nil fields are skipped.
type Handlers struct {
	OnTranscription        func(protocol.TranscriptionData)
	OnAgentResponse        func(protocol.AgentResponseData)
	OnTTSChunk             func(audio []byte, data protocol.TTSChunkData)
	OnStreamingComplete    func(protocol.StreamingCompleteData)
	OnStreamingInterrupted func(protocol.StreamingInterruptedData)
	OnError                func(protocol.ErrorData)
	OnDisconnect           func(err error)
}

// Transport is the client side of the voice websocket. Connect blocks until
// the server's connected event arrives, so callers can treat a returned
// Transport as fully established.
type Transport struct {
	handlers Handlers

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	userID    string
	closed    bool
}

func NewTransport(handlers Handlers) *Transport {
	return &Transport{handlers: handlers}
}

// Connect dials endpoint, waits for the server-assigned session id and then
// starts the background read loop. The user_id query parameter of the
// endpoint names the connecting user and is stamped on every audio_chunk.
// The session id is never reused across connections; reconnecting yields a
// fresh one.
func (t *Transport) Connect(ctx context.Context, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse voice endpoint: %w", err)
	}
	userID := u.Query().Get("user_id")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial voice endpoint: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}

	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return fmt.Errorf("read handshake: %w", err)
	}
	if env.Event != protocol.EventConnected {
		conn.Close()
		return fmt.Errorf("expected %s handshake, got %s", protocol.EventConnected, env.Event)
	}
	var connected protocol.ConnectedData
	if err := json.Unmarshal(env.Data, &connected); err != nil {
		conn.Close()
		return fmt.Errorf("decode handshake: %w", err)
	}
	if connected.SessionID == "" {
		conn.Close()
		return errors.New("handshake carried no session id")
	}
	_ = conn.SetReadDeadline(time.Time{})

	t.mu.Lock()
	t.conn = conn
	t.sessionID = connected.SessionID
	t.userID = userID
	t.closed = false
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

// SessionID returns the server-assigned id, or "" after disconnect.
func (t *Transport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// SendAudio ships a complete WAV utterance as a single audio_chunk event.
func (t *Transport) SendAudio(wav []byte, sampleRate int, isFinal bool) error {
	t.mu.Lock()
	conn, sessionID, userID := t.conn, t.sessionID, t.userID
	t.mu.Unlock()
	if conn == nil || sessionID == "" {
		return errors.New("not connected")
	}
	msg := protocol.Message{
		Event: protocol.EventAudioChunk,
		Data: protocol.AudioChunkData{
			SessionID:  sessionID,
			AudioChunk: base64.StdEncoding.EncodeToString(wav),
			Format:     "wav",
			SampleRate: sampleRate,
			IsFinal:    isFinal,
			UserID:     userID,
			Timestamp:  time.Now().UnixMilli(),
		},
	}
	return t.writeJSON(conn, msg)
}

// SendInterrupt asks the server to abandon the in-flight reply. It is
// fire-and-forget: delivery failure only matters if the connection itself
// is gone, which the read loop reports separately.
func (t *Transport) SendInterrupt(reason string) error {
	t.mu.Lock()
	conn, sessionID := t.conn, t.sessionID
	t.mu.Unlock()
	if conn == nil || sessionID == "" {
		return errors.New("not connected")
	}
	msg := protocol.Message{
		Event: protocol.EventInterrupt,
		Data:  protocol.InterruptData{SessionID: sessionID, Reason: reason},
	}
	return t.writeJSON(conn, msg)
}

func (t *Transport) writeJSON(conn *websocket.Conn, msg protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

// Close tears the connection down. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.closed = true
	t.sessionID = ""
	t.userID = ""
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			wasClosed := t.closed
			t.closed = true
			t.sessionID = ""
			t.userID = ""
			t.conn = nil
			t.mu.Unlock()
			conn.Close()
			if t.handlers.OnDisconnect != nil {
				if wasClosed {
					err = nil
				}
				t.handlers.OnDisconnect(err)
			}
			return
		}
		t.dispatch(payload)
	}
}

func (t *Transport) dispatch(payload []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("voice client: malformed server frame: %v", err)
		return
	}
	switch env.Event {
	case protocol.EventTranscription:
		var d protocol.TranscriptionData
		if decode(env.Data, &d) && t.handlers.OnTranscription != nil {
			t.handlers.OnTranscription(d)
		}
	case protocol.EventAgentResponse:
		var d protocol.AgentResponseData
		if decode(env.Data, &d) && t.handlers.OnAgentResponse != nil {
			t.handlers.OnAgentResponse(d)
		}
	case protocol.EventTTSChunk:
		var d protocol.TTSChunkData
		if !decode(env.Data, &d) {
			return
		}
		audio, err := base64.StdEncoding.DecodeString(d.AudioChunk)
		if err != nil {
			log.Printf("voice client: undecodable tts chunk %d: %v", d.ChunkIndex, err)
			return
		}
		if t.handlers.OnTTSChunk != nil {
			t.handlers.OnTTSChunk(audio, d)
		}
	case protocol.EventStreamingComplete:
		var d protocol.StreamingCompleteData
		if decode(env.Data, &d) && t.handlers.OnStreamingComplete != nil {
			t.handlers.OnStreamingComplete(d)
		}
	case protocol.EventStreamingInterrupted:
		var d protocol.StreamingInterruptedData
		if decode(env.Data, &d) && t.handlers.OnStreamingInterrupted != nil {
			t.handlers.OnStreamingInterrupted(d)
		}
	case protocol.EventError:
		var d protocol.ErrorData
		if decode(env.Data, &d) && t.handlers.OnError != nil {
			t.handlers.OnError(d)
		}
	default:
		log.Printf("voice client: ignoring unknown event %q", env.Event)
	}
}

func decode(raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		log.Printf("voice client: bad event payload: %v", err)
		return false
	}
	return true
}
