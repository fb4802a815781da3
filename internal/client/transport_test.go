package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fintalk-ai/fintalk/internal/audio"
	"github.com/fintalk-ai/fintalk/internal/protocol"
)

// stubVoiceServer accepts one websocket connection, performs the connected
// handshake, and records whatever the client sends. Anything pushed into
// outbound is forwarded to the client.
type stubVoiceServer struct {
	server    *httptest.Server
	sessionID string
	outbound  chan protocol.Message

	mu       sync.Mutex
	received []any
	conn     *websocket.Conn
}

func newStubVoiceServer(t *testing.T) *stubVoiceServer {
	t.Helper()
	s := &stubVoiceServer{
		sessionID: "stub-session-1",
		outbound:  make(chan protocol.Message, 64),
	}
	upgrader := websocket.Upgrader{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		_ = conn.WriteJSON(protocol.Message{Event: protocol.EventConnected, Data: protocol.ConnectedData{
			SessionID: s.sessionID,
			Message:   "session established",
			Timestamp: time.Now().UnixMilli(),
		}})

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				parsed, err := protocol.ParseClientMessage(data)
				if err != nil {
					continue
				}
				s.mu.Lock()
				s.received = append(s.received, parsed)
				s.mu.Unlock()
			}
		}()

		for {
			select {
			case <-done:
				return
			case msg := <-s.outbound:
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *stubVoiceServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

// dropConn severs the upgraded connection from the server side. The
// httptest server does not track hijacked connections, so the websocket has
// to be closed directly.
func (s *stubVoiceServer) dropConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *stubVoiceServer) receivedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func TestTransportConnectHandshake(t *testing.T) {
	stub := newStubVoiceServer(t)
	tr := NewTransport(Handlers{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, stub.wsURL()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Close()

	if got := tr.SessionID(); got != stub.sessionID {
		t.Fatalf("SessionID() = %q, want %q", got, stub.sessionID)
	}
}

func TestTransportSendAudioAndInterrupt(t *testing.T) {
	stub := newStubVoiceServer(t)
	tr := NewTransport(Handlers{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, stub.wsURL()+"?user_id=ava"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Close()

	wav := audio.EncodeWAV(speech(1600), 16000, 1)
	if err := tr.SendAudio(wav, 16000, true); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}
	if err := tr.SendInterrupt("barge_in"); err != nil {
		t.Fatalf("SendInterrupt() error = %v", err)
	}

	waitFor(t, "frames to arrive", func() bool { return stub.receivedCount() == 2 })

	stub.mu.Lock()
	defer stub.mu.Unlock()
	chunk, ok := stub.received[0].(protocol.AudioChunkData)
	if !ok {
		t.Fatalf("first frame type = %T, want AudioChunkData", stub.received[0])
	}
	if chunk.SessionID != stub.sessionID || chunk.Format != "wav" || !chunk.IsFinal {
		t.Fatalf("unexpected audio frame: %+v", chunk)
	}
	if chunk.UserID != "ava" {
		t.Fatalf("UserID = %q, want the connecting user %q", chunk.UserID, "ava")
	}
	decoded, err := base64.StdEncoding.DecodeString(chunk.AudioChunk)
	if err != nil {
		t.Fatalf("audio payload not base64: %v", err)
	}
	if info, err := audio.DecodeInfo(decoded); err != nil || info.SampleCount != 1600 {
		t.Fatalf("audio payload corrupted in transit: %v %+v", err, info)
	}

	intr, ok := stub.received[1].(protocol.InterruptData)
	if !ok {
		t.Fatalf("second frame type = %T, want InterruptData", stub.received[1])
	}
	if intr.Reason != "barge_in" || intr.SessionID != stub.sessionID {
		t.Fatalf("unexpected interrupt frame: %+v", intr)
	}
}

func TestTransportDispatchesServerEvents(t *testing.T) {
	stub := newStubVoiceServer(t)

	var mu sync.Mutex
	var transcripts []string
	var chunks [][]byte
	complete := make(chan struct{}, 1)

	tr := NewTransport(Handlers{
		OnTranscription: func(d protocol.TranscriptionData) {
			mu.Lock()
			transcripts = append(transcripts, d.Text)
			mu.Unlock()
		},
		OnTTSChunk: func(audioBytes []byte, d protocol.TTSChunkData) {
			mu.Lock()
			chunks = append(chunks, audioBytes)
			mu.Unlock()
		},
		OnStreamingComplete: func(protocol.StreamingCompleteData) {
			complete <- struct{}{}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, stub.wsURL()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Close()

	stub.outbound <- protocol.Message{Event: protocol.EventTranscription, Data: protocol.TranscriptionData{
		Text: "hello", SessionID: stub.sessionID,
	}}
	stub.outbound <- protocol.Message{Event: protocol.EventTTSChunk, Data: protocol.TTSChunkData{
		AudioChunk: base64.StdEncoding.EncodeToString([]byte("pcmdata")),
		ChunkIndex: 0, Format: "mock_pcm", SessionID: stub.sessionID,
	}}
	stub.outbound <- protocol.Message{Event: protocol.EventStreamingComplete, Data: protocol.StreamingCompleteData{
		SessionID: stub.sessionID,
	}}

	select {
	case <-complete:
	case <-time.After(5 * time.Second):
		t.Fatalf("streaming_complete never dispatched")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transcripts) != 1 || transcripts[0] != "hello" {
		t.Fatalf("transcripts = %v", transcripts)
	}
	if len(chunks) != 1 || string(chunks[0]) != "pcmdata" {
		t.Fatalf("tts chunk payload = %q", chunks)
	}
}

func TestTransportDisconnectClearsSession(t *testing.T) {
	stub := newStubVoiceServer(t)

	disconnected := make(chan error, 1)
	tr := NewTransport(Handlers{
		OnDisconnect: func(err error) { disconnected <- err },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, stub.wsURL()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	stub.dropConn()

	select {
	case err := <-disconnected:
		if err == nil {
			t.Fatalf("server-side close should surface an error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("OnDisconnect never fired")
	}
	if tr.SessionID() != "" {
		t.Fatalf("session id survived disconnect")
	}
	if err := tr.SendInterrupt("late"); err == nil {
		t.Fatalf("sends after disconnect should fail")
	}
}

func TestTransportRejectsBadHandshake(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(protocol.Message{Event: protocol.EventError, Data: protocol.ErrorData{
			ErrorType: protocol.ErrTypeConnection, Message: "nope",
		}})
		var discard json.RawMessage
		_ = conn.ReadJSON(&discard)
	}))
	defer srv.Close()

	tr := NewTransport(Handlers{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")); err == nil {
		tr.Close()
		t.Fatalf("Connect() accepted a non-connected handshake")
	}
}
