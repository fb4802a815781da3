package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event identifies websocket payload variants. Every frame on the voice
// socket is a JSON envelope: {"event": <name>, "data": {...}}.
type Event string

const (
	// Client -> server.
	EventAudioChunk Event = "audio_chunk"
	EventInterrupt  Event = "interrupt"

	// Server -> client.
	EventConnected            Event = "connected"
	EventTranscription        Event = "transcription"
	EventAgentResponse        Event = "agent_response"
	EventTTSChunk             Event = "tts_chunk"
	EventStreamingComplete    Event = "streaming_complete"
	EventStreamingInterrupted Event = "streaming_interrupted"
	EventError                Event = "error"
)

// Error type tags carried in error events.
const (
	ErrTypeConnection               = "connection_error"
	ErrTypeTranscriptionUnavailable = "transcription_unavailable"
	ErrTypeSynthesisFailure         = "synthesis_failure"
	ErrTypeInvalidAudioFormat       = "invalid_audio_format"
	ErrTypeSessionNotFound          = "session_not_found"
	ErrTypePipelineBusy             = "pipeline_busy"
	ErrTypeAgentFailure             = "agent_failure"
)

var ErrUnsupportedEvent = errors.New("unsupported event")

// Message is an outbound envelope ready for JSON encoding.
type Message struct {
	Event Event `json:"event"`
	Data  any   `json:"data"`
}

// Envelope is the inbound counterpart; Data stays raw until the event tag is
// known.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type AudioChunkData struct {
	SessionID  string `json:"session_id"`
	AudioChunk string `json:"audio_chunk"` // base64 WAV bytes
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	IsFinal    bool   `json:"is_final"`
	UserID     string `json:"user_id,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

type InterruptData struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

type ConnectedData struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type TranscriptionData struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

type AgentResponseData struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

type TTSChunkData struct {
	AudioChunk string `json:"audio_chunk"` // base64
	ChunkIndex int    `json:"chunk_index"`
	Format     string `json:"format"`
	SessionID  string `json:"session_id"`
}

type StreamingCompleteData struct {
	SessionID string `json:"session_id"`
}

type StreamingInterruptedData struct {
	SessionID string `json:"session_id"`
}

type ErrorData struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ParseClientMessage decodes one client frame. Unknown event tags return
// ErrUnsupportedEvent so callers can log and ignore them without closing the
// socket.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventAudioChunk:
		var data AudioChunkData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, err
		}
		if data.SessionID == "" || data.AudioChunk == "" {
			return nil, errors.New("invalid audio_chunk: session_id and audio_chunk are required")
		}
		if data.SampleRate <= 0 {
			return nil, errors.New("invalid audio_chunk: sample_rate must be positive")
		}
		return data, nil
	case EventInterrupt:
		var data InterruptData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, err
		}
		if data.SessionID == "" {
			return nil, errors.New("invalid interrupt: session_id is required")
		}
		return data, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}

// ParseServerMessage decodes one server frame on the client side. Unknown
// event tags return ErrUnsupportedEvent.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventConnected:
		var data ConnectedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, err
		}
		if data.SessionID == "" {
			return nil, errors.New("invalid connected: session_id is required")
		}
		return data, nil
	case EventTranscription:
		var data TranscriptionData
		err := json.Unmarshal(env.Data, &data)
		return data, err
	case EventAgentResponse:
		var data AgentResponseData
		err := json.Unmarshal(env.Data, &data)
		return data, err
	case EventTTSChunk:
		var data TTSChunkData
		err := json.Unmarshal(env.Data, &data)
		return data, err
	case EventStreamingComplete:
		var data StreamingCompleteData
		err := json.Unmarshal(env.Data, &data)
		return data, err
	case EventStreamingInterrupted:
		var data StreamingInterruptedData
		err := json.Unmarshal(env.Data, &data)
		return data, err
	case EventError:
		var data ErrorData
		err := json.Unmarshal(env.Data, &data)
		return data, err
	default:
		return nil, ErrUnsupportedEvent
	}
}

// EventOf reports the event tag of a parsed or outbound payload.
func EventOf(v any) (Event, bool) {
	switch v.(type) {
	case AudioChunkData:
		return EventAudioChunk, true
	case InterruptData:
		return EventInterrupt, true
	case ConnectedData:
		return EventConnected, true
	case TranscriptionData:
		return EventTranscription, true
	case AgentResponseData:
		return EventAgentResponse, true
	case TTSChunkData:
		return EventTTSChunk, true
	case StreamingCompleteData:
		return EventStreamingComplete, true
	case StreamingInterruptedData:
		return EventStreamingInterrupted, true
	case ErrorData:
		return EventError, true
	default:
		return "", false
	}
}

// Wrap builds the outbound envelope for a typed payload.
func Wrap(v any) (Message, bool) {
	evt, ok := EventOf(v)
	if !ok {
		return Message{}, false
	}
	return Message{Event: evt, Data: v}, true
}
