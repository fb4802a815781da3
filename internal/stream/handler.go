package stream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fintalk-ai/fintalk/internal/agent"
	"github.com/fintalk-ai/fintalk/internal/asr"
	"github.com/fintalk-ai/fintalk/internal/audio"
	"github.com/fintalk-ai/fintalk/internal/history"
	"github.com/fintalk-ai/fintalk/internal/observability"
	"github.com/fintalk-ai/fintalk/internal/policy"
	"github.com/fintalk-ai/fintalk/internal/protocol"
	"github.com/fintalk-ai/fintalk/internal/session"
	"github.com/fintalk-ai/fintalk/internal/tts"
)

const (
	defaultChunkSize   = 8192
	historySaveTimeout = 2 * time.Second
)

// Emitter delivers one outbound event to the session's transport. It reports
// false when the transport is gone, which the streaming loop treats as a
// terminating condition rather than an error. An alias so transports can
// hand in plain closures.
type Emitter = func(msg protocol.Message) bool

// Handler bridges inbound audio to the ASR, agent and TTS collaborators with
// cancellable streaming semantics. One Handler serves all sessions; all
// per-session state lives in the session manager.
type Handler struct {
	sessions *session.Manager
	asr      asr.Transcriber
	tts      tts.Synthesizer
	agent    agent.Adapter
	store    history.Store
	metrics  *observability.Metrics

	chunkSize    int
	asrTimeout   time.Duration
	ttsTimeout   time.Duration
	agentTimeout time.Duration
}

type Options struct {
	ChunkSize    int
	ASRTimeout   time.Duration
	TTSTimeout   time.Duration
	AgentTimeout time.Duration
}

func NewHandler(
	sessions *session.Manager,
	transcriber asr.Transcriber,
	synthesizer tts.Synthesizer,
	agentAdapter agent.Adapter,
	store history.Store,
	metrics *observability.Metrics,
	opts Options,
) *Handler {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.ASRTimeout <= 0 {
		opts.ASRTimeout = 15 * time.Second
	}
	if opts.TTSTimeout <= 0 {
		opts.TTSTimeout = 20 * time.Second
	}
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = 30 * time.Second
	}
	return &Handler{
		sessions:     sessions,
		asr:          transcriber,
		tts:          synthesizer,
		agent:        agentAdapter,
		store:        store,
		metrics:      metrics,
		chunkSize:    opts.ChunkSize,
		asrTimeout:   opts.ASRTimeout,
		ttsTimeout:   opts.TTSTimeout,
		agentTimeout: opts.AgentTimeout,
	}
}

// RunPipeline drives one transcribe -> respond -> stream sequence for an
// inbound audio_chunk. The session's pipeline slot guarantees that two
// pipelines never run concurrently for the same session; a chunk arriving
// while one is in flight is rejected with a pipeline_busy error event.
func (h *Handler) RunPipeline(ctx context.Context, sessionID string, msg protocol.AudioChunkData, emit Emitter) {
	if err := h.sessions.TryAcquirePipeline(sessionID); err != nil {
		switch {
		case errors.Is(err, session.ErrPipelineBusy):
			emit(h.errorMessage(sessionID, protocol.ErrTypePipelineBusy, "an utterance is already being processed"))
		case errors.Is(err, session.ErrNotFound):
			log.Printf("stream: dropping audio_chunk for unknown session %s", sessionID)
		}
		return
	}
	defer h.sessions.ReleasePipeline(sessionID)

	wav, err := base64.StdEncoding.DecodeString(msg.AudioChunk)
	if err != nil {
		emit(h.errorMessage(sessionID, protocol.ErrTypeInvalidAudioFormat, "audio_chunk is not valid base64"))
		return
	}

	info, err := audio.DecodeInfo(wav)
	if err != nil {
		emit(h.errorMessage(sessionID, protocol.ErrTypeInvalidAudioFormat, err.Error()))
		return
	}
	if info.SampleCount == 0 {
		// The zero-sample WAV is the client's "nothing recorded" sentinel.
		return
	}

	text, err := h.transcribe(ctx, wav, info.SampleRate)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.metrics.ProviderErrors.WithLabelValues("asr", "transcribe_failed").Inc()
		emit(h.errorMessage(sessionID, protocol.ErrTypeTranscriptionUnavailable, err.Error()))
		return
	}

	if !emit(protocol.Message{Event: protocol.EventTranscription, Data: protocol.TranscriptionData{
		Text:      text,
		SessionID: sessionID,
	}}) {
		return
	}
	committedAt := time.Now()
	h.saveTurnBestEffort(msg.UserID, sessionID, "user", text)

	reply, err := h.respond(ctx, agent.Request{
		UserID:    msg.UserID,
		SessionID: sessionID,
		TurnID:    uuid.NewString(),
		InputText: text,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.metrics.ProviderErrors.WithLabelValues("agent", "respond_failed").Inc()
		emit(h.errorMessage(sessionID, protocol.ErrTypeAgentFailure, err.Error()))
		return
	}

	if !emit(protocol.Message{Event: protocol.EventAgentResponse, Data: protocol.AgentResponseData{
		Text:      reply.Text,
		SessionID: sessionID,
	}}) {
		return
	}
	h.saveTurnBestEffort(msg.UserID, sessionID, "assistant", reply.Text)

	h.StreamReply(ctx, sessionID, reply.Text, committedAt, emit)
}

func (h *Handler) transcribe(ctx context.Context, wav []byte, sampleRate int) (string, error) {
	asrCtx, cancel := context.WithTimeout(ctx, h.asrTimeout)
	defer cancel()
	text, err := h.asr.Transcribe(asrCtx, wav, sampleRate)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: timed out after %s", asr.ErrUnavailable, h.asrTimeout)
		}
		return "", err
	}
	return text, nil
}

func (h *Handler) respond(ctx context.Context, req agent.Request) (agent.Response, error) {
	agentCtx, cancel := context.WithTimeout(ctx, h.agentTimeout)
	defer cancel()
	return h.agent.Respond(agentCtx, req)
}

// StreamReply synthesizes the reply and emits it as ordered tts_chunk events.
// The session's interrupt flag is checked before every chunk: once a chunk
// has been emitted it is never retracted, so interruption responsiveness is
// one chunk's emit latency. The streaming flag is cleared on every exit path.
func (h *Handler) StreamReply(ctx context.Context, sessionID, text string, committedAt time.Time, emit Emitter) {
	if err := h.sessions.BeginStream(sessionID); err != nil {
		log.Printf("stream: begin stream for session %s: %v", sessionID, err)
		return
	}
	defer h.sessions.EndStream(sessionID)

	ttsCtx, cancel := context.WithTimeout(ctx, h.ttsTimeout)
	buf, format, err := h.tts.Synthesize(ttsCtx, text)
	cancel()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.metrics.ProviderErrors.WithLabelValues("tts", "synthesize_failed").Inc()
		emit(h.errorMessage(sessionID, protocol.ErrTypeSynthesisFailure, err.Error()))
		return
	}

	chunkIndex := 0
	for off := 0; off < len(buf); off += h.chunkSize {
		select {
		case <-ctx.Done():
			// Disconnect mid-stream: the transport is gone, abort quietly.
			return
		default:
		}

		if h.sessions.ConsumeInterrupt(sessionID) {
			h.metrics.StreamInterruptions.Inc()
			emit(protocol.Message{Event: protocol.EventStreamingInterrupted, Data: protocol.StreamingInterruptedData{
				SessionID: sessionID,
			}})
			return
		}

		end := off + h.chunkSize
		if end > len(buf) {
			end = len(buf)
		}
		delivered := emit(protocol.Message{Event: protocol.EventTTSChunk, Data: protocol.TTSChunkData{
			AudioChunk: base64.StdEncoding.EncodeToString(buf[off:end]),
			ChunkIndex: chunkIndex,
			Format:     format,
			SessionID:  sessionID,
		}})
		if !delivered {
			return
		}
		if chunkIndex == 0 && !committedAt.IsZero() {
			h.metrics.ObserveFirstChunkLatency(time.Since(committedAt))
		}
		chunkIndex++
	}

	emit(protocol.Message{Event: protocol.EventStreamingComplete, Data: protocol.StreamingCompleteData{
		SessionID: sessionID,
	}})
}

func (h *Handler) errorMessage(sessionID, errType, detail string) protocol.Message {
	return protocol.Message{Event: protocol.EventError, Data: protocol.ErrorData{
		ErrorType: errType,
		Message:   detail,
		SessionID: sessionID,
	}}
}

func (h *Handler) saveTurnBestEffort(userID, sessionID, role, content string) {
	if h.store == nil {
		return
	}
	// Spoken card and account numbers must never reach storage.
	content, _ = policy.RedactTranscript(content)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), historySaveTimeout)
		defer cancel()
		if err := h.store.SaveTurn(ctx, history.TurnRecord{
			ID:        uuid.NewString(),
			UserID:    userID,
			SessionID: sessionID,
			Role:      role,
			Content:   content,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			log.Printf("stream: save %s turn for session %s: %v", role, sessionID, err)
		}
	}()
}
