package client

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fintalk-ai/fintalk/internal/protocol"
)

// Events are optional observer callbacks for a VoiceSession. Playback of
// tts_chunk audio is handled internally; these exist for UIs and probes
// that want to render transcripts or track stream outcomes.
type Events struct {
	OnTranscription        func(text string)
	OnAgentResponse        func(text string)
	OnStreamingComplete    func()
	OnStreamingInterrupted func()
	OnError                func(errType, message string)
	OnDisconnect           func(err error)
}

// VoiceSession runs the full client loop: capture, endpoint detection,
// utterance upload, and interruptible playback of the agent's reply.
type VoiceSession struct {
	recorder  *Recorder
	detector  *Detector
	queue     *Queue
	transport *Transport
	events    Events

	windowSamples int
}

// NewVoiceSession assembles a session around a playback sink. sampleRate is
// the capture rate of the block source handed to Run.
func NewVoiceSession(sampleRate int, vad VADConfig, sink Sink, events Events) *VoiceSession {
	s := &VoiceSession{
		recorder: NewRecorder(sampleRate),
		detector: NewDetector(vad),
		events:   events,
	}
	s.queue = NewQueue(sink)
	s.transport = NewTransport(s.handlers())

	// Analysis window covers one polling interval of samples.
	s.windowSamples = int(float64(s.recorder.SampleRate()) * s.detector.Config().PollInterval.Seconds())
	if s.windowSamples <= 0 {
		s.windowSamples = s.recorder.SampleRate() / 10
	}
	return s
}

// SessionID returns the server-assigned id once connected.
func (s *VoiceSession) SessionID() string { return s.transport.SessionID() }

// Run connects to the voice endpoint, then starts capturing from src and
// drives the detector until ctx is cancelled or the source stops. Capture
// begins only after the connected handshake so no utterance can be recorded
// against a session that does not exist yet.
func (s *VoiceSession) Run(ctx context.Context, url string, src BlockSource) error {
	if err := s.transport.Connect(ctx, url); err != nil {
		return err
	}
	defer s.transport.Close()

	if err := s.recorder.Start(src); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	// The tail flush at shutdown is discarded; a half-utterance is noise.
	defer s.recorder.Stop()

	s.detector.Reset(time.Now())
	ticker := time.NewTicker(s.detector.Config().PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := s.tick(now); err != nil {
				return err
			}
		}
	}
}

func (s *VoiceSession) tick(now time.Time) error {
	window := s.recorder.Window(s.windowSamples)
	res := s.detector.Tick(now, window, s.recorder.Duration(), s.queue.Playing())

	if res.Interrupt {
		// Local playback stops first so the user hears silence immediately;
		// the server-side abort follows on the wire.
		s.queue.StopAndClear()
		if err := s.transport.SendInterrupt("barge_in"); err != nil {
			return fmt.Errorf("send interrupt: %w", err)
		}
	}

	if res.Flush {
		wav := s.recorder.Flush()
		if wav == nil {
			return nil
		}
		if err := s.transport.SendAudio(wav, s.recorder.SampleRate(), true); err != nil {
			return fmt.Errorf("send utterance: %w", err)
		}
	}
	return nil
}

func (s *VoiceSession) handlers() Handlers {
	return Handlers{
		OnTranscription: func(d protocol.TranscriptionData) {
			if s.events.OnTranscription != nil {
				s.events.OnTranscription(d.Text)
			}
		},
		OnAgentResponse: func(d protocol.AgentResponseData) {
			if s.events.OnAgentResponse != nil {
				s.events.OnAgentResponse(d.Text)
			}
		},
		OnTTSChunk: func(audio []byte, d protocol.TTSChunkData) {
			s.queue.Enqueue(audio)
		},
		OnStreamingComplete: func(d protocol.StreamingCompleteData) {
			if s.events.OnStreamingComplete != nil {
				s.events.OnStreamingComplete()
			}
		},
		OnStreamingInterrupted: func(d protocol.StreamingInterruptedData) {
			// The server may interrupt for its own reasons; keep playback
			// state consistent with the wire.
			s.queue.StopAndClear()
			if s.events.OnStreamingInterrupted != nil {
				s.events.OnStreamingInterrupted()
			}
		},
		OnError: func(d protocol.ErrorData) {
			if s.events.OnError != nil {
				s.events.OnError(d.ErrorType, d.Message)
			} else {
				log.Printf("voice client: server error %s: %s", d.ErrorType, d.Message)
			}
		},
		OnDisconnect: func(err error) {
			if s.events.OnDisconnect != nil {
				s.events.OnDisconnect(err)
			}
		},
	}
}
