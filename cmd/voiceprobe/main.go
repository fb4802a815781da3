package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fintalk-ai/fintalk/internal/audio"
	"github.com/fintalk-ai/fintalk/internal/client"
	"github.com/fintalk-ai/fintalk/internal/protocol"
)

type options struct {
	wsURL          string
	userID         string
	wavPath        string
	turns          int
	bargeInTurn    int
	turnTimeout    time.Duration
	interTurnDelay time.Duration
	verbose        bool
}

type turnOutcome struct {
	event  string
	detail string
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voiceprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var turnTimeoutMS int
	var interTurnMS int

	flag.StringVar(&cfg.wsURL, "url", "ws://127.0.0.1:8080/ws/voice", "voice websocket endpoint")
	flag.StringVar(&cfg.userID, "user-id", "probe-replay", "user_id attached to the connection")
	flag.StringVar(&cfg.wavPath, "wav", "", "WAV file to replay per turn (defaults to a synthetic tone)")
	flag.IntVar(&cfg.turns, "turns", 3, "number of utterances to replay")
	flag.IntVar(&cfg.bargeInTurn, "barge-in-turn", 2, "turn on which to interrupt the reply mid-stream (0 disables)")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 20000, "timeout waiting for stream end per turn in milliseconds")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 200, "delay between turns in milliseconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.wsURL = strings.TrimSpace(cfg.wsURL)
	if cfg.wsURL == "" {
		return options{}, fmt.Errorf("url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.bargeInTurn > cfg.turns {
		return options{}, fmt.Errorf("barge-in-turn %d exceeds turns %d", cfg.bargeInTurn, cfg.turns)
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	wav, sampleRate, err := loadUtterance(cfg.wavPath)
	if err != nil {
		return fmt.Errorf("prepare utterance audio: %w", err)
	}

	firstChunk := make(chan struct{}, 64)
	streamEnd := make(chan turnOutcome, 64)
	disconnected := make(chan error, 1)

	transport := client.NewTransport(client.Handlers{
		OnTranscription: func(d protocol.TranscriptionData) {
			if cfg.verbose {
				fmt.Printf("voiceprobe: transcription %q\n", d.Text)
			}
		},
		OnAgentResponse: func(d protocol.AgentResponseData) {
			if cfg.verbose {
				fmt.Printf("voiceprobe: agent reply %q\n", truncate(d.Text, 80))
			}
		},
		OnTTSChunk: func(_ []byte, d protocol.TTSChunkData) {
			if d.ChunkIndex == 0 {
				select {
				case firstChunk <- struct{}{}:
				default:
				}
			}
		},
		OnStreamingComplete: func(protocol.StreamingCompleteData) {
			streamEnd <- turnOutcome{event: "streaming_complete"}
		},
		OnStreamingInterrupted: func(protocol.StreamingInterruptedData) {
			streamEnd <- turnOutcome{event: "streaming_interrupted"}
		},
		OnError: func(d protocol.ErrorData) {
			streamEnd <- turnOutcome{event: "error", detail: d.ErrorType + ": " + d.Message}
		},
		OnDisconnect: func(err error) {
			if err != nil {
				select {
				case disconnected <- err:
				default:
				}
			}
		},
	})

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()
	endpoint, err := probeEndpoint(cfg.wsURL, cfg.userID)
	if err != nil {
		return err
	}
	if err := transport.Connect(dialCtx, endpoint); err != nil {
		return err
	}
	defer transport.Close()

	if cfg.verbose {
		fmt.Printf("voiceprobe: session=%s turns=%d bytes_per_turn=%d\n", transport.SessionID(), cfg.turns, len(wav))
	}

	for i := 1; i <= cfg.turns; i++ {
		select {
		case err := <-disconnected:
			return fmt.Errorf("connection lost: %w", err)
		default:
		}

		bargeIn := cfg.bargeInTurn == i
		if cfg.verbose {
			fmt.Printf("voiceprobe: turn %d/%d barge_in=%v\n", i, cfg.turns, bargeIn)
		}
		if err := transport.SendAudio(wav, sampleRate, true); err != nil {
			return fmt.Errorf("turn %d send audio: %w", i, err)
		}

		if bargeIn {
			if err := awaitSignal(firstChunk, disconnected, cfg.turnTimeout, "first tts chunk"); err != nil {
				return fmt.Errorf("turn %d: %w", i, err)
			}
			if err := transport.SendInterrupt("probe_barge_in"); err != nil {
				return fmt.Errorf("turn %d send interrupt: %w", i, err)
			}
		}

		outcome, err := awaitStreamEnd(streamEnd, disconnected, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await stream end: %w", i, err)
		}
		if cfg.verbose {
			if outcome.detail != "" {
				fmt.Printf("voiceprobe: turn %d ended with %s (%s)\n", i, outcome.event, outcome.detail)
			} else {
				fmt.Printf("voiceprobe: turn %d ended with %s\n", i, outcome.event)
			}
		}
		if bargeIn && outcome.event == "streaming_complete" {
			return fmt.Errorf("turn %d: stream completed despite interrupt", i)
		}

		drain(firstChunk)
		if cfg.interTurnDelay > 0 && i < cfg.turns {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	if cfg.verbose {
		fmt.Println("voiceprobe: replay completed")
	}
	return nil
}

// probeEndpoint attaches the user id to the websocket URL, escaping it and
// preserving any query parameters the URL already carries.
func probeEndpoint(wsURL, userID string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", wsURL, err)
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// loadUtterance reads the replay WAV or falls back to a synthetic 440Hz tone
// loud enough to clear any server-side silence handling.
func loadUtterance(path string) ([]byte, int, error) {
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, 0, err
		}
		info, err := audio.DecodeInfo(data)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", path, err)
		}
		return data, info.SampleRate, nil
	}

	const (
		rate = audio.DefaultSampleRate
		secs = 1.5
		freq = 440.0
	)
	samples := make([]float64, int(rate*secs))
	for i := range samples {
		samples[i] = 0.4 * math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	return audio.EncodeWAV(samples, rate, audio.DefaultChannels), rate, nil
}

func awaitSignal(ch <-chan struct{}, disconnected <-chan error, timeout time.Duration, what string) error {
	select {
	case <-ch:
		return nil
	case err := <-disconnected:
		return fmt.Errorf("connection lost: %w", err)
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for %s", what)
	}
}

func awaitStreamEnd(ch <-chan turnOutcome, disconnected <-chan error, timeout time.Duration) (turnOutcome, error) {
	select {
	case out := <-ch:
		return out, nil
	case err := <-disconnected:
		return turnOutcome{}, fmt.Errorf("connection lost: %w", err)
	case <-time.After(timeout):
		return turnOutcome{}, fmt.Errorf("timed out")
	}
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
