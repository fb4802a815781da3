package client

import (
	"context"
	"encoding/base64"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fintalk-ai/fintalk/internal/audio"
	"github.com/fintalk-ai/fintalk/internal/protocol"
)

// TestVoiceSessionFullLoop drives the whole client loop against a scripted
// capture source: an utterance is detected and uploaded, the reply starts
// playing, and speaking over it stops playback locally and sends an
// interrupt on the wire.
func TestVoiceSessionFullLoop(t *testing.T) {
	stub := newStubVoiceServer(t)
	sink := newFakeSink().blocking()

	interrupted := make(chan struct{}, 1)
	vs := NewVoiceSession(16000, VADConfig{
		EnergyThreshold: 0.02,
		SilenceWindow:   60 * time.Millisecond,
		MinUtterance:    40 * time.Millisecond,
		PollInterval:    20 * time.Millisecond,
	}, sink, Events{
		OnStreamingInterrupted: func() { interrupted <- struct{}{} },
	})

	// The feeder emits one 20ms block every few milliseconds at whatever
	// amplitude the test currently wants, so the detector always has a
	// fresh analysis window.
	src := newChanSource()
	var ampMilli atomic.Int64
	ampMilli.Store(300)
	stopFeed := make(chan struct{})
	feederDone := make(chan struct{})
	go func() {
		defer close(feederDone)
		for {
			level := float64(ampMilli.Load()) / 1000
			block := make([]float64, 320)
			for i := range block {
				block[i] = level
			}
			select {
			case src.blocks <- block:
			case <-stopFeed:
				return
			}
			select {
			case <-time.After(5 * time.Millisecond):
			case <-stopFeed:
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- vs.Run(ctx, stub.wsURL(), src) }()

	// Speak, then pause: the silence gate flushes exactly one utterance.
	time.Sleep(150 * time.Millisecond)
	ampMilli.Store(0)
	waitFor(t, "utterance upload", func() bool { return stub.receivedCount() == 1 })

	stub.mu.Lock()
	first := stub.received[0]
	stub.mu.Unlock()
	chunk, ok := first.(protocol.AudioChunkData)
	if !ok {
		t.Fatalf("first frame type = %T, want AudioChunkData", first)
	}
	if chunk.SessionID != stub.sessionID || !chunk.IsFinal {
		t.Fatalf("unexpected utterance frame: %+v", chunk)
	}
	wav, err := base64.StdEncoding.DecodeString(chunk.AudioChunk)
	if err != nil {
		t.Fatalf("utterance payload not base64: %v", err)
	}
	if info, err := audio.DecodeInfo(wav); err != nil || info.SampleRate != 16000 || info.SampleCount == 0 {
		t.Fatalf("utterance payload corrupted: %v %+v", err, info)
	}

	// The reply starts playing; the blocking sink holds it in the sounding
	// state so playback is audibly in progress when the user barges in.
	stub.outbound <- protocol.Message{Event: protocol.EventTTSChunk, Data: protocol.TTSChunkData{
		AudioChunk: base64.StdEncoding.EncodeToString([]byte("replyaudio")),
		ChunkIndex: 0, Format: "mock_pcm", SessionID: stub.sessionID,
	}}
	<-sink.block

	ampMilli.Store(300)
	waitFor(t, "barge-in interrupt", func() bool { return stub.receivedCount() >= 2 })

	stub.mu.Lock()
	second := stub.received[1]
	stub.mu.Unlock()
	intr, ok := second.(protocol.InterruptData)
	if !ok {
		t.Fatalf("second frame type = %T, want InterruptData", second)
	}
	if intr.Reason != "barge_in" || intr.SessionID != stub.sessionID {
		t.Fatalf("unexpected interrupt frame: %+v", intr)
	}
	if vs.queue.Playing() {
		t.Fatalf("playback still marked sounding after barge-in")
	}
	close(sink.release)

	stub.outbound <- protocol.Message{Event: protocol.EventStreamingInterrupted, Data: protocol.StreamingInterruptedData{
		SessionID: stub.sessionID,
	}}
	select {
	case <-interrupted:
	case <-time.After(5 * time.Second):
		t.Fatalf("streaming_interrupted never reached the session observer")
	}

	// The feeder must stop before Run's shutdown closes the source.
	close(stopFeed)
	<-feederDone
	cancel()
	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}
