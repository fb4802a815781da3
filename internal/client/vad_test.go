package client

import (
	"testing"
	"time"
)

func speech(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.3
	}
	return out
}

func silence(n int) []float64 {
	return make([]float64, n)
}

func TestDetectorSpeechClassification(t *testing.T) {
	d := NewDetector(VADConfig{})
	now := time.Now()
	d.Reset(now)

	res := d.Tick(now, speech(240), 0, false)
	if !res.Speech {
		t.Fatalf("loud window not classified as speech")
	}
	if res.Interrupt || res.Flush {
		t.Fatalf("unexpected transitions: %+v", res)
	}

	res = d.Tick(now.Add(150*time.Millisecond), silence(240), 100*time.Millisecond, false)
	if res.Speech {
		t.Fatalf("silent window classified as speech")
	}
}

func TestDetectorFlushFiresOnceAfterSilence(t *testing.T) {
	cfg := VADConfig{SilenceWindow: 300 * time.Millisecond, MinUtterance: 200 * time.Millisecond, PollInterval: 100 * time.Millisecond}
	d := NewDetector(cfg)
	now := time.Now()
	d.Reset(now)

	// Speak for a few ticks, then go silent.
	for i := 0; i < 5; i++ {
		now = now.Add(cfg.PollInterval)
		d.Tick(now, speech(240), time.Duration(i+1)*cfg.PollInterval, false)
	}

	recorded := 500 * time.Millisecond
	flushes := 0
	for i := 0; i < 4; i++ {
		now = now.Add(cfg.PollInterval)
		if d.Tick(now, silence(240), recorded, false).Flush {
			flushes++
			recorded = 0
		}
	}
	if flushes != 1 {
		t.Fatalf("flushes = %d, want exactly 1", flushes)
	}
}

func TestDetectorSilenceAloneNeverFlushes(t *testing.T) {
	cfg := VADConfig{SilenceWindow: 200 * time.Millisecond, MinUtterance: 200 * time.Millisecond, PollInterval: 100 * time.Millisecond}
	d := NewDetector(cfg)
	now := time.Now()
	d.Reset(now)

	// A long stretch of silence accumulates plenty of recording but no
	// speech; nothing worth transcribing ever leaves the buffer.
	for i := 0; i < 10; i++ {
		now = now.Add(cfg.PollInterval)
		if d.Tick(now, silence(240), time.Duration(i+1)*cfg.PollInterval, false).Flush {
			t.Fatalf("flushed with no speech on tick %d", i)
		}
	}
}

func TestDetectorShortBlipNeverFlushes(t *testing.T) {
	cfg := VADConfig{SilenceWindow: 200 * time.Millisecond, MinUtterance: 500 * time.Millisecond, PollInterval: 100 * time.Millisecond}
	d := NewDetector(cfg)
	now := time.Now()
	d.Reset(now)

	now = now.Add(cfg.PollInterval)
	d.Tick(now, speech(240), cfg.PollInterval, false)

	// Recording shorter than MinUtterance: silence may stretch forever and
	// the buffer must still be held.
	for i := 0; i < 10; i++ {
		now = now.Add(cfg.PollInterval)
		if d.Tick(now, silence(240), 300*time.Millisecond, false).Flush {
			t.Fatalf("flushed a sub-minimum utterance on tick %d", i)
		}
	}
}

func TestDetectorInterruptOnSpeechDuringPlayback(t *testing.T) {
	d := NewDetector(VADConfig{})
	now := time.Now()
	d.Reset(now)

	res := d.Tick(now, speech(240), 0, true)
	if !res.Interrupt {
		t.Fatalf("speech during playback must interrupt on the same tick")
	}

	res = d.Tick(now.Add(150*time.Millisecond), silence(240), 0, true)
	if res.Interrupt {
		t.Fatalf("silence during playback must not interrupt")
	}

	res = d.Tick(now.Add(300*time.Millisecond), speech(240), 0, false)
	if res.Interrupt {
		t.Fatalf("speech with idle playback must not interrupt")
	}
}

func TestEnergy(t *testing.T) {
	if got := Energy(nil); got != 0 {
		t.Fatalf("Energy(nil) = %f, want 0", got)
	}
	if got := Energy([]float64{0.5, -0.5}); got != 0.5 {
		t.Fatalf("Energy = %f, want 0.5", got)
	}
	if got := Energy(silence(100)); got != 0 {
		t.Fatalf("Energy(silence) = %f, want 0", got)
	}
}

func TestVADConfigDefaults(t *testing.T) {
	d := NewDetector(VADConfig{})
	cfg := d.Config()
	if cfg.EnergyThreshold != 0.02 {
		t.Fatalf("EnergyThreshold = %f, want 0.02", cfg.EnergyThreshold)
	}
	if cfg.SilenceWindow != 800*time.Millisecond {
		t.Fatalf("SilenceWindow = %s, want 800ms", cfg.SilenceWindow)
	}
	if cfg.MinUtterance != 500*time.Millisecond {
		t.Fatalf("MinUtterance = %s, want 500ms", cfg.MinUtterance)
	}
	if cfg.PollInterval != 150*time.Millisecond {
		t.Fatalf("PollInterval = %s, want 150ms", cfg.PollInterval)
	}
}
