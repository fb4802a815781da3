package client

import "time"

// VADConfig tunes the voice activity detector. The defaults are deliberate
// compromises: flushing waits for a genuine pause so sentences are not cut
// off, while barge-in fires on the first speech tick so interruption feels
// immediate.
type VADConfig struct {
	// EnergyThreshold is the mean absolute amplitude (on a [-1,1] scale)
	// above which a window counts as speech.
	EnergyThreshold float64
	// SilenceWindow is how long silence must last after the most recent
	// speech before the utterance buffer is flushed.
	SilenceWindow time.Duration
	// MinUtterance is the minimum accumulated recording duration eligible
	// for a flush; shorter blips are noise and never sent.
	MinUtterance time.Duration
	// PollInterval is the detector tick rate.
	PollInterval time.Duration
}

func (c VADConfig) withDefaults() VADConfig {
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = 0.02
	}
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = 800 * time.Millisecond
	}
	if c.MinUtterance <= 0 {
		c.MinUtterance = 500 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 150 * time.Millisecond
	}
	return c
}

// Detector classifies fixed-interval audio windows as speech or silence and
// drives the two time-based transitions: flush-on-pause and barge-in. It is
// a cheap energy heuristic, not a statistical model; occasional
// misclassification is absorbed by the silence-window cushion.
type Detector struct {
	cfg        VADConfig
	lastSpeech time.Time
	sawSpeech  bool
}

type TickResult struct {
	// Speech reports whether this window classified as speech.
	Speech bool
	// Flush fires when silence has lasted long enough after a sufficiently
	// long recording: encode and send the utterance buffer now.
	Flush bool
	// Interrupt fires when the user speaks while agent audio is playing:
	// stop playback locally and signal the server, same tick.
	Interrupt bool
}

func NewDetector(cfg VADConfig) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

func (d *Detector) Config() VADConfig { return d.cfg }

// Reset arms the detector at the start of a recording so the silence gate
// cannot fire before any speech has been heard.
func (d *Detector) Reset(now time.Time) {
	d.lastSpeech = now
	d.sawSpeech = false
}

// Tick processes one polling interval. window holds the most recent analysis
// samples, recorded the accumulated utterance duration, playing whether
// agent audio is currently audible.
func (d *Detector) Tick(now time.Time, window []float64, recorded time.Duration, playing bool) TickResult {
	var res TickResult

	if Energy(window) > d.cfg.EnergyThreshold {
		res.Speech = true
		d.lastSpeech = now
		d.sawSpeech = true
		if playing {
			res.Interrupt = true
		}
		return res
	}

	if d.lastSpeech.IsZero() {
		d.lastSpeech = now
		return res
	}
	if now.Sub(d.lastSpeech) < d.cfg.SilenceWindow {
		return res
	}
	if recorded < d.cfg.MinUtterance || recorded == 0 {
		return res
	}
	// Accumulated silence alone never flushes; the gate stays shut until the
	// next actual utterance.
	if !d.sawSpeech {
		return res
	}

	res.Flush = true
	d.lastSpeech = now
	d.sawSpeech = false
	return res
}

// Energy computes the mean absolute amplitude of a sample window.
func Energy(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, s := range window {
		if s < 0 {
			sum -= s
		} else {
			sum += s
		}
	}
	return sum / float64(len(window))
}
