package client

import (
	"errors"
	"sync"
	"time"

	"github.com/fintalk-ai/fintalk/internal/audio"
)

// BlockSource delivers fixed-size blocks of normalized float PCM at the
// platform's audio callback rate. ReadBlock blocks until the next block is
// available and returns io.EOF when the device stops.
type BlockSource interface {
	ReadBlock() ([]float64, error)
	Close() error
}

var ErrAlreadyRecording = errors.New("recorder already running")

// Recorder owns the capture source and the utterance buffer: the raw PCM
// accumulated between flush points. Flushes clear the buffer atomically so
// no sample ever appears in two flushes.
type Recorder struct {
	sampleRate int

	mu      sync.Mutex
	source  BlockSource
	blocks  [][]float64
	samples int
	running bool
	done    chan struct{}
}

func NewRecorder(sampleRate int) *Recorder {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &Recorder{sampleRate: sampleRate}
}

func (r *Recorder) SampleRate() int { return r.sampleRate }

// Start begins accumulating blocks from src. It fails if the recorder is
// already running or the source is unavailable.
func (r *Recorder) Start(src BlockSource) error {
	if src == nil {
		return errors.New("capture source unavailable")
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.running = true
	r.source = src
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for {
			block, err := src.ReadBlock()
			if err != nil {
				return
			}
			if len(block) == 0 {
				continue
			}
			r.mu.Lock()
			if !r.running {
				r.mu.Unlock()
				return
			}
			r.blocks = append(r.blocks, block)
			r.samples += len(block)
			r.mu.Unlock()
		}
	}()
	return nil
}

// Duration reports the accumulated utterance length.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.samples) * time.Second / time.Duration(r.sampleRate)
}

// Window returns a copy of up to n of the most recent samples for energy
// analysis, without consuming them.
func (r *Recorder) Window(n int) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || r.samples == 0 {
		return nil
	}
	if n > r.samples {
		n = r.samples
	}
	out := make([]float64, 0, n)
	remaining := n
	for i := len(r.blocks) - 1; i >= 0 && remaining > 0; i-- {
		block := r.blocks[i]
		take := len(block)
		if take > remaining {
			take = remaining
		}
		out = append(out, block[len(block)-take:]...)
		remaining -= take
	}
	return out
}

// Flush encodes the buffered utterance as WAV and clears the buffer in the
// same critical section, so samples arriving during encoding land in the
// next utterance. Returns nil when nothing was recorded.
func (r *Recorder) Flush() []byte {
	r.mu.Lock()
	blocks := r.blocks
	samples := r.samples
	r.blocks = nil
	r.samples = 0
	r.mu.Unlock()

	if samples == 0 {
		return nil
	}
	joined := make([]float64, 0, samples)
	for _, b := range blocks {
		joined = append(joined, b...)
	}
	return audio.EncodeWAV(joined, r.sampleRate, audio.DefaultChannels)
}

// Stop halts capture, releases the source on every path, and returns any
// remaining buffered audio as WAV (nil when nothing was recorded). The
// recorder is ready to Start fresh afterwards.
func (r *Recorder) Stop() []byte {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	src := r.source
	r.source = nil
	done := r.done
	r.done = nil
	r.mu.Unlock()

	if src != nil {
		_ = src.Close()
	}
	if done != nil {
		<-done
	}
	return r.Flush()
}
