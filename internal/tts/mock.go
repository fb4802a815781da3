package tts

import (
	"context"
	"strings"
	"sync"
)

// Mock renders text to deterministic bytes so streaming and interruption
// paths can run without a speech engine. It can be scripted to fail and to
// emit a fixed-size buffer for chunk-count assertions.
type Mock struct {
	mu      sync.Mutex
	fail    error
	bufSize int
}

func NewMock() *Mock { return &Mock{} }

// FailWith makes every subsequent Synthesize call return err.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// SetBufferSize forces synthesized buffers to exactly n bytes.
func (m *Mock) SetBufferSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bufSize = n
}

func (m *Mock) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	default:
	}

	m.mu.Lock()
	fail := m.fail
	bufSize := m.bufSize
	m.mu.Unlock()
	if fail != nil {
		return nil, "", fail
	}

	if bufSize > 0 {
		out := make([]byte, bufSize)
		seed := []byte(text)
		if len(seed) == 0 {
			seed = []byte{0x5f}
		}
		for i := range out {
			out[i] = seed[i%len(seed)]
		}
		return out, "mock_pcm", nil
	}

	if strings.TrimSpace(text) == "" {
		return nil, "", ErrSynthesisFailed
	}
	// Repeat the text enough times that short replies still split across
	// multiple transport chunks.
	var b strings.Builder
	for b.Len() < 4096 {
		b.WriteString(text)
		b.WriteByte(' ')
	}
	return []byte(b.String()), "mock_pcm", nil
}
