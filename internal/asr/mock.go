package asr

import (
	"context"
	"sync"

	"github.com/fintalk-ai/fintalk/internal/audio"
)

// Mock is a deterministic local transcriber used when no speech service is
// configured, and by tests. It can be scripted to fail.
type Mock struct {
	mu      sync.Mutex
	scripts []string
	next    int
	fail    error
}

func NewMock(scripts ...string) *Mock {
	return &Mock{scripts: scripts}
}

// FailWith makes every subsequent Transcribe call return err. Passing nil
// restores normal behavior.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *Mock) Transcribe(ctx context.Context, wav []byte, sampleRate int) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	if len(m.scripts) > 0 {
		text := m.scripts[m.next%len(m.scripts)]
		m.next++
		return text, nil
	}
	if info, err := audio.DecodeInfo(wav); err == nil && info.SampleCount == 0 {
		return "", ErrUnavailable
	}
	return "what is the latest news on apple stock", nil
}
