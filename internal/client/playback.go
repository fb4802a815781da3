package client

import "sync"

// Sink renders one audio chunk. Play blocks until the chunk has finished
// sounding; Stop halts an in-flight Play immediately and must be safe to
// call when nothing is playing.
type Sink interface {
	Play(chunk []byte) error
	Stop()
}

// Queue buffers inbound TTS chunks and plays them back-to-back in arrival
// order through a single drain goroutine. StopAndClear discards the queue
// and halts the sounding buffer atomically, which is what a barge-in needs.
type Queue struct {
	sink Sink

	mu      sync.Mutex
	pending [][]byte
	playing bool
	gen     int
}

func NewQueue(sink Sink) *Queue {
	return &Queue{sink: sink}
}

// Enqueue appends a decoded chunk; if nothing is currently playing, playback
// of the queue head begins immediately.
func (q *Queue) Enqueue(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, chunk)
	if q.playing {
		q.mu.Unlock()
		return
	}
	q.playing = true
	gen := q.gen
	q.mu.Unlock()

	go q.drain(gen)
}

// Playing reports whether agent audio is currently audible or queued.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Len reports the number of not-yet-played chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// StopAndClear halts the sounding buffer immediately, discards every queued
// chunk and resets the playing flag in one step. Calling it when nothing is
// playing is a no-op.
func (q *Queue) StopAndClear() {
	q.mu.Lock()
	q.gen++
	q.pending = nil
	q.playing = false
	q.mu.Unlock()

	q.sink.Stop()
}

func (q *Queue) drain(gen int) {
	for {
		q.mu.Lock()
		if gen != q.gen || len(q.pending) == 0 {
			if gen == q.gen {
				q.playing = false
			}
			q.mu.Unlock()
			return
		}
		chunk := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := q.sink.Play(chunk); err != nil {
			q.mu.Lock()
			if gen == q.gen {
				q.pending = nil
				q.playing = false
			}
			q.mu.Unlock()
			return
		}
	}
}
