package audio

import (
	"io"
	"sync"
)

// DefaultMinBufferCount is the jitter-buffer depth: playback does not begin
// until this many buffers are queued, trading startup latency for smoothness
// against network timing variance.
const DefaultMinBufferCount = 2

// Queue is the ordered playback queue. Buffers are rendered strictly one at
// a time: Read serves the current buffer and chains to the next queued one
// the moment it is exhausted. The session engine appends; only the pipeline
// itself pops or clears.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	minBuffers int
	pending    [][]byte
	current    []byte
	started    bool
	rendering  bool
	closed     bool
	gen        int
}

// NewQueue builds a queue gated on minBuffers queued chunks; values below 1
// fall back to DefaultMinBufferCount.
func NewQueue(minBuffers int) *Queue {
	if minBuffers < 1 {
		minBuffers = DefaultMinBufferCount
	}
	q := &Queue{minBuffers: minBuffers}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Append queues one audio buffer, applying the boundary fade envelope. The
// buffer is copied; callers may reuse the slice.
func (q *Queue) Append(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	applyFadeEnvelope(buf)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, buf)
	if !q.started && len(q.pending) >= q.minBuffers {
		q.started = true
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Ready reports whether the jitter buffer has filled and rendering may start.
func (q *Queue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.started
}

// Depth returns the number of queued buffers awaiting playback, not counting
// the one currently rendering.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Rendering reports whether a buffer is currently being served to the output
// device. At most one buffer renders at a time.
func (q *Queue) Rendering() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rendering
}

// Reader returns an io.Reader pinned to the queue's current generation.
// Clear advances the generation, so a reader handed to a device player that
// was later stopped drains with io.EOF instead of waking up and stealing
// audio queued for its replacement.
func (q *Queue) Reader() io.Reader {
	q.mu.Lock()
	defer q.mu.Unlock()
	return &queueReader{q: q, gen: q.gen}
}

type queueReader struct {
	q   *Queue
	gen int
}

func (r *queueReader) Read(p []byte) (int, error) {
	return r.q.read(p, r.gen)
}

// Read implements io.Reader for the output device. It blocks until the
// jitter buffer has filled, then serves buffers back to back. Once the queue
// drains it blocks again until new audio arrives or the queue is closed.
// The generation is sampled at entry, so a Read blocked across a Clear
// returns io.EOF rather than serving the next burst.
func (q *Queue) Read(p []byte) (int, error) {
	q.mu.Lock()
	gen := q.gen
	q.mu.Unlock()
	return q.read(p, gen)
}

func (q *Queue) read(p []byte, gen int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed || gen != q.gen {
			return 0, io.EOF
		}
		if len(q.current) == 0 {
			q.rendering = false
			if q.started && len(q.pending) > 0 {
				q.current = q.pending[0]
				q.pending = q.pending[1:]
				q.rendering = true
			} else {
				if len(q.pending) == 0 {
					// Queue drained: require the jitter buffer to refill
					// before the next burst starts.
					q.started = false
				}
				q.cond.Wait()
				continue
			}
		}
		n := copy(p, q.current)
		q.current = q.current[n:]
		return n, nil
	}
}

// Clear discards the current buffer and everything queued, resetting to the
// idle state and retiring any reader blocked mid-render. The next burst must
// refill the jitter buffer before rendering.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.current = nil
	q.pending = nil
	q.started = false
	q.rendering = false
	q.gen++
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Close releases any blocked reader. The queue accepts no audio afterwards.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.current = nil
	q.pending = nil
	q.rendering = false
	q.mu.Unlock()
	q.cond.Broadcast()
}
