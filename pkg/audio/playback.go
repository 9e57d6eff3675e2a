package audio

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// PlaybackConfig shapes the output device and jitter buffer.
type PlaybackConfig struct {
	// SampleRateHz is the output rate; defaults to 24000.
	SampleRateHz int
	// MinBufferCount gates rendering start; defaults to DefaultMinBufferCount.
	MinBufferCount int
	// DeviceBufferBytes is the oto ring buffer size; defaults to ~100ms.
	DeviceBufferBytes int
}

// Playback renders queued PCM16 buffers through the system output device.
// Incoming buffers go through the jitter-buffered Queue; the device pulls
// from the queue so buffer chaining happens in the read path, never by
// polling.
type Playback struct {
	cfg   PlaybackConfig
	queue *Queue

	mu      sync.Mutex
	otoCtx  *oto.Context
	player  *oto.Player
	playing bool
	closed  bool
}

// NewPlayback initializes the output device. The device context is created
// eagerly so device failures surface at session start, but no player runs
// until audio arrives.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = 24000
	}
	if cfg.MinBufferCount < 1 {
		cfg.MinBufferCount = DefaultMinBufferCount
	}
	if cfg.DeviceBufferBytes <= 0 {
		// ~100ms at 16-bit mono keeps latency low without glitching.
		cfg.DeviceBufferBytes = cfg.SampleRateHz / 10 * 2
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRateHz,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   cfg.DeviceBufferBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("init output device: %w", err)
	}
	<-ready

	return &Playback{
		cfg:    cfg,
		queue:  NewQueue(cfg.MinBufferCount),
		otoCtx: otoCtx,
	}, nil
}

// Queue exposes the playback queue for the session engine's append path.
func (p *Playback) Queue() *Queue {
	return p.queue
}

// Enqueue appends a synthesized audio buffer and starts the device player
// once the jitter buffer has filled.
func (p *Playback) Enqueue(pcm []byte) {
	p.queue.Append(pcm)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.playing || !p.queue.Ready() {
		return
	}
	p.playing = true
	p.player = p.otoCtx.NewPlayer(p.queue.Reader())
	p.player.Play()
}

// Stop halts the current buffer immediately, discards everything queued and
// resets to idle. Used when the remote side interrupts the agent's turn.
func (p *Playback) Stop() {
	p.mu.Lock()
	player := p.player
	p.player = nil
	p.playing = false
	p.mu.Unlock()

	p.queue.Clear()
	if player != nil {
		player.Pause()
		_ = player.Close()
	}
}

// Close tears down the player and queue. Idempotent.
func (p *Playback) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	player := p.player
	p.player = nil
	p.playing = false
	p.mu.Unlock()

	p.queue.Close()
	if player != nil {
		_ = player.Close()
	}
}
