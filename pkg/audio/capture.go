package audio

import (
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var _ io.Closer = (*Capture)(nil)

// MediaAcquisitionError reports that the microphone could not be acquired
// (permission denied, no device, backend failure). It prevents session start
// but never corrupts prior session state.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CaptureConfig shapes microphone acquisition.
type CaptureConfig struct {
	// SampleRateHz defaults to 24000.
	SampleRateHz int
	// BlockMS is the capture period per callback; defaults to 20ms.
	BlockMS int
	// OnFrame receives each PCM16 block unless muted. Frames are perishable:
	// the slice is only valid for the duration of the call.
	OnFrame func(pcm []byte)
	// OnLevel receives the running RMS energy (0..1) per block. Level keeps
	// flowing while muted so local monitoring can continue.
	OnLevel func(level float64)
}

// Capture owns the microphone device. Mute suppresses only frame forwarding,
// not energy computation.
type Capture struct {
	cfg    CaptureConfig
	muted  atomic.Bool
	closed atomic.Bool

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
}

// NewCapture acquires the microphone and starts the capture callback.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = 24000
	}
	if cfg.BlockMS <= 0 {
		cfg.BlockMS = 20
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	malgoCtx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, &MediaAcquisitionError{Err: err}
	}

	c := &Capture{cfg: cfg, malgoCtx: malgoCtx}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRateHz)
	deviceConfig.PeriodSizeInMilliseconds = uint32(cfg.BlockMS)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.onBlock(input)
		},
	}
	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = malgoCtx.Uninit()
		return nil, &MediaAcquisitionError{Err: err}
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		return nil, &MediaAcquisitionError{Err: err}
	}
	c.device = device
	return c, nil
}

func (c *Capture) onBlock(input []byte) {
	if c.closed.Load() || len(input) == 0 {
		return
	}
	if c.cfg.OnLevel != nil {
		c.cfg.OnLevel(RMSLevel(input))
	}
	if c.muted.Load() {
		return
	}
	if c.cfg.OnFrame != nil {
		c.cfg.OnFrame(input)
	}
}

// SetMuted toggles frame forwarding. Energy reporting is unaffected.
func (c *Capture) SetMuted(muted bool) {
	c.muted.Store(muted)
}

// Muted reports the current mute state.
func (c *Capture) Muted() bool {
	return c.muted.Load()
}

// Close stops the device and releases the backend. Idempotent. It
// implements io.Closer so session teardown can own the microphone lifetime.
func (c *Capture) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	if c.malgoCtx != nil {
		_ = c.malgoCtx.Uninit()
		c.malgoCtx = nil
	}
	return nil
}

// RMSLevel computes the root-mean-square energy of a PCM16 little-endian
// block, normalized to 0..1.
func RMSLevel(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		s := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(samples))
}
