package usage

import "sync"

const pcmBytesPerSample = 2

// BytesToMS converts a PCM16 byte count to milliseconds at the given sample
// rate.
func BytesToMS(bytes int64, sampleRateHz int) int64 {
	if sampleRateHz <= 0 || bytes <= 0 {
		return 0
	}
	return bytes / pcmBytesPerSample * 1000 / int64(sampleRateHz)
}

// DurationAccumulator tracks total input and output audio duration for a
// session. Output duration is estimated from delta byte counts and corrected
// upward by timestamp events when the service reports them: timestamps are
// authoritative, the byte estimate is the floor.
type DurationAccumulator struct {
	mu sync.Mutex

	inputMS     int64
	committedMS int64 // output duration from finished responses

	// current response
	respByteMS      int64
	respTimestampMS int64
}

// AddInputBytes records captured microphone audio.
func (d *DurationAccumulator) AddInputBytes(n int64, sampleRateHz int) {
	ms := BytesToMS(n, sampleRateHz)
	if ms <= 0 {
		return
	}
	d.mu.Lock()
	d.inputMS += ms
	d.mu.Unlock()
}

// AddOutputBytes records a synthesized audio delta for the current response.
func (d *DurationAccumulator) AddOutputBytes(n int64, sampleRateHz int) {
	ms := BytesToMS(n, sampleRateHz)
	if ms <= 0 {
		return
	}
	d.mu.Lock()
	d.respByteMS += ms
	d.mu.Unlock()
}

// ObserveTimestamp records a timestamp delta (offset+duration) for the
// current response. The running timestamp estimate only moves forward.
func (d *DurationAccumulator) ObserveTimestamp(offsetMS, durationMS int64) {
	end := offsetMS + durationMS
	if end <= 0 {
		return
	}
	d.mu.Lock()
	if end > d.respTimestampMS {
		d.respTimestampMS = end
	}
	d.mu.Unlock()
}

// FinishResponse commits the current response's duration, taking the larger
// of the byte estimate and the timestamp estimate, and resets per-response
// state.
func (d *DurationAccumulator) FinishResponse() {
	d.mu.Lock()
	d.committedMS += d.currentLocked()
	d.respByteMS = 0
	d.respTimestampMS = 0
	d.mu.Unlock()
}

func (d *DurationAccumulator) currentLocked() int64 {
	if d.respTimestampMS > d.respByteMS {
		return d.respTimestampMS
	}
	return d.respByteMS
}

// InputMS returns total captured input duration in milliseconds.
func (d *DurationAccumulator) InputMS() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inputMS
}

// OutputMS returns total output duration in milliseconds, including the
// in-flight response.
func (d *DurationAccumulator) OutputMS() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.committedMS + d.currentLocked()
}

// Reset clears all accumulated durations.
func (d *DurationAccumulator) Reset() {
	d.mu.Lock()
	d.inputMS = 0
	d.committedMS = 0
	d.respByteMS = 0
	d.respTimestampMS = 0
	d.mu.Unlock()
}
