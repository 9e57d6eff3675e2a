package audio

// fadeSamples is the boundary ramp length applied to each playback buffer.
// Buffers arrive as independent network chunks; without a short envelope the
// discontinuity at each seam is an audible click.
const fadeSamples = 64

// applyFadeEnvelope applies a linear fade-in over the first fadeSamples and a
// fade-out over the last fadeSamples of a PCM16 little-endian buffer, in
// place. Buffers shorter than two ramps are left untouched.
func applyFadeEnvelope(pcm []byte) {
	samples := len(pcm) / 2
	if samples < fadeSamples*2 {
		return
	}
	for i := 0; i < fadeSamples; i++ {
		scaleSample(pcm, i, float64(i)/float64(fadeSamples))
		scaleSample(pcm, samples-1-i, float64(i)/float64(fadeSamples))
	}
}

func scaleSample(pcm []byte, index int, gain float64) {
	off := index * 2
	sample := int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8)
	scaled := int16(float64(sample) * gain)
	pcm[off] = byte(scaled)
	pcm[off+1] = byte(uint16(scaled) >> 8)
}
