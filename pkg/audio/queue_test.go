package audio

import (
	"io"
	"testing"
	"time"
)

func pcmBuffer(samples int, value int16) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		buf[i*2] = byte(value)
		buf[i*2+1] = byte(uint16(value) >> 8)
	}
	return buf
}

func TestQueue_GatesOnMinBufferCount(t *testing.T) {
	q := NewQueue(2)

	q.Append(pcmBuffer(256, 1000))
	if q.Ready() {
		t.Fatal("queue ready after one buffer, want gate at two")
	}
	q.Append(pcmBuffer(256, 1000))
	if !q.Ready() {
		t.Fatal("queue not ready after reaching min depth")
	}
}

func TestQueue_ReadServesBuffersInOrder(t *testing.T) {
	q := NewQueue(2)
	q.Append(pcmBuffer(256, 1000))
	q.Append(pcmBuffer(256, -2000))

	// Read past both fade ramps into the flat middle of the first buffer.
	buf := make([]byte, 256*2)
	total := 0
	for total < len(buf) {
		n, err := q.Read(buf[total:])
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		total += n
	}
	mid := 128 * 2
	sample := int16(uint16(buf[mid]) | uint16(buf[mid+1])<<8)
	if sample != 1000 {
		t.Fatalf("first buffer midpoint sample = %d, want 1000", sample)
	}

	total = 0
	for total < len(buf) {
		n, err := q.Read(buf[total:])
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		total += n
	}
	sample = int16(uint16(buf[mid]) | uint16(buf[mid+1])<<8)
	if sample != -2000 {
		t.Fatalf("second buffer midpoint sample = %d, want -2000", sample)
	}
}

func TestQueue_SingleRendererInvariant(t *testing.T) {
	q := NewQueue(2)
	if q.Rendering() {
		t.Fatal("rendering before any audio")
	}
	q.Append(pcmBuffer(256, 100))
	q.Append(pcmBuffer(256, 100))

	buf := make([]byte, 16)
	if _, err := q.Read(buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !q.Rendering() {
		t.Fatal("expected one buffer rendering after Read")
	}
	if q.Depth() != 1 {
		t.Fatalf("depth = %d, want 1 (second buffer still queued)", q.Depth())
	}
}

func TestQueue_ReadBlocksUntilGateFills(t *testing.T) {
	q := NewQueue(2)
	q.Append(pcmBuffer(256, 100))

	got := make(chan int, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := q.Read(buf)
		got <- n
	}()

	select {
	case <-got:
		t.Fatal("Read returned before the jitter buffer filled")
	case <-time.After(50 * time.Millisecond):
	}

	q.Append(pcmBuffer(256, 100))
	select {
	case n := <-got:
		if n == 0 {
			t.Fatal("Read returned no data")
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after gate filled")
	}
}

func TestQueue_ClearResetsToIdle(t *testing.T) {
	q := NewQueue(2)
	q.Append(pcmBuffer(256, 100))
	q.Append(pcmBuffer(256, 100))
	buf := make([]byte, 16)
	if _, err := q.Read(buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	q.Clear()
	if q.Depth() != 0 || q.Ready() || q.Rendering() {
		t.Fatalf("clear left state depth=%d ready=%v rendering=%v", q.Depth(), q.Ready(), q.Rendering())
	}

	// A single new buffer must not restart playback; the gate re-applies.
	q.Append(pcmBuffer(256, 100))
	if q.Ready() {
		t.Fatal("gate did not re-apply after clear")
	}
}

func TestQueue_ClearRetiresBlockedReader(t *testing.T) {
	q := NewQueue(2)
	stale := q.Reader()

	type result struct {
		n   int
		err error
	}
	got := make(chan result, 1)
	go func() {
		buf := make([]byte, 512)
		n, err := stale.Read(buf)
		got <- result{n, err}
	}()
	time.Sleep(20 * time.Millisecond)

	// The turn is interrupted while the reader waits for the gate; the next
	// turn's audio belongs to the replacement reader only.
	q.Clear()
	q.Append(pcmBuffer(256, 100))
	q.Append(pcmBuffer(256, 100))

	select {
	case r := <-got:
		if r.err != io.EOF {
			t.Fatalf("retired reader got (%d, %v), want io.EOF", r.n, r.err)
		}
		if r.n != 0 {
			t.Fatalf("retired reader consumed %d bytes of the next turn", r.n)
		}
	case <-time.After(time.Second):
		t.Fatal("retired reader still blocked after clear")
	}

	fresh := q.Reader()
	n, err := fresh.Read(make([]byte, 16))
	if err != nil || n == 0 {
		t.Fatalf("replacement reader Read() = (%d, %v), want data", n, err)
	}
}

func TestQueue_CloseUnblocksReader(t *testing.T) {
	q := NewQueue(2)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Read(make([]byte, 16))
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()
	select {
	case err := <-errCh:
		if err != io.EOF {
			t.Fatalf("Read() error = %v, want io.EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock on close")
	}
}

func TestApplyFadeEnvelope(t *testing.T) {
	buf := pcmBuffer(fadeSamples*4, 16000)
	applyFadeEnvelope(buf)

	first := int16(uint16(buf[0]) | uint16(buf[1])<<8)
	if first != 0 {
		t.Fatalf("first sample = %d, want 0 after fade-in", first)
	}
	last := int16(uint16(buf[len(buf)-2]) | uint16(buf[len(buf)-1])<<8)
	if last != 0 {
		t.Fatalf("last sample = %d, want 0 after fade-out", last)
	}
	mid := (fadeSamples * 2) * 2
	middle := int16(uint16(buf[mid]) | uint16(buf[mid+1])<<8)
	if middle != 16000 {
		t.Fatalf("middle sample = %d, want untouched 16000", middle)
	}
}

func TestApplyFadeEnvelope_ShortBufferUntouched(t *testing.T) {
	buf := pcmBuffer(fadeSamples, 8000)
	applyFadeEnvelope(buf)
	first := int16(uint16(buf[0]) | uint16(buf[1])<<8)
	if first != 8000 {
		t.Fatalf("short buffer modified: first sample = %d", first)
	}
}

func TestRMSLevel(t *testing.T) {
	if got := RMSLevel(nil); got != 0 {
		t.Fatalf("RMSLevel(nil) = %v", got)
	}
	silence := pcmBuffer(128, 0)
	if got := RMSLevel(silence); got != 0 {
		t.Fatalf("RMSLevel(silence) = %v", got)
	}
	loud := pcmBuffer(128, 32767)
	got := RMSLevel(loud)
	if got < 0.99 || got > 1.0 {
		t.Fatalf("RMSLevel(full scale) = %v, want ~1", got)
	}
	quiet := pcmBuffer(128, 3276)
	if q := RMSLevel(quiet); q >= got || q <= 0 {
		t.Fatalf("RMSLevel(quiet) = %v, want within (0, %v)", q, got)
	}
}
