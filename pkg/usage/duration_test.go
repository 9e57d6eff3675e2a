package usage

import "testing"

func TestBytesToMS(t *testing.T) {
	tests := []struct {
		bytes      int64
		sampleRate int
		want       int64
	}{
		{48000, 24000, 1000}, // 1s at 24kHz mono 16-bit
		{16000, 8000, 1000},  // 1s narrowband
		{4800, 24000, 100},
		{0, 24000, 0},
		{100, 0, 0},
	}
	for _, tt := range tests {
		if got := BytesToMS(tt.bytes, tt.sampleRate); got != tt.want {
			t.Fatalf("BytesToMS(%d, %d) = %d, want %d", tt.bytes, tt.sampleRate, got, tt.want)
		}
	}
}

func TestDurationAccumulator_ByteEstimate(t *testing.T) {
	var acc DurationAccumulator
	acc.AddOutputBytes(4800, 24000)
	acc.AddOutputBytes(4800, 24000)
	if got := acc.OutputMS(); got != 200 {
		t.Fatalf("OutputMS() = %d, want 200", got)
	}
}

func TestDurationAccumulator_TimestampSupersedesBytes(t *testing.T) {
	var acc DurationAccumulator
	acc.AddOutputBytes(4800, 24000) // 100ms floor
	acc.ObserveTimestamp(0, 250)
	if got := acc.OutputMS(); got != 250 {
		t.Fatalf("OutputMS() = %d, want timestamp 250", got)
	}

	// A timestamp below the byte estimate never shrinks the total.
	acc2 := DurationAccumulator{}
	acc2.AddOutputBytes(48000, 24000) // 1000ms
	acc2.ObserveTimestamp(0, 400)
	if got := acc2.OutputMS(); got != 1000 {
		t.Fatalf("OutputMS() = %d, want byte floor 1000", got)
	}
}

func TestDurationAccumulator_TimestampMonotonic(t *testing.T) {
	var acc DurationAccumulator
	acc.ObserveTimestamp(0, 300)
	acc.ObserveTimestamp(100, 100) // end=200, earlier than 300
	if got := acc.OutputMS(); got != 300 {
		t.Fatalf("OutputMS() = %d, want 300", got)
	}
	acc.ObserveTimestamp(300, 200)
	if got := acc.OutputMS(); got != 500 {
		t.Fatalf("OutputMS() = %d, want 500", got)
	}
}

func TestDurationAccumulator_FinishResponseCommits(t *testing.T) {
	var acc DurationAccumulator
	acc.AddOutputBytes(4800, 24000)
	acc.ObserveTimestamp(0, 150)
	acc.FinishResponse()

	// Next response starts from a clean per-response state.
	acc.AddOutputBytes(4800, 24000)
	if got := acc.OutputMS(); got != 250 {
		t.Fatalf("OutputMS() = %d, want 150+100", got)
	}
}

func TestDurationAccumulator_InputIndependent(t *testing.T) {
	var acc DurationAccumulator
	acc.AddInputBytes(48000, 24000)
	acc.AddOutputBytes(4800, 24000)
	if got := acc.InputMS(); got != 1000 {
		t.Fatalf("InputMS() = %d, want 1000", got)
	}
	acc.Reset()
	if acc.InputMS() != 0 || acc.OutputMS() != 0 {
		t.Fatal("reset should clear both totals")
	}
}
