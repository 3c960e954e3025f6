package random

import (
	"testing"
)

func TestTransactionID(t *testing.T) {
	seen := make(map[uint16]bool)
	const iterations = 10000

	for i := 0; i < iterations; i++ {
		id := TransactionID()
		seen[id] = true
	}

	uniqueCount := len(seen)
	if uniqueCount < iterations*9/10 {
		t.Errorf("too many collisions: got %d unique IDs from %d iterations", uniqueCount, iterations)
	}
}

func TestSourcePort(t *testing.T) {
	const (
		minPort = 32768
		maxPort = 61000
	)

	for i := 0; i < 1000; i++ {
		port := SourcePort()

		if port < minPort || port >= maxPort {
			t.Errorf("port %d out of range [%d, %d)", port, minPort, maxPort)
		}
	}
}

func TestSourcePort_Distribution(t *testing.T) {
	const iterations = 10000
	buckets := make(map[int]int)

	for i := 0; i < iterations; i++ {
		port := SourcePort()
		bucket := (int(port) - 32768) / 2824
		buckets[bucket]++
	}

	expectedPerBucket := iterations / 10
	minExpected := expectedPerBucket * 8 / 10
	maxExpected := expectedPerBucket * 12 / 10

	for bucket, count := range buckets {
		if count < minExpected || count > maxExpected {
			t.Errorf("bucket %d has %d samples, expected ~%d", bucket, count, expectedPerBucket)
		}
	}
}

func TestBool_BothOutcomes(t *testing.T) {
	seenTrue, seenFalse := false, false
	for i := 0; i < 1000 && !(seenTrue && seenFalse); i++ {
		if Bool() {
			seenTrue = true
		} else {
			seenFalse = true
		}
	}
	if !seenTrue || !seenFalse {
		t.Error("Bool() should produce both true and false over many samples")
	}
}

func TestBitsLength(t *testing.T) {
	for _, n := range []int{0, 1, 16, 255} {
		if got := len(Bits(n)); got != n {
			t.Errorf("Bits(%d) returned %d bytes", n, got)
		}
	}
}

func BenchmarkTransactionID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		TransactionID()
	}
}

func BenchmarkSourcePort(b *testing.B) {
	for i := 0; i < b.N; i++ {
		SourcePort()
	}
}
