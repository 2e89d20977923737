package storage

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func groupedPayload(n int) []byte {
	var b strings.Builder
	b.WriteString(`{"groups":[`)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		if i%5 == 0 {
			b.WriteString("null")
			continue
		}
		fmt.Fprintf(&b, `{"value":%g,"day_rate":%g,"night_rate":0}`, float64(i)*0.001, float64(i)*0.001)
	}
	b.WriteString("]}")
	return []byte(b.String())
}

func TestCompressRoundTrip(t *testing.T) {
	for level := 1; level <= 4; level++ {
		comp, err := NewCompressor(level)
		if err != nil {
			t.Fatalf("Failed to create compressor: %v", err)
		}

		payload := groupedPayload(500)
		frame := comp.Compress(payload)

		if frame[0] != frameZstd {
			t.Errorf("Level %d: expected zstd frame for %d bytes", level, len(payload))
		}
		if len(frame) >= len(payload) {
			t.Errorf("Compression ineffective: original=%d, compressed=%d", len(payload), len(frame))
		}

		got, err := comp.Decompress(frame)
		if err != nil {
			t.Fatalf("Decompression failed: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("Level %d: payload mismatch after round trip", level)
		}

		comp.Close()
	}
}

func TestCompressSmallPayloadStaysRaw(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	payload := []byte("null")
	frame := comp.Compress(payload)
	if frame[0] != frameRaw {
		t.Errorf("Expected raw frame, got 0x%02x", frame[0])
	}

	got, err := comp.Decompress(frame)
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}
	if string(got) != "null" {
		t.Errorf("Expected null, got %q", got)
	}
}

func TestDecompressRejectsBadFrames(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	if _, err := comp.Decompress(nil); err == nil {
		t.Error("Expected error for empty frame")
	}
	if _, err := comp.Decompress([]byte{0x7f, 1, 2}); err == nil {
		t.Error("Expected error for unknown frame marker")
	}
	if _, err := comp.Decompress([]byte{frameZstd, 1, 2, 3}); err == nil {
		t.Error("Expected error for corrupt zstd frame")
	}
}

func BenchmarkCompress(b *testing.B) {
	comp, _ := NewCompressor(2)
	defer comp.Close()

	payload := groupedPayload(500)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = comp.Compress(payload)
	}
}
