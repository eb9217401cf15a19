package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

// pcm16 encodes samples as little-endian PCM16.
func pcm16(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return data
}

func TestFrameRMS(t *testing.T) {
	samples := []int16{1000, -1000, 2000, -2000}
	expected := math.Sqrt((1000000 + 1000000 + 4000000 + 4000000) / 4.0)

	if rms := FrameRMS(pcm16(samples)); math.Abs(rms-expected) > 0.1 {
		t.Errorf("Expected frame RMS %.2f, got %.2f", expected, rms)
	}
	if rms := FrameRMS(append(pcm16([]int16{32767, -32768}), 0x01)); math.Abs(rms-32767.5) > 0.1 {
		t.Errorf("Expected trailing byte to be ignored, got %.2f", rms)
	}
	if rms := FrameRMS(nil); rms != 0.0 {
		t.Errorf("Expected RMS 0.0 for an empty frame, got %.2f", rms)
	}
	if rms := FrameRMS([]byte{1}); rms != 0.0 {
		t.Errorf("Expected RMS 0.0 for a partial sample, got %.2f", rms)
	}
}

func TestDurationAndBytes(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int
		rate     int
		expected time.Duration
	}{
		{"one second at 16kHz", 32000, 16000, time.Second},
		{"20ms at 16kHz", 640, 16000, 20 * time.Millisecond},
		{"odd byte ignored", 641, 16000, 20 * time.Millisecond},
		{"zero rate", 640, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Duration(tt.bytes, tt.rate); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}

	if got := BytesFor(500*time.Millisecond, 16000); got != 16000 {
		t.Errorf("Expected 16000 bytes for 500ms, got %d", got)
	}
}
