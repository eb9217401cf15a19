package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Audio is PCM signed 16-bit little-endian mono throughout the relay.
const bytesPerSample = 2

// FrameRMS is the root mean square of a PCM16 frame. A trailing odd byte is
// ignored.
func FrameRMS(frame []byte) float64 {
	n := len(frame) / bytesPerSample
	if n == 0 {
		return 0.0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i*bytesPerSample:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Duration returns how long n bytes of audio last at sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// BytesFor returns the byte length of d at sampleRate, rounded down to a
// whole sample.
func BytesFor(d time.Duration, sampleRate int) int {
	samples := int(d * time.Duration(sampleRate) / time.Second)
	return samples * bytesPerSample
}
