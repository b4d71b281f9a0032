// Package pcm provides conversion between raw PCM16 byte buffers and
// normalized float32 sample sequences, sample-rate resampling, and a
// minimal WAV container writer.
//
// All audio inside the gateway is mono float32 in [-1.0, 1.0). The wire
// format is signed 16-bit little-endian PCM at a declared sample rate.
package pcm

import (
	"encoding/binary"
	"errors"
	"time"
)

// ErrInvalidFrame is returned when a PCM16 byte buffer has an odd
// length and cannot be interpreted as 16-bit samples.
var ErrInvalidFrame = errors.New("pcm: invalid frame length")

// Decode converts a PCM16 signed little-endian byte buffer into
// normalized float32 samples. The byte length must be a multiple of 2.
func Decode(b []byte) ([]float32, error) {
	if len(b)%2 != 0 {
		return nil, ErrInvalidFrame
	}
	samples := make([]float32, len(b)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(b[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples, nil
}

// Encode converts normalized float32 samples into a PCM16 signed
// little-endian byte buffer. Samples outside [-1.0, 1.0) are clipped to
// the int16 range rather than wrapped: overflow must never flip sign.
func Encode(samples []float32) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(b[i*2:], uint16(int16(v)))
	}
	return b
}

// Duration returns the play time of n samples at the given rate.
func Duration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// SamplesInDuration returns the number of samples in d at the given rate.
func SamplesInDuration(d time.Duration, rate int) int {
	return int(time.Duration(rate) * d / time.Second)
}

// Silence returns a zeroed sample buffer covering d at the given rate.
func Silence(d time.Duration, rate int) []float32 {
	return make([]float32, SamplesInDuration(d, rate))
}
