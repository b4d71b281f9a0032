package pcm

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts samples from one sample rate to another. It is a
// no-op when the rates are equal. The output length is always
// round(len(samples) * to / from) regardless of the resampler's
// internal filter delay, so callers can rely on deterministic framing.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("pcm: invalid sample rate %d -> %d", from, to)
	}
	if from == to {
		return samples, nil
	}
	want := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	if len(samples) == 0 {
		return nil, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("pcm: create resampler: %w", err)
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}

	out, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("pcm: resample: %w", err)
	}

	// The polyphase filter holds back a few samples of delay. Flush it
	// with silence until the deterministic length is reached.
	flush := make([]float64, 256)
	for len(out) < want {
		more, err := r.Process(flush)
		if err != nil {
			return nil, fmt.Errorf("pcm: resample flush: %w", err)
		}
		if len(more) == 0 {
			break
		}
		out = append(out, more...)
	}

	result := make([]float32, want)
	for i := 0; i < want && i < len(out); i++ {
		result[i] = float32(out[i])
	}
	return result, nil
}
