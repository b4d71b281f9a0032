package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voicekit/voicegate/pkg/engine"
	"github.com/voicekit/voicegate/pkg/metrics"
	"github.com/voicekit/voicegate/pkg/pcm"
	"github.com/voicekit/voicegate/pkg/speaker"
)

// EnrollConfig configures an Enroller.
type EnrollConfig struct {
	// SampleRate of incoming PCM frames. Required.
	SampleRate int

	// MinAudio is the audio required before Commit succeeds. 0 means
	// 5s. Identification needs less; enrollment quality sets the
	// ceiling for every later match, so the bar is higher.
	MinAudio time.Duration

	// Pool, when set, bounds concurrent embedding computation.
	Pool *Pool

	Logger *slog.Logger
}

// Enroller accumulates audio for a speaker enrollment. Unlike the
// streams in this package it is synchronous: the caller owns the
// read loop and decides when to commit.
type Enroller struct {
	enc    engine.SpeakerEncoder
	reg    *speaker.Registry
	cfg    EnrollConfig
	logger *slog.Logger

	buffer []float32
}

// NewEnroller creates an enroller against the registry.
func NewEnroller(enc engine.SpeakerEncoder, reg *speaker.Registry, cfg EnrollConfig) *Enroller {
	if cfg.MinAudio == 0 {
		cfg.MinAudio = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Enroller{enc: enc, reg: reg, cfg: cfg, logger: logger}
}

// Add buffers one PCM16 frame. Malformed frames are dropped with a
// warning and do not advance progress.
func (e *Enroller) Add(frame []byte) {
	samples, err := pcm.Decode(frame)
	if err != nil {
		metrics.DroppedFrames.Inc()
		e.logger.Warn("dropping malformed audio frame",
			"bytes", len(frame), "error", err)
		return
	}
	e.buffer = append(e.buffer, samples...)
}

// Collected returns how much audio has been buffered.
func (e *Enroller) Collected() time.Duration {
	return pcm.Duration(len(e.buffer), e.cfg.SampleRate)
}

// Required returns the minimum audio Commit needs.
func (e *Enroller) Required() time.Duration {
	return e.cfg.MinAudio
}

// Ready reports whether enough audio has been collected to commit.
func (e *Enroller) Ready() bool {
	return e.Collected() >= e.cfg.MinAudio
}

// Commit computes the embedding over everything collected and enrolls
// it under name. It fails if the buffer is still short of MinAudio.
func (e *Enroller) Commit(name string) error {
	if !e.Ready() {
		return fmt.Errorf("stream: enrollment needs %v of audio, have %v",
			e.cfg.MinAudio, e.Collected())
	}

	var (
		embedding []float32
		err       error
	)
	fn := func() {
		embedding, err = e.enc.Encode(e.cfg.SampleRate, e.buffer)
	}
	if e.cfg.Pool != nil {
		if perr := e.cfg.Pool.Run(context.Background(), fn); perr != nil {
			return perr
		}
	} else {
		fn()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}

	if err := e.reg.Enroll(name, embedding); err != nil {
		return err
	}
	metrics.Enrollments.Inc()
	return nil
}
