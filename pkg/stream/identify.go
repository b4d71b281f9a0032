package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/api/iterator"

	"github.com/voicekit/voicegate/pkg/engine"
	"github.com/voicekit/voicegate/pkg/metrics"
	"github.com/voicekit/voicegate/pkg/pcm"
	"github.com/voicekit/voicegate/pkg/queue"
	"github.com/voicekit/voicegate/pkg/speaker"
)

// SpeakerConfig configures a SpeakerStream.
type SpeakerConfig struct {
	// SampleRate of incoming PCM frames. Required.
	SampleRate int

	// Window is the minimum audio collected before an identification
	// runs. 0 means 3s. Shorter buffers never produce a verdict.
	Window time.Duration

	// Pool, when set, bounds concurrent embedding computation.
	Pool *Pool

	Logger *slog.Logger
}

// SpeakerStream accumulates audio and emits one identification verdict
// per filled window. The buffer is cleared after each verdict, so
// consecutive verdicts never share audio. A partial window left at
// close is discarded, never scored.
type SpeakerStream struct {
	in     *queue.Queue[[]byte]
	out    *queue.Queue[speaker.Verdict]
	enc    engine.SpeakerEncoder
	reg    *speaker.Registry
	cfg    SpeakerConfig
	logger *slog.Logger

	closeOnce sync.Once
}

// NewSpeaker creates an identification stream against the registry and
// starts its processing goroutine.
func NewSpeaker(enc engine.SpeakerEncoder, reg *speaker.Registry, cfg SpeakerConfig) *SpeakerStream {
	if cfg.Window == 0 {
		cfg.Window = 3 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &SpeakerStream{
		in:     queue.New[[]byte](16),
		out:    queue.New[speaker.Verdict](4),
		enc:    enc,
		reg:    reg,
		cfg:    cfg,
		logger: logger,
	}
	metrics.ActiveStreams.WithLabelValues("speaker").Inc()
	go s.run()
	return s
}

// Write queues one PCM16 frame.
func (s *SpeakerStream) Write(frame []byte) error {
	metrics.AudioBytesIn.WithLabelValues("speaker").Add(float64(len(frame)))
	return s.in.Put(frame)
}

// Read returns the next verdict, blocking until a window fills.
func (s *SpeakerStream) Read() (speaker.Verdict, error) {
	return s.out.Next()
}

// CloseSend marks the end of input. Any partial window is discarded.
func (s *SpeakerStream) CloseSend() {
	s.in.CloseWrite()
}

// Close tears the stream down and releases the buffer. Idempotent.
func (s *SpeakerStream) Close() {
	s.closeOnce.Do(func() {
		s.in.CloseWithError(nil)
	})
}

func (s *SpeakerStream) run() {
	defer metrics.ActiveStreams.WithLabelValues("speaker").Dec()

	minSamples := pcm.SamplesInDuration(s.cfg.Window, s.cfg.SampleRate)
	var buffer []float32

	for {
		frame, err := s.in.Next()
		if err != nil {
			if err == iterator.Done {
				s.out.CloseWrite()
			} else {
				s.out.CloseWithError(nil)
			}
			return
		}

		samples, err := pcm.Decode(frame)
		if err != nil {
			metrics.DroppedFrames.Inc()
			s.logger.Warn("dropping malformed audio frame",
				"bytes", len(frame), "error", err)
			continue
		}
		buffer = append(buffer, samples...)
		if len(buffer) < minSamples {
			continue
		}

		embedding, err := s.encode(buffer)
		buffer = nil
		if err != nil {
			s.logger.Error("speaker embedding failed", "error", err)
			s.out.CloseWithError(fmt.Errorf("%w: %v", ErrEngineFailure, err))
			s.in.CloseWithError(nil)
			return
		}

		verdict := s.reg.Search(embedding)
		outcome := "match"
		if verdict.Name == speaker.Unknown {
			outcome = "unknown"
		}
		metrics.Identifications.WithLabelValues(outcome).Inc()
		s.out.Put(verdict)
	}
}

func (s *SpeakerStream) encode(samples []float32) ([]float32, error) {
	var (
		embedding []float32
		err       error
	)
	fn := func() {
		embedding, err = s.enc.Encode(s.cfg.SampleRate, samples)
	}
	if s.cfg.Pool != nil {
		if perr := s.cfg.Pool.Run(context.Background(), fn); perr != nil {
			return nil, perr
		}
	} else {
		fn()
	}
	return embedding, err
}
