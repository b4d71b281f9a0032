package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/api/iterator"

	"github.com/voicekit/voicegate/pkg/engine"
	"github.com/voicekit/voicegate/pkg/metrics"
	"github.com/voicekit/voicegate/pkg/pcm"
	"github.com/voicekit/voicegate/pkg/queue"
)

// TTSConfig configures a TTSStream.
type TTSConfig struct {
	// SampleRate of emitted PCM. Required. Audio is resampled from the
	// engine's native rate when they differ.
	SampleRate int

	// SpeakerID selects the voice. Out-of-range ids fall back to 0
	// with a warning rather than failing the stream.
	SpeakerID int

	// Speed scales speaking rate. 0 means 1.0.
	Speed float32

	// ChunkSize is the number of samples per emitted audio chunk.
	// 0 means 1024.
	ChunkSize int

	// Split cuts input text into sentence segments before synthesis.
	Split bool

	// Pause is the silence inserted between segments. 0 means 200ms.
	Pause time.Duration

	// Pool, when set, bounds concurrent synthesis across streams.
	Pool *Pool

	Logger *slog.Logger
}

func (c *TTSConfig) applyDefaults() {
	if c.Speed == 0 {
		c.Speed = 1.0
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 1024
	}
	if c.Pause == 0 {
		c.Pause = 200 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// TTSStream synthesizes queued text into a sequence of PCM chunks.
//
// Each write is split into sentence segments synthesized in order,
// with a short silence between them. Segments that fail or produce no
// audio are logged and skipped; the stream keeps going. After
// CloseSend drains, the stream emits one final summary chunk and then
// iterator.Done.
type TTSStream struct {
	in     *queue.Queue[string]
	out    *queue.Queue[Chunk]
	synth  engine.Synthesizer
	cfg    TTSConfig
	logger *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewTTS creates a stream over the synthesizer and starts its
// processing goroutine.
func NewTTS(synth engine.Synthesizer, cfg TTSConfig) *TTSStream {
	cfg.applyDefaults()
	if cfg.SpeakerID < 0 || cfg.SpeakerID >= synth.NumSpeakers() {
		cfg.Logger.Warn("speaker id out of range, using 0",
			"sid", cfg.SpeakerID, "speakers", synth.NumSpeakers())
		cfg.SpeakerID = 0
	}
	s := &TTSStream{
		in:     queue.New[string](4),
		out:    queue.New[Chunk](16),
		synth:  synth,
		cfg:    cfg,
		logger: cfg.Logger,
	}
	metrics.ActiveStreams.WithLabelValues("tts").Inc()
	go s.run()
	return s
}

// Write queues text for synthesis.
func (s *TTSStream) Write(text string) error {
	return s.in.Put(text)
}

// Read returns the next chunk, blocking until one is available.
func (s *TTSStream) Read() (Chunk, error) {
	return s.out.Next()
}

// CloseSend marks the end of input. Queued text is still synthesized,
// then the final summary chunk is emitted.
func (s *TTSStream) CloseSend() {
	s.in.CloseWrite()
}

// Close tears the stream down. Synthesis already running finishes on
// its own; its frames are discarded. Idempotent.
func (s *TTSStream) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.in.CloseWithError(nil)
	})
}

func (s *TTSStream) run() {
	defer metrics.ActiveStreams.WithLabelValues("tts").Dec()

	var (
		started      time.Time
		totalSamples int
		pending      []float32
	)

	flush := func(progress float32, all bool) {
		for len(pending) >= s.cfg.ChunkSize || (all && len(pending) > 0) {
			n := s.cfg.ChunkSize
			if n > len(pending) {
				n = len(pending)
			}
			chunk := pending[:n]
			pending = pending[n:]
			totalSamples += n
			s.out.Put(Chunk{Audio: pcm.Encode(chunk), Progress: progress})
		}
	}

	for {
		text, err := s.in.Next()
		if err != nil {
			if err == iterator.Done && !s.closed.Load() {
				flush(1, true)
				var elapsed time.Duration
				if !started.IsZero() {
					elapsed = time.Since(started)
				}
				s.out.Put(Chunk{
					Final:    true,
					Progress: 1,
					Elapsed:  elapsed,
					Duration: pcm.Duration(totalSamples, s.cfg.SampleRate),
					Samples:  totalSamples,
				})
				s.out.CloseWrite()
			} else {
				s.out.CloseWithError(nil)
			}
			return
		}
		if started.IsZero() {
			started = time.Now()
		}

		segments := []string{text}
		if s.cfg.Split {
			segments = SplitSentences(text)
		}
		for i, seg := range segments {
			if s.closed.Load() {
				s.out.CloseWithError(nil)
				return
			}
			n, err := s.synthesizeSegment(seg, func(f engine.SynthesisFrame) bool {
				out, rerr := pcm.Resample(f.Samples, f.SampleRate, s.cfg.SampleRate)
				if rerr != nil {
					s.logger.Error("resampling synthesized audio failed", "error", rerr)
					return !s.closed.Load()
				}
				pending = append(pending, out...)
				flush(f.Progress, false)
				return !s.closed.Load()
			})
			if err != nil {
				s.logger.Error("skipping segment after synthesis failure",
					"segment", seg, "error", err)
				continue
			}
			if n == 0 {
				s.logger.Warn("synthesis produced no audio, skipping segment",
					"segment", seg)
				continue
			}
			flush(1, true)
			metrics.SynthesizedAudioSeconds.Add(
				pcm.Duration(n, s.synth.NativeSampleRate()).Seconds())

			if i < len(segments)-1 {
				pending = append(pending, pcm.Silence(s.cfg.Pause, s.cfg.SampleRate)...)
				flush(1, true)
			}
		}
	}
}

// synthesizeSegment runs one blocking engine call, on the pool when
// one is configured, and returns the native sample count it produced.
func (s *TTSStream) synthesizeSegment(seg string, frame func(engine.SynthesisFrame) bool) (int, error) {
	var (
		samples []float32
		err     error
	)
	start := time.Now()
	fn := func() {
		samples, err = s.synth.Synthesize(seg, s.cfg.SpeakerID, s.cfg.Speed, frame)
	}
	if s.cfg.Pool != nil {
		if perr := s.cfg.Pool.Run(context.Background(), fn); perr != nil {
			return 0, perr
		}
	} else {
		fn()
	}
	metrics.SynthesisSeconds.Observe(time.Since(start).Seconds())
	return len(samples), err
}

// Synthesize generates the complete waveform for text without
// streaming, for callers that want a whole file. Segmentation and
// inter-segment pauses match the streaming path. Unlike the stream,
// a segment failure here fails the call.
func Synthesize(synth engine.Synthesizer, cfg TTSConfig, text string) ([]float32, error) {
	cfg.applyDefaults()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = synth.NativeSampleRate()
	}
	if cfg.SpeakerID < 0 || cfg.SpeakerID >= synth.NumSpeakers() {
		cfg.SpeakerID = 0
	}

	segments := []string{text}
	if cfg.Split {
		segments = SplitSentences(text)
	}

	var all []float32
	run := func(fn func()) error {
		if cfg.Pool != nil {
			return cfg.Pool.Run(context.Background(), fn)
		}
		fn()
		return nil
	}
	for i, seg := range segments {
		var (
			samples []float32
			serr    error
		)
		start := time.Now()
		if err := run(func() {
			samples, serr = synth.Synthesize(seg, cfg.SpeakerID, cfg.Speed, discardFrames)
		}); err != nil {
			return nil, err
		}
		metrics.SynthesisSeconds.Observe(time.Since(start).Seconds())
		if serr != nil {
			return nil, fmt.Errorf("synthesize %q: %w", seg, serr)
		}
		if len(samples) == 0 {
			continue
		}
		out, err := pcm.Resample(samples, synth.NativeSampleRate(), cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		all = append(all, out...)
		if i < len(segments)-1 {
			all = append(all, pcm.Silence(cfg.Pause, cfg.SampleRate)...)
		}
	}
	metrics.SynthesizedAudioSeconds.Add(pcm.Duration(len(all), cfg.SampleRate).Seconds())
	return all, nil
}

func discardFrames(engine.SynthesisFrame) bool { return true }
