package stream

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/api/iterator"

	"github.com/voicekit/voicegate/pkg/engine"
	"github.com/voicekit/voicegate/pkg/metrics"
	"github.com/voicekit/voicegate/pkg/pcm"
	"github.com/voicekit/voicegate/pkg/queue"
)

// Annotator names the speaker of a finished utterance from its audio.
// It runs on the stream's processing goroutine, so it should be cheap
// or pooled by the caller.
type Annotator func(sampleRate int, samples []float32) string

// ASRConfig configures an ASRStream.
type ASRConfig struct {
	// SampleRate of incoming PCM frames. Required.
	SampleRate int

	// Annotate, when set, is called with each finished utterance's
	// audio and its result is attached to the final transcript.
	Annotate Annotator

	Logger *slog.Logger
}

// ASRStream feeds PCM frames to a recognizer and emits partial and
// final transcripts.
//
// Malformed frames are dropped with a warning; the stream keeps going.
// An engine error is terminal: Read returns ErrEngineFailure from then
// on.
type ASRStream struct {
	in     *queue.Queue[[]byte]
	out    *queue.Queue[Transcript]
	rec    engine.RecognizerStream
	cfg    ASRConfig
	logger *slog.Logger

	closeOnce sync.Once
}

// NewASR creates a stream over a fresh recognizer state and starts its
// processing goroutine.
func NewASR(r engine.Recognizer, cfg ASRConfig) *ASRStream {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &ASRStream{
		in:     queue.New[[]byte](16),
		out:    queue.New[Transcript](16),
		rec:    r.NewStream(),
		cfg:    cfg,
		logger: logger,
	}
	metrics.ActiveStreams.WithLabelValues("asr").Inc()
	go s.run()
	return s
}

// Write queues one PCM16 frame. It fails once the input is closed.
func (s *ASRStream) Write(frame []byte) error {
	metrics.AudioBytesIn.WithLabelValues("asr").Add(float64(len(frame)))
	return s.in.Put(frame)
}

// Read returns the next transcript, blocking until one is available.
// After CloseSend and a drained queue it returns iterator.Done; after
// an engine error it returns that error forever.
func (s *ASRStream) Read() (Transcript, error) {
	return s.out.Next()
}

// CloseSend marks the end of input. Buffered frames are still
// processed and a trailing final transcript is emitted if the last
// utterance has text.
func (s *ASRStream) CloseSend() {
	s.in.CloseWrite()
}

// Close tears the stream down. Idempotent.
func (s *ASRStream) Close() {
	s.closeOnce.Do(func() {
		s.in.CloseWithError(nil)
	})
}

func (s *ASRStream) run() {
	defer metrics.ActiveStreams.WithLabelValues("asr").Dec()
	defer s.rec.Close()

	var (
		index     int
		lastText  string
		utterance []float32
	)
	emitFinal := func(text string) {
		t := Transcript{Index: index, Text: text, Final: true}
		if s.cfg.Annotate != nil {
			t.Speaker = s.cfg.Annotate(s.cfg.SampleRate, utterance)
		}
		s.out.Put(t)
		metrics.Transcripts.WithLabelValues("true").Inc()
		index++
		lastText = ""
		utterance = utterance[:0]
	}

	for {
		frame, err := s.in.Next()
		if err != nil {
			if err == iterator.Done {
				// Graceful end: flush what the engine still holds.
				for s.rec.Ready() {
					if err := s.rec.Decode(); err != nil {
						s.fail(err)
						return
					}
				}
				if text := s.rec.Text(); text != "" {
					emitFinal(text)
				}
				s.out.CloseWrite()
				return
			}
			// Hard close: discard output side quietly.
			s.out.CloseWrite()
			return
		}

		samples, err := pcm.Decode(frame)
		if err != nil {
			metrics.DroppedFrames.Inc()
			s.logger.Warn("dropping malformed audio frame",
				"bytes", len(frame), "error", err)
			continue
		}
		if s.cfg.Annotate != nil {
			utterance = append(utterance, samples...)
		}

		if err := s.rec.AcceptWaveform(s.cfg.SampleRate, samples); err != nil {
			s.fail(err)
			return
		}
		for s.rec.Ready() {
			if err := s.rec.Decode(); err != nil {
				s.fail(err)
				return
			}
		}

		if s.rec.Endpoint() {
			if text := s.rec.Text(); text != "" {
				emitFinal(text)
			}
			s.rec.Reset()
			continue
		}
		if text := s.rec.Text(); text != "" && text != lastText {
			s.out.Put(Transcript{Index: index, Text: text})
			metrics.Transcripts.WithLabelValues("false").Inc()
			lastText = text
		}
	}
}

func (s *ASRStream) fail(err error) {
	s.logger.Error("recognition failed", "error", err)
	s.out.CloseWithError(fmt.Errorf("%w: %v", ErrEngineFailure, err))
	s.in.CloseWithError(nil)
}

// Transcribe runs the recognizer over a complete recording and returns
// the full text, utterances joined by spaces. Unlike the stream, an
// engine error fails the call.
func Transcribe(r engine.Recognizer, sampleRate int, samples []float32) (string, error) {
	rec := r.NewStream()
	defer rec.Close()

	if err := rec.AcceptWaveform(sampleRate, samples); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}
	var parts []string
	for rec.Ready() {
		if err := rec.Decode(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrEngineFailure, err)
		}
		if rec.Endpoint() {
			if text := rec.Text(); text != "" {
				parts = append(parts, text)
			}
			rec.Reset()
		}
	}
	if text := rec.Text(); text != "" {
		parts = append(parts, text)
	}
	return strings.Join(parts, " "), nil
}
