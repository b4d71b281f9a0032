// Package enginetest provides deterministic in-memory engines for
// exercising stream and session code without real models.
package enginetest

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicekit/voicegate/pkg/engine"
)

// Recognizer is a fake engine.Recognizer. Each stream turns every
// SamplesPerToken buffered samples into one token "tok<n>", and
// reports an endpoint once EndpointAfter tokens have accumulated.
type Recognizer struct {
	SamplesPerToken int // default 1600
	EndpointAfter   int // tokens per utterance; 0 means never

	// FailAccept makes every AcceptWaveform on new streams error.
	FailAccept bool
}

func (r *Recognizer) NewStream() engine.RecognizerStream {
	spt := r.SamplesPerToken
	if spt == 0 {
		spt = 1600
	}
	return &recognizerStream{
		samplesPerToken: spt,
		endpointAfter:   r.EndpointAfter,
		failAccept:      r.FailAccept,
	}
}

type recognizerStream struct {
	samplesPerToken int
	endpointAfter   int
	failAccept      bool

	pending int
	tokens  int
	total   int
	text    string
	closed  bool
}

func (s *recognizerStream) AcceptWaveform(sampleRate int, samples []float32) error {
	if s.closed {
		return errors.New("enginetest: stream closed")
	}
	if s.failAccept {
		return errors.New("enginetest: accept failed")
	}
	s.pending += len(samples)
	return nil
}

func (s *recognizerStream) Ready() bool {
	return s.pending >= s.samplesPerToken
}

func (s *recognizerStream) Decode() error {
	if !s.Ready() {
		return nil
	}
	s.pending -= s.samplesPerToken
	s.tokens++
	s.total++
	if s.text != "" {
		s.text += " "
	}
	s.text += fmt.Sprintf("tok%d", s.total)
	return nil
}

func (s *recognizerStream) Text() string { return s.text }

func (s *recognizerStream) Endpoint() bool {
	return s.endpointAfter > 0 && s.tokens >= s.endpointAfter
}

func (s *recognizerStream) Reset() {
	s.tokens = 0
	s.text = ""
}

func (s *recognizerStream) Close() error {
	s.closed = true
	return nil
}

// Synthesizer is a fake engine.Synthesizer generating SamplesPerRune
// constant-valued samples per input rune, delivered in FrameSize
// batches. Texts listed in FailOn produce an error; texts in EmptyOn
// produce zero samples.
type Synthesizer struct {
	SampleRate     int // default 22050
	Speakers       int // default 1
	SamplesPerRune int // default 100
	FrameSize      int // default 512
	FailOn         map[string]bool
	EmptyOn        map[string]bool

	mu    sync.Mutex
	calls []string
}

func (s *Synthesizer) NativeSampleRate() int {
	if s.SampleRate == 0 {
		return 22050
	}
	return s.SampleRate
}

func (s *Synthesizer) NumSpeakers() int {
	if s.Speakers == 0 {
		return 1
	}
	return s.Speakers
}

// Calls returns the texts synthesized so far, in order.
func (s *Synthesizer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Synthesizer) Synthesize(text string, speakerID int, speed float32, frame func(engine.SynthesisFrame) bool) ([]float32, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()

	if s.FailOn[text] {
		return nil, errors.New("enginetest: synthesis failed")
	}
	if s.EmptyOn[text] {
		return nil, nil
	}

	spr := s.SamplesPerRune
	if spr == 0 {
		spr = 100
	}
	fs := s.FrameSize
	if fs == 0 {
		fs = 512
	}

	n := len([]rune(text)) * spr
	all := make([]float32, n)
	for i := range all {
		all[i] = 0.1
	}
	for off := 0; off < n; off += fs {
		end := off + fs
		if end > n {
			end = n
		}
		ok := frame(engine.SynthesisFrame{
			Samples:    all[off:end],
			SampleRate: s.NativeSampleRate(),
			Progress:   float32(end) / float32(n),
		})
		if !ok {
			break
		}
	}
	return all, nil
}

// Encoder is a fake engine.SpeakerEncoder. Embed, when set, computes
// the embedding; otherwise Encode returns a unit vector on the first
// axis scaled by nothing, i.e. e1.
type Encoder struct {
	Dim   int // default 4
	Embed func(samples []float32) []float32

	// Err, when set, makes every Encode fail.
	Err error
}

func (e *Encoder) Dimension() int {
	if e.Dim == 0 {
		return 4
	}
	return e.Dim
}

func (e *Encoder) Encode(sampleRate int, samples []float32) ([]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Embed != nil {
		return e.Embed(samples), nil
	}
	v := make([]float32, e.Dimension())
	v[0] = 1
	return v, nil
}

// Factory is a fake engine.Factory that counts constructions and can
// be made slow or failing per kind. The zero value works.
type Factory struct {
	Recognizer *Recognizer
	Synth      *Synthesizer
	Encoder    *Encoder

	// Delay stalls every construction, exposing races in callers that
	// should coalesce concurrent requests.
	Delay time.Duration

	// FailASR, FailTTS, FailSpeaker make the respective constructor
	// return an error every time.
	FailASR, FailTTS, FailSpeaker bool

	ASRBuilds, TTSBuilds, SpeakerBuilds atomic.Int64
}

func (f *Factory) NewRecognizer(cfg engine.ModelConfig) (engine.Recognizer, error) {
	f.ASRBuilds.Add(1)
	time.Sleep(f.Delay)
	if f.FailASR {
		return nil, errors.New("enginetest: recognizer load failed")
	}
	if f.Recognizer != nil {
		return f.Recognizer, nil
	}
	return &Recognizer{}, nil
}

func (f *Factory) NewSynthesizer(cfg engine.ModelConfig) (engine.Synthesizer, error) {
	f.TTSBuilds.Add(1)
	time.Sleep(f.Delay)
	if f.FailTTS {
		return nil, errors.New("enginetest: synthesizer load failed")
	}
	if f.Synth != nil {
		return f.Synth, nil
	}
	return &Synthesizer{}, nil
}

func (f *Factory) NewSpeakerEncoder(cfg engine.ModelConfig) (engine.SpeakerEncoder, error) {
	f.SpeakerBuilds.Add(1)
	time.Sleep(f.Delay)
	if f.FailSpeaker {
		return nil, errors.New("enginetest: encoder load failed")
	}
	if f.Encoder != nil {
		return f.Encoder, nil
	}
	return &Encoder{}, nil
}
