// Package engine defines the inference engine contracts the gateway
// runs against and a process-wide cache that constructs each engine at
// most once per model.
//
// Engines are opaque: the gateway never inspects model internals. A
// constructed engine is read-only and safe for concurrent use; mutable
// per-utterance state lives in the stream objects created from it.
package engine

import "errors"

// ErrModelUnavailable indicates that an engine could not be
// constructed for the requested model. Construction failures are never
// cached; a later request for the same model retries from scratch.
var ErrModelUnavailable = errors.New("engine: model unavailable")

// ModelConfig identifies and locates a model.
type ModelConfig struct {
	// ID names the model, e.g. "zipformer-streaming" or
	// "nemo-speakernet". It is the cache key.
	ID string

	// Dir is the directory holding the model artifacts.
	Dir string

	// SampleRate is the rate the model consumes or produces.
	SampleRate int

	// Options carries engine-specific tuning knobs.
	Options map[string]string
}

// Recognizer converts speech to text. One Recognizer serves many
// concurrent utterances through independent streams.
type Recognizer interface {
	// NewStream creates a fresh recognition stream with empty state.
	NewStream() RecognizerStream
}

// RecognizerStream is the mutable per-utterance state of a Recognizer.
// It is confined to a single goroutine.
type RecognizerStream interface {
	// AcceptWaveform feeds samples at the given rate into the stream.
	AcceptWaveform(sampleRate int, samples []float32) error

	// Decode runs pending inference. It must be called until Ready
	// reports false before blocking for more input.
	Decode() error

	// Ready reports whether buffered audio awaits decoding.
	Ready() bool

	// Text returns the transcript accumulated so far.
	Text() string

	// Endpoint reports whether the stream has detected an utterance
	// boundary. Reset clears it along with the transcript.
	Endpoint() bool
	Reset()

	// Close releases stream resources.
	Close() error
}

// SynthesisFrame is one batch of generated audio pushed to the caller
// during synthesis.
type SynthesisFrame struct {
	Samples    []float32
	SampleRate int
	Progress   float32
}

// Synthesizer converts text to speech.
type Synthesizer interface {
	// NativeSampleRate returns the rate the model generates at.
	NativeSampleRate() int

	// NumSpeakers returns the number of voices the model offers.
	NumSpeakers() int

	// Synthesize generates audio for text using the given voice and
	// speed. Audio is delivered incrementally through frame; returning
	// false from frame stops generation early. The full waveform is
	// also returned for non-streaming callers.
	Synthesize(text string, speakerID int, speed float32, frame func(SynthesisFrame) bool) ([]float32, error)
}

// SpeakerEncoder maps a complete utterance to a fixed-size voiceprint
// embedding.
type SpeakerEncoder interface {
	// Dimension returns the embedding length this model produces.
	Dimension() int

	// Encode computes the embedding of samples at the given rate.
	Encode(sampleRate int, samples []float32) ([]float32, error)
}

// Factory constructs engines from model configuration. Implementations
// wrap construction failures with ErrModelUnavailable.
type Factory interface {
	NewRecognizer(cfg ModelConfig) (Recognizer, error)
	NewSynthesizer(cfg ModelConfig) (Synthesizer, error)
	NewSpeakerEncoder(cfg ModelConfig) (SpeakerEncoder, error)
}
