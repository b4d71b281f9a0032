// Package sherpa implements the engine factory on sherpa-onnx, running
// speech models locally through onnxruntime.
//
// Model directories follow the upstream layout: a streaming transducer
// ships encoder.onnx/decoder.onnx/joiner.onnx plus tokens.txt, a VITS
// voice ships model.onnx/lexicon.txt/tokens.txt, and a speaker encoder
// is a single model.onnx. Paths can be overridden per model through
// ModelConfig.Options.
package sherpa

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/voicekit/voicegate/pkg/engine"
)

// Factory builds sherpa-onnx backed engines.
type Factory struct {
	// Threads per inference session. 0 means min(4, NumCPU).
	Threads int
}

func (f *Factory) threads() int {
	if f.Threads > 0 {
		return f.Threads
	}
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	return n
}

func opt(cfg engine.ModelConfig, key, def string) string {
	if v, ok := cfg.Options[key]; ok {
		return v
	}
	return filepath.Join(cfg.Dir, def)
}

func optFloat(cfg engine.ModelConfig, key string, def float32) float32 {
	if v, ok := cfg.Options[key]; ok {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return def
}

// NewRecognizer loads a streaming transducer model.
func (f *Factory) NewRecognizer(cfg engine.ModelConfig) (engine.Recognizer, error) {
	rate := cfg.SampleRate
	if rate == 0 {
		rate = 16000
	}
	c := sherpa.OnlineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{SampleRate: rate, FeatureDim: 80},
		ModelConfig: sherpa.OnlineModelConfig{
			Transducer: sherpa.OnlineTransducerModelConfig{
				Encoder: opt(cfg, "encoder", "encoder.onnx"),
				Decoder: opt(cfg, "decoder", "decoder.onnx"),
				Joiner:  opt(cfg, "joiner", "joiner.onnx"),
			},
			Tokens:     opt(cfg, "tokens", "tokens.txt"),
			NumThreads: f.threads(),
			Provider:   "cpu",
		},
		DecodingMethod:          "greedy_search",
		EnableEndpoint:          1,
		Rule1MinTrailingSilence: optFloat(cfg, "rule1_trailing_silence", 2.4),
		Rule2MinTrailingSilence: optFloat(cfg, "rule2_trailing_silence", 1.2),
		Rule3MinUtteranceLength: optFloat(cfg, "rule3_utterance_length", 20),
	}
	r := sherpa.NewOnlineRecognizer(&c)
	if r == nil {
		return nil, fmt.Errorf("load recognizer %q from %s failed", cfg.ID, cfg.Dir)
	}
	return &recognizer{r: r}, nil
}

type recognizer struct {
	r *sherpa.OnlineRecognizer
}

func (r *recognizer) NewStream() engine.RecognizerStream {
	return &recognizerStream{r: r.r, s: sherpa.NewOnlineStream(r.r)}
}

type recognizerStream struct {
	r *sherpa.OnlineRecognizer
	s *sherpa.OnlineStream
}

func (s *recognizerStream) AcceptWaveform(sampleRate int, samples []float32) error {
	s.s.AcceptWaveform(sampleRate, samples)
	return nil
}

func (s *recognizerStream) Ready() bool   { return s.r.IsReady(s.s) }
func (s *recognizerStream) Decode() error { s.r.Decode(s.s); return nil }

func (s *recognizerStream) Text() string {
	return s.r.GetResult(s.s).Text
}

func (s *recognizerStream) Endpoint() bool { return s.r.IsEndpoint(s.s) }
func (s *recognizerStream) Reset()         { s.r.Reset(s.s) }

func (s *recognizerStream) Close() error {
	sherpa.DeleteOnlineStream(s.s)
	return nil
}

// NewSynthesizer loads a VITS voice.
func (f *Factory) NewSynthesizer(cfg engine.ModelConfig) (engine.Synthesizer, error) {
	c := sherpa.OfflineTtsConfig{
		Model: sherpa.OfflineTtsModelConfig{
			Vits: sherpa.OfflineTtsVitsModelConfig{
				Model:       opt(cfg, "model", "model.onnx"),
				Lexicon:     opt(cfg, "lexicon", "lexicon.txt"),
				Tokens:      opt(cfg, "tokens", "tokens.txt"),
				NoiseScale:  optFloat(cfg, "noise_scale", 0.667),
				NoiseScaleW: optFloat(cfg, "noise_scale_w", 0.8),
				LengthScale: optFloat(cfg, "length_scale", 1.0),
			},
			NumThreads: f.threads(),
			Provider:   "cpu",
		},
	}
	t := sherpa.NewOfflineTts(&c)
	if t == nil {
		return nil, fmt.Errorf("load synthesizer %q from %s failed", cfg.ID, cfg.Dir)
	}
	return &synthesizer{t: t}, nil
}

type synthesizer struct {
	t *sherpa.OfflineTts
}

func (s *synthesizer) NativeSampleRate() int { return s.t.SampleRate() }
func (s *synthesizer) NumSpeakers() int      { return s.t.NumSpeakers() }

func (s *synthesizer) Synthesize(text string, speakerID int, speed float32, frame func(engine.SynthesisFrame) bool) ([]float32, error) {
	audio := s.t.Generate(text, speakerID, speed)
	if audio == nil {
		return nil, fmt.Errorf("generate failed for %q", text)
	}
	if frame != nil && len(audio.Samples) > 0 {
		frame(engine.SynthesisFrame{
			Samples:    audio.Samples,
			SampleRate: audio.SampleRate,
			Progress:   1,
		})
	}
	return audio.Samples, nil
}

// NewSpeakerEncoder loads a speaker embedding model.
func (f *Factory) NewSpeakerEncoder(cfg engine.ModelConfig) (engine.SpeakerEncoder, error) {
	c := sherpa.SpeakerEmbeddingExtractorConfig{
		Model:      opt(cfg, "model", "model.onnx"),
		NumThreads: f.threads(),
		Provider:   "cpu",
	}
	e := sherpa.NewSpeakerEmbeddingExtractor(&c)
	if e == nil {
		return nil, fmt.Errorf("load speaker encoder %q from %s failed", cfg.ID, cfg.Dir)
	}
	return &speakerEncoder{e: e}, nil
}

type speakerEncoder struct {
	e *sherpa.SpeakerEmbeddingExtractor
}

func (s *speakerEncoder) Dimension() int { return s.e.Dim() }

func (s *speakerEncoder) Encode(sampleRate int, samples []float32) ([]float32, error) {
	st := s.e.CreateStream()
	defer sherpa.DeleteOnlineStream(st)

	st.AcceptWaveform(sampleRate, samples)
	st.InputFinished()
	if !s.e.IsReady(st) {
		return nil, fmt.Errorf("not enough audio for an embedding: %d samples", len(samples))
	}
	embedding := s.e.Compute(st)
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding computation failed")
	}
	return embedding, nil
}
