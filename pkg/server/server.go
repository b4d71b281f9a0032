// Package server exposes the gateway over HTTP: websocket endpoints
// for the streaming pipelines, a REST surface for one-shot synthesis
// and speaker management, and the usual health and metrics handlers.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicekit/voicegate/pkg/config"
	"github.com/voicekit/voicegate/pkg/engine"
	"github.com/voicekit/voicegate/pkg/pcm"
	"github.com/voicekit/voicegate/pkg/speaker"
	"github.com/voicekit/voicegate/pkg/stream"
)

// errBadRequest marks failures caused by the request body rather than
// the server.
var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Server wires the engine cache, speaker registry, and worker pool to
// the HTTP surface.
type Server struct {
	cfg      *config.Config
	cache    *engine.Cache
	registry *speaker.Registry
	pool     *stream.Pool
	logger   *slog.Logger
	upgrader websocket.Upgrader

	asrReady, ttsReady, spkReady atomic.Bool
}

// New creates a server. The registry may be nil when speaker features
// are disabled.
func New(cfg *config.Config, cache *engine.Cache, registry *speaker.Registry, pool *stream.Pool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		cache:    cache,
		registry: registry,
		pool:     pool,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/asr", s.handleASR)
	mux.HandleFunc("/tts", s.handleTTS)
	mux.HandleFunc("/speaker_id", s.handleSpeakerID)
	mux.HandleFunc("/speaker_register", s.handleSpeakerRegister)
	mux.HandleFunc("POST /process/audio", s.handleProcessAudio)
	mux.HandleFunc("POST /process/base64", s.handleProcessBase64)
	mux.HandleFunc("GET /speakers", s.handleListSpeakers)
	mux.HandleFunc("POST /speakers/register", s.handleRegisterSpeaker)
	mux.HandleFunc("DELETE /speakers/{name}", s.handleDeleteSpeaker)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Warmup constructs every configured engine so the first connection
// does not pay model load time. Failures are logged, not fatal: the
// affected pipeline reports unready until a later request succeeds.
func (s *Server) Warmup() {
	if _, err := s.cache.Recognizer(s.modelConfig(s.cfg.Models.ASR)); err != nil {
		s.logger.Error("recognizer warmup failed", "error", err)
	} else {
		s.asrReady.Store(true)
	}
	if _, err := s.cache.Synthesizer(s.modelConfig(s.cfg.Models.TTS)); err != nil {
		s.logger.Error("synthesizer warmup failed", "error", err)
	} else {
		s.ttsReady.Store(true)
	}
	if _, err := s.cache.SpeakerEncoder(s.modelConfig(s.cfg.Models.Speaker)); err != nil {
		s.logger.Error("speaker encoder warmup failed", "error", err)
	} else {
		s.spkReady.Store(true)
	}
}

func (s *Server) modelConfig(id string) engine.ModelConfig {
	return engine.ModelConfig{
		ID:         id,
		Dir:        filepath.Join(s.cfg.Models.Root, id),
		SampleRate: s.cfg.Audio.SampleRate,
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]bool{
		"asr":     s.asrReady.Load(),
		"tts":     s.ttsReady.Load(),
		"speaker": s.spkReady.Load(),
	}
	code := http.StatusOK
	for _, ok := range status {
		if !ok {
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, status)
}

func (s *Server) handleListSpeakers(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		httpError(w, http.StatusServiceUnavailable, "speaker registry disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"speakers": s.registry.List()})
}

// handleRegisterSpeaker enrolls from a precomputed embedding or, when
// audio_base64 is given instead, from raw PCM16 the encoder turns into
// one.
func (s *Server) handleRegisterSpeaker(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		httpError(w, http.StatusServiceUnavailable, "speaker registry disabled")
		return
	}
	var req struct {
		Name        string    `json:"name"`
		Embedding   []float32 `json:"embedding"`
		AudioBase64 string    `json:"audio_base64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Name == "" {
		httpError(w, http.StatusBadRequest, "name is required")
		return
	}
	embedding := req.Embedding
	if len(embedding) == 0 {
		if req.AudioBase64 == "" {
			httpError(w, http.StatusBadRequest, "either embedding or audio_base64 is required")
			return
		}
		var err error
		embedding, err = s.embedAudio(r.Context(), req.AudioBase64)
		if err != nil {
			httpError(w, statusFor(err), err.Error())
			return
		}
	}
	if err := s.registry.Enroll(req.Name, embedding); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered", "speaker": req.Name})
}

// embedAudio decodes base64 PCM16 and computes its speaker embedding
// on the worker pool. The enrollment minimum applies, same as the
// websocket path.
func (s *Server) embedAudio(ctx context.Context, audioBase64 string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 audio: %v", errBadRequest, err)
	}
	samples, err := pcm.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid PCM16 audio: %v", errBadRequest, err)
	}
	min := pcm.SamplesInDuration(s.cfg.Identify.EnrollWindow(), s.cfg.Audio.SampleRate)
	if len(samples) < min {
		return nil, fmt.Errorf("%w: not enough audio for enrollment: got %d samples, need %d",
			errBadRequest, len(samples), min)
	}

	enc, err := s.cache.SpeakerEncoder(s.modelConfig(s.cfg.Models.Speaker))
	if err != nil {
		return nil, err
	}
	s.spkReady.Store(true)

	var (
		embedding []float32
		encErr    error
	)
	if err := s.pool.Run(ctx, func() {
		embedding, encErr = enc.Encode(s.cfg.Audio.SampleRate, samples)
	}); err != nil {
		return nil, err
	}
	if encErr != nil {
		return nil, encErr
	}
	return embedding, nil
}

func (s *Server) handleDeleteSpeaker(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		httpError(w, http.StatusServiceUnavailable, "speaker registry disabled")
		return
	}
	name := r.PathValue("name")
	ok, err := s.registry.Delete(name)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		httpError(w, http.StatusNotFound, fmt.Sprintf("speaker %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "speaker": name})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
