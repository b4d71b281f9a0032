package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicekit/voicegate/pkg/metrics"
	"github.com/voicekit/voicegate/pkg/pcm"
	"github.com/voicekit/voicegate/pkg/session"
	"github.com/voicekit/voicegate/pkg/stream"
)

// handleTTS serves both synthesis surfaces on one path: a websocket
// upgrade streams chunks, a plain POST returns a complete WAV file.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleTTSStream(w, r)
		return
	}
	if r.Method == http.MethodPost {
		s.handleTTSOnce(w, r)
		return
	}
	httpError(w, http.StatusMethodNotAllowed, "POST or websocket upgrade required")
}

func (s *Server) ttsConfig(r *http.Request) stream.TTSConfig {
	return stream.TTSConfig{
		SampleRate: s.queryInt(r, "samplerate", s.cfg.Audio.SampleRate),
		SpeakerID:  s.queryInt(r, "sid", 0),
		Speed:      s.queryFloat(r, "speed", s.cfg.Synthesis.Speed),
		ChunkSize:  s.queryInt(r, "chunk_size", s.cfg.Audio.ChunkSize),
		Split:      s.queryBool(r, "split", *s.cfg.Synthesis.Split),
		Pause:      s.cfg.Synthesis.Pause(),
		Pool:       s.pool,
	}
}

func (s *Server) handleTTSStream(w http.ResponseWriter, r *http.Request) {
	cfg := s.ttsConfig(r)
	interrupt := s.queryBool(r, "interrupt", true)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := s.logger.With("conn", uuid.NewString(), "endpoint", "tts")
	metrics.Connections.WithLabelValues("tts").Inc()
	defer metrics.Connections.WithLabelValues("tts").Dec()

	synth, err := s.cache.Synthesizer(s.modelConfig(s.cfg.Models.TTS))
	if err != nil {
		logger.Error("synthesizer unavailable", "error", err)
		wsError(conn, err)
		return
	}
	s.ttsReady.Store(true)
	cfg.Logger = logger

	sess := &session.TTSSession{
		Synth:     synth,
		Config:    cfg,
		Interrupt: interrupt,
		Logger:    logger,
	}

	logger.Info("synthesis session started",
		"samplerate", cfg.SampleRate, "sid", cfg.SpeakerID, "interrupt", interrupt)
	if err := sess.Run(r.Context(), conn); err != nil {
		logger.Error("synthesis session failed", "error", err)
		return
	}
	logger.Info("synthesis session finished")
}

func (s *Server) handleTTSOnce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text       string  `json:"text"`
		SpeakerID  int     `json:"sid"`
		Speed      float32 `json:"speed"`
		SampleRate int     `json:"samplerate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Text == "" {
		httpError(w, http.StatusBadRequest, "text is required")
		return
	}

	synth, err := s.cache.Synthesizer(s.modelConfig(s.cfg.Models.TTS))
	if err != nil {
		s.logger.Error("synthesizer unavailable", "error", err)
		httpError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.ttsReady.Store(true)

	cfg := stream.TTSConfig{
		SampleRate: req.SampleRate,
		SpeakerID:  req.SpeakerID,
		Speed:      req.Speed,
		Split:      *s.cfg.Synthesis.Split,
		Pause:      s.cfg.Synthesis.Pause(),
		Pool:       s.pool,
		Logger:     s.logger,
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = s.cfg.Audio.SampleRate
	}
	if cfg.Speed == 0 {
		cfg.Speed = s.cfg.Synthesis.Speed
	}

	samples, err := stream.Synthesize(synth, cfg, req.Text)
	if err != nil {
		s.logger.Error("synthesis failed", "error", err)
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	wav := pcm.EncodeWAV(samples, cfg.SampleRate)
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.Write(wav)
}
