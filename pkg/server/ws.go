package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicekit/voicegate/pkg/metrics"
	"github.com/voicekit/voicegate/pkg/session"
	"github.com/voicekit/voicegate/pkg/stream"
)

func (s *Server) handleASR(w http.ResponseWriter, r *http.Request) {
	rate := s.queryInt(r, "samplerate", s.cfg.Audio.SampleRate)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	logger := s.logger.With("conn", id, "endpoint", "asr")
	metrics.Connections.WithLabelValues("asr").Inc()
	defer metrics.Connections.WithLabelValues("asr").Dec()

	rec, err := s.cache.Recognizer(s.modelConfig(s.cfg.Models.ASR))
	if err != nil {
		logger.Error("recognizer unavailable", "error", err)
		wsError(conn, err)
		return
	}
	s.asrReady.Store(true)

	st := stream.NewASR(rec, stream.ASRConfig{
		SampleRate: rate,
		Annotate:   s.annotator(logger),
		Logger:     logger,
	})

	logger.Info("recognition session started", "samplerate", rate)
	if err := session.RunASR(r.Context(), conn, st, logger); err != nil {
		logger.Error("recognition session failed", "error", err)
		return
	}
	logger.Info("recognition session finished")
}

// annotator labels finished utterances with the matched speaker name.
// The registry is consulted per utterance, so an enrollment made after
// the connection opened still takes effect; an empty registry skips
// the embedding work rather than tagging everything unknown.
func (s *Server) annotator(logger *slog.Logger) stream.Annotator {
	if s.registry == nil {
		return nil
	}
	enc, err := s.cache.SpeakerEncoder(s.modelConfig(s.cfg.Models.Speaker))
	if err != nil {
		logger.Warn("speaker annotation disabled", "error", err)
		return nil
	}
	return func(sampleRate int, samples []float32) string {
		if len(samples) == 0 || s.registry.Len() == 0 {
			return ""
		}
		var name string
		s.pool.Run(context.Background(), func() {
			embedding, err := enc.Encode(sampleRate, samples)
			if err != nil {
				logger.Warn("speaker annotation failed", "error", err)
				return
			}
			name = s.registry.Search(embedding).Name
		})
		return name
	}
}

func (s *Server) handleSpeakerID(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		httpError(w, http.StatusServiceUnavailable, "speaker registry disabled")
		return
	}
	rate := s.queryInt(r, "samplerate", s.cfg.Audio.SampleRate)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := s.logger.With("conn", uuid.NewString(), "endpoint", "speaker_id")
	metrics.Connections.WithLabelValues("speaker_id").Inc()
	defer metrics.Connections.WithLabelValues("speaker_id").Dec()

	enc, err := s.cache.SpeakerEncoder(s.modelConfig(s.cfg.Models.Speaker))
	if err != nil {
		logger.Error("speaker encoder unavailable", "error", err)
		wsError(conn, err)
		return
	}
	s.spkReady.Store(true)

	st := stream.NewSpeaker(enc, s.registry, stream.SpeakerConfig{
		SampleRate: rate,
		Window:     s.cfg.Identify.Window(),
		Pool:       s.pool,
		Logger:     logger,
	})

	logger.Info("identification session started", "samplerate", rate)
	if err := session.RunSpeaker(r.Context(), conn, st, logger); err != nil {
		logger.Error("identification session failed", "error", err)
		return
	}
	logger.Info("identification session finished")
}

func (s *Server) handleSpeakerRegister(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		httpError(w, http.StatusServiceUnavailable, "speaker registry disabled")
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		httpError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}
	rate := s.queryInt(r, "samplerate", s.cfg.Audio.SampleRate)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := s.logger.With("conn", uuid.NewString(), "endpoint", "speaker_register")
	metrics.Connections.WithLabelValues("speaker_register").Inc()
	defer metrics.Connections.WithLabelValues("speaker_register").Dec()

	enc, err := s.cache.SpeakerEncoder(s.modelConfig(s.cfg.Models.Speaker))
	if err != nil {
		logger.Error("speaker encoder unavailable", "error", err)
		wsError(conn, err)
		return
	}
	s.spkReady.Store(true)

	e := stream.NewEnroller(enc, s.registry, stream.EnrollConfig{
		SampleRate: rate,
		MinAudio:   s.cfg.Identify.EnrollWindow(),
		Pool:       s.pool,
		Logger:     logger,
	})

	logger.Info("enrollment session started", "name", name, "samplerate", rate)
	if err := session.RunEnroll(r.Context(), conn, e, name, logger); err != nil {
		logger.Error("enrollment session failed", "error", err)
		return
	}
	logger.Info("enrollment session finished", "name", name)
}

func (s *Server) queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) queryFloat(r *http.Request, key string, def float32) float32 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil || f <= 0 {
		return def
	}
	return float32(f)
}

func (s *Server) queryBool(r *http.Request, key string, def bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// wsError tells the client why the session cannot start, then closes.
func wsError(conn *websocket.Conn, err error) {
	conn.WriteJSON(map[string]string{"error": err.Error()})
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
}
