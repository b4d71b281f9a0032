package server

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/voicekit/voicegate/pkg/pcm"
	"github.com/voicekit/voicegate/pkg/speaker"
	"github.com/voicekit/voicegate/pkg/stream"
)

// processResult is the JSON shape of the one-shot transcription
// endpoints. Speaker is set only when identification was requested and
// an enrolled voice matched.
type processResult struct {
	Success          bool    `json:"success"`
	RequestID        string  `json:"request_id"`
	Text             string  `json:"text,omitempty"`
	Language         string  `json:"language,omitempty"`
	Speaker          string  `json:"speaker,omitempty"`
	ProcessingTimeMS float64 `json:"processing_time_ms"`
	Error            string  `json:"error,omitempty"`
}

type processJob struct {
	requestID      string
	audio          []byte
	language       string
	includeSpeaker bool
}

// handleProcessAudio transcribes an uploaded PCM16 recording in one
// shot.
func (s *Server) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "file form field is required")
		return
	}
	defer file.Close()
	raw, err := io.ReadAll(file)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.process(w, r, processJob{
		requestID:      uuid.NewString(),
		audio:          raw,
		language:       r.URL.Query().Get("language"),
		includeSpeaker: s.queryBool(r, "include_speaker", false),
	})
}

// handleProcessBase64 transcribes base64-encoded PCM16 in one shot.
func (s *Server) handleProcessBase64(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AudioBase64 string `json:"audio_base64"`
		RequestID   string `json:"request_id"`
		Language    string `json:"language"`
		Options     struct {
			IncludeSpeaker bool `json:"include_speaker"`
		} `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid base64 audio: "+err.Error())
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	s.process(w, r, processJob{
		requestID:      req.RequestID,
		audio:          raw,
		language:       req.Language,
		includeSpeaker: req.Options.IncludeSpeaker,
	})
}

func (s *Server) process(w http.ResponseWriter, r *http.Request, job processJob) {
	start := time.Now()
	res := processResult{RequestID: job.requestID, Language: job.language}
	finish := func(code int) {
		res.ProcessingTimeMS = time.Since(start).Seconds() * 1000
		writeJSON(w, code, res)
	}

	rec, err := s.cache.Recognizer(s.modelConfig(s.cfg.Models.ASR))
	if err != nil {
		res.Error = err.Error()
		finish(http.StatusServiceUnavailable)
		return
	}
	s.asrReady.Store(true)

	samples, err := pcm.Decode(job.audio)
	if err != nil {
		res.Error = "invalid PCM16 audio: " + err.Error()
		finish(http.StatusBadRequest)
		return
	}
	rate := s.queryInt(r, "samplerate", s.cfg.Audio.SampleRate)

	var (
		text string
		terr error
	)
	if err := s.pool.Run(r.Context(), func() {
		text, terr = stream.Transcribe(rec, rate, samples)
	}); err != nil {
		terr = err
	}
	if terr != nil {
		s.logger.Error("one-shot transcription failed", "error", terr)
		res.Error = terr.Error()
		finish(http.StatusOK)
		return
	}
	res.Text = text

	if job.includeSpeaker {
		if ann := s.annotator(s.logger); ann != nil {
			if name := ann(rate, samples); name != "" && name != speaker.Unknown {
				res.Speaker = name
			}
		}
	}
	res.Success = true
	finish(http.StatusOK)
}
