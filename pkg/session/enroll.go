package session

import (
	"context"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/voicekit/voicegate/pkg/stream"
)

// EnrollProgress is the JSON sent while enrollment audio accumulates,
// and once more when the profile is registered.
type EnrollProgress struct {
	Status   string  `json:"status"`
	Speaker  string  `json:"speaker,omitempty"`
	Seconds  float64 `json:"seconds"`
	Required float64 `json:"required"`
	Error    string  `json:"error,omitempty"`
}

// RunEnroll drives an enrollment session: binary PCM frames in,
// progress JSON after each frame, and a final registered or error
// message. Enrollment is a short, strictly sequential exchange, so it
// runs on a single loop rather than paired pumps.
func RunEnroll(ctx context.Context, conn Conn, e *stream.Enroller, name string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !clientGone(err) {
				logger.Warn("enrollment receive failed", "error", err)
			}
			return nil
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		e.Add(data)
		if !e.Ready() {
			if err := conn.WriteJSON(EnrollProgress{
				Status:   "collecting",
				Seconds:  e.Collected().Seconds(),
				Required: e.Required().Seconds(),
			}); err != nil {
				return err
			}
			continue
		}

		if err := e.Commit(name); err != nil {
			logger.Error("enrollment failed", "name", name, "error", err)
			conn.WriteJSON(EnrollProgress{Status: "error", Error: err.Error()})
			return err
		}
		logger.Info("enrollment complete", "name", name)
		return conn.WriteJSON(EnrollProgress{
			Status:   "registered",
			Speaker:  name,
			Seconds:  e.Collected().Seconds(),
			Required: e.Required().Seconds(),
		})
	}
}
