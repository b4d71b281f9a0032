package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"

	"github.com/voicekit/voicegate/pkg/stream"
)

// SpeakerVerdict is the JSON sent for each identification window. The
// window's embedding rides along even on a miss, so clients can enroll
// the voice they just heard.
type SpeakerVerdict struct {
	Speaker    string    `json:"speaker"`
	Confidence float32   `json:"confidence"`
	Embedding  []float32 `json:"embeddings"`
}

// RunSpeaker pumps an identification session: binary PCM frames in,
// one verdict JSON per filled window out.
func RunSpeaker(ctx context.Context, conn Conn, s *stream.SpeakerStream, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	defer s.Close()

	g, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	g.Go(func() error {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !clientGone(err) {
					logger.Warn("identification receive failed", "error", err)
				}
				s.CloseSend()
				return nil
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			if err := s.Write(data); err != nil {
				return nil
			}
		}
	})

	g.Go(func() error {
		for {
			v, err := s.Read()
			if err != nil {
				if err == iterator.Done {
					return nil
				}
				logger.Error("identification stream failed", "error", err)
				// Best effort; the peer may already be gone.
				conn.WriteJSON(map[string]string{"error": err.Error()})
				return err
			}
			if err := conn.WriteJSON(SpeakerVerdict{
				Speaker:    v.Name,
				Confidence: v.Confidence,
				Embedding:  v.Embedding,
			}); err != nil {
				return err
			}
		}
	})

	return g.Wait()
}
