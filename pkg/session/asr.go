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

// RunASR pumps a recognition session: binary PCM frames in, transcript
// JSON out. It returns when the client disconnects, the input drains,
// or the stream fails; the stream is torn down in every case.
func RunASR(ctx context.Context, conn Conn, s *stream.ASRStream, logger *slog.Logger) error {
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
					logger.Warn("recognition receive failed", "error", err)
				}
				// No more input; let buffered audio finish decoding.
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
			t, err := s.Read()
			if err != nil {
				if err == iterator.Done {
					return nil
				}
				logger.Error("recognition stream failed", "error", err)
				// Best effort; the peer may already be gone.
				conn.WriteJSON(map[string]string{"error": err.Error()})
				return err
			}
			if err := conn.WriteJSON(t); err != nil {
				return err
			}
		}
	})

	return g.Wait()
}
