package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/voicekit/voicegate/pkg/engine"
	"github.com/voicekit/voicegate/pkg/queue"
	"github.com/voicekit/voicegate/pkg/stream"
)

// TTSSummary is the JSON sent after each utterance finishes.
type TTSSummary struct {
	Elapsed  float64 `json:"elapsed"`
	Duration float64 `json:"duration"`
	Size     int     `json:"size"`
	Finished bool    `json:"finished"`
}

// TTSSession pumps a synthesis session: text messages in, binary PCM
// chunks plus a JSON summary per utterance out.
//
// Each text message gets its own synthesis stream. With Interrupt set,
// a new message cancels whatever is still playing: the current stream
// is closed, its remaining output discarded, and queued texts are
// skipped in favor of the newest one.
type TTSSession struct {
	Synth     engine.Synthesizer
	Config    stream.TTSConfig
	Interrupt bool
	Logger    *slog.Logger

	mu  sync.Mutex
	cur *stream.TTSStream
}

// Run drives the session until the client disconnects or a write
// fails.
func (s *TTSSession) Run(ctx context.Context, conn Conn) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	texts := queue.New[string](4)
	g, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()
	defer s.swap(nil)

	g.Go(func() error {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !clientGone(err) {
					logger.Warn("synthesis receive failed", "error", err)
				}
				texts.CloseWrite()
				return nil
			}
			if mt != websocket.TextMessage {
				continue
			}
			text := strings.TrimSpace(string(data))
			if text == "" {
				continue
			}
			if s.Interrupt {
				// Cut the current playback before queueing the
				// replacement.
				s.swap(nil)
			}
			if err := texts.Put(text); err != nil {
				return nil
			}
		}
	})

	g.Go(func() error {
		for {
			text, err := texts.Next()
			if err != nil {
				// Done on a graceful end, a close error otherwise;
				// either way the session is over.
				return nil
			}
			if s.Interrupt {
				// Only the newest queued text matters.
				for texts.Len() > 0 {
					if t, err := texts.Next(); err == nil {
						text = t
					}
				}
			}
			if err := s.speak(conn, text); err != nil {
				return err
			}
		}
	})

	err := g.Wait()
	s.swap(nil)
	return err
}

// speak synthesizes one utterance and streams it out. A stream closed
// mid-flight by an interrupt is not an error; its output just stops.
func (s *TTSSession) speak(conn Conn, text string) error {
	st := stream.NewTTS(s.Synth, s.Config)
	s.swap(st)
	defer s.swap(nil)

	st.Write(text)
	st.CloseSend()

	for {
		c, err := st.Read()
		if err != nil {
			// Interrupted or torn down; discard silently.
			return nil
		}
		if c.Final {
			return conn.WriteJSON(TTSSummary{
				Elapsed:  c.Elapsed.Seconds(),
				Duration: c.Duration.Seconds(),
				Size:     c.Samples,
				Finished: true,
			})
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, c.Audio); err != nil {
			return err
		}
	}
}

// swap installs the active stream, closing the previous one.
func (s *TTSSession) swap(st *stream.TTSStream) {
	s.mu.Lock()
	old := s.cur
	s.cur = st
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}
