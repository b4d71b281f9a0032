// Package session drives the per-connection message pumps that bridge
// a websocket-style transport to the processing streams.
//
// Every session runs two goroutines joined by an errgroup: a receive
// pump feeding client messages into the stream and a send pump writing
// stream results back. Either pump exiting ends the session; a blocked
// read is unwound by poking the connection's read deadline, never by
// killing the goroutine.
package session

import (
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the message transport a session runs over. It is the subset
// of *websocket.Conn the pumps need; reads and writes each happen from
// a single goroutine.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteJSON(v any) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// clientGone reports whether a read error means the client went away,
// as opposed to a transport fault worth logging.
func clientGone(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
