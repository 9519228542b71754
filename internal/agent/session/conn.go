// Package session is the agent side of the persistent bidirectional
// session with the orchestrator: dialing and maintaining the websocket
// connection, sending the periodic status heartbeat, dispatching received
// commands into internal/agent/executor, and draining in-flight work on
// shutdown, per spec.md §4.3's Agent Session module.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn a Client needs, so tests can
// substitute an in-process pipe without a real network round trip.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// dialer abstracts websocket.Dialer for testability.
type dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (Conn, *http.Response, error)
}

type gorillaDialer struct {
	d websocket.Dialer
}

func newGorillaDialer() gorillaDialer {
	return gorillaDialer{d: websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
}

func (g gorillaDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, *http.Response, error) {
	conn, resp, err := g.d.DialContext(ctx, urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}
