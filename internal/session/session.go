// Package session is the orchestrator side of the persistent
// bidirectional agent session: one goroutine pair per connected agent
// reading and writing wire.Frame envelopes, dispatching commands and
// matching their eventual results, and folding heartbeats into the
// server store, per spec.md §L2's Agent Session module.
package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/core/apperr"
	"github.com/hostfleet/orchestrator/internal/wire"
)

// Conn is the subset of *websocket.Conn a Session needs, so tests can
// substitute an in-process pipe without a real network round trip.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// session tracks one connected agent: its outbound write queue and the
// table of commands awaiting a result.
type session struct {
	serverID string
	conn     Conn
	log      logrus.FieldLogger

	outbound chan wire.Frame
	done     chan struct{}
	closeOne sync.Once

	mu      sync.Mutex
	pending map[string]chan wire.CommandResult
}

func newSession(serverID string, conn Conn, log logrus.FieldLogger) *session {
	return &session{
		serverID: serverID,
		conn:     conn,
		log:      log,
		outbound: make(chan wire.Frame, 32),
		done:     make(chan struct{}),
		pending:  make(map[string]chan wire.CommandResult),
	}
}

func (s *session) writePump() {
	for {
		select {
		case frame := <-s.outbound:
			if err := s.conn.WriteJSON(frame); err != nil {
				s.log.WithError(err).WithField("server", s.serverID).Warn("session: write failed")
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) send(frame wire.Frame) error {
	select {
	case s.outbound <- frame:
		return nil
	case <-s.done:
		return apperr.Disconnected(s.serverID)
	}
}

func (s *session) awaitResult(ctx context.Context, commandID string) (wire.CommandResult, error) {
	ch := make(chan wire.CommandResult, 1)
	s.mu.Lock()
	s.pending[commandID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, commandID)
		s.mu.Unlock()
	}()

	select {
	case result := <-ch:
		return result, nil
	case <-s.done:
		return wire.CommandResult{}, apperr.Disconnected(s.serverID)
	case <-ctx.Done():
		return wire.CommandResult{}, ctx.Err()
	}
}

func (s *session) resolve(result wire.CommandResult) {
	s.mu.Lock()
	ch, ok := s.pending[result.CommandID]
	s.mu.Unlock()
	if ok {
		ch <- result
	}
}

func (s *session) close() {
	s.closeOne.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Heartbeat is delivered to a Manager's HeartbeatHandler whenever an
// agent reports its status.
type Heartbeat struct {
	ServerID string
	Report   wire.Heartbeat
}

// LogLineHandler is invoked for each streamed log line an agent sends.
type LogLineHandler func(serverID string, line wire.LogLine)
