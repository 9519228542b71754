package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/core/apperr"
	"github.com/hostfleet/orchestrator/internal/core/ids"
	"github.com/hostfleet/orchestrator/internal/metrics"
	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/store"
	"github.com/hostfleet/orchestrator/internal/wire"
)

// Manager tracks one session per online server and implements
// internal/deployer.Dispatcher against whichever session is currently
// live for a server.
type Manager struct {
	log     logrus.FieldLogger
	store   *store.Store
	metrics *metrics.Registry

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session

	onLogLine LogLineHandler
}

// New builds a Manager.
func New(log logrus.FieldLogger, st *store.Store, reg *metrics.Registry) *Manager {
	return &Manager{
		log:      log,
		store:    st,
		metrics:  reg,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		sessions: make(map[string]*session),
	}
}

// OnLogLine registers the callback invoked for every streamed log line.
func (m *Manager) OnLogLine(fn LogLineHandler) { m.onLogLine = fn }

// ServeHTTP upgrades an incoming request to a websocket and runs the
// session until it disconnects. The caller's auth middleware must run
// before this handler; ServeHTTP trusts the request is already
// authenticated for the serverID claimed in its hello frame.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.WithError(err).Warn("session: upgrade failed")
		return
	}

	var hello wire.Frame
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != wire.FrameHello || hello.Hello == nil {
		m.log.WithError(err).Warn("session: expected hello frame")
		_ = conn.Close()
		return
	}

	if authed, ok := AuthenticatedServerID(r.Context()); ok && authed != hello.Hello.ServerID {
		m.log.WithField("claimed", hello.Hello.ServerID).Warn("session: hello serverId does not match the authenticated token's server")
		_ = conn.Close()
		return
	}

	ctx := r.Context()
	m.Run(ctx, hello.Hello.ServerID, conn)
}

type contextKey int

const authenticatedServerIDKey contextKey = iota

// WithAuthenticatedServerID attaches the server ID a bearer-token auth
// middleware resolved for this request, so ServeHTTP can reject a hello
// frame that claims a different serverId than the token it authenticated
// with.
func WithAuthenticatedServerID(ctx context.Context, serverID string) context.Context {
	return context.WithValue(ctx, authenticatedServerIDKey, serverID)
}

// AuthenticatedServerID returns the server ID attached by
// WithAuthenticatedServerID, if any.
func AuthenticatedServerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(authenticatedServerIDKey).(string)
	return id, ok
}

// Run registers a Conn as the live session for serverID and blocks,
// reading frames, until the connection closes or ctx is cancelled.
func (m *Manager) Run(ctx context.Context, serverID string, conn Conn) {
	sess := newSession(serverID, conn, m.log)

	m.mu.Lock()
	if old, ok := m.sessions[serverID]; ok {
		old.close()
	}
	m.sessions[serverID] = sess
	m.mu.Unlock()

	if err := m.store.Servers.UpdateAgentStatus(ctx, serverID, model.AgentOnline, nil); err != nil {
		m.log.WithError(err).WithField("server", serverID).Warn("session: failed to mark agent online")
	}
	if m.metrics != nil {
		m.metrics.AgentsConnected.Inc()
	}

	go sess.writePump()
	m.readLoop(ctx, sess)

	m.mu.Lock()
	if m.sessions[serverID] == sess {
		delete(m.sessions, serverID)
	}
	m.mu.Unlock()
	sess.close()

	if err := m.store.Servers.UpdateAgentStatus(context.Background(), serverID, model.AgentOffline, nil); err != nil {
		m.log.WithError(err).WithField("server", serverID).Warn("session: failed to mark agent offline")
	}
	if m.metrics != nil {
		m.metrics.AgentsConnected.Dec()
	}
}

func (m *Manager) readLoop(ctx context.Context, sess *session) {
	for {
		var frame wire.Frame
		if err := sess.conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case wire.FrameHeartbeat:
			m.handleHeartbeat(ctx, sess.serverID, frame.Heartbeat)
		case wire.FrameCommandAck:
			// Acks are observational; Dispatch only waits on the final result.
		case wire.FrameResult:
			if frame.Result != nil {
				sess.resolve(*frame.Result)
			}
		case wire.FrameLogLine:
			if m.onLogLine != nil && frame.LogLine != nil {
				m.onLogLine(sess.serverID, *frame.LogLine)
			}
		case wire.FrameLogStream:
			// Terminal stream frame; callers that care track this via onLogLine's
			// absence of further lines plus the agent's own stop acknowledgement.
		case wire.FramePong:
			// Keepalive reply; no bookkeeping needed beyond the read itself
			// having reset the connection's read activity.
		}
	}
}

func (m *Manager) handleHeartbeat(ctx context.Context, serverID string, hb *wire.Heartbeat) {
	if hb == nil {
		return
	}
	metricsSnapshot := &model.Metrics{
		CPUPercent:  hb.CPUPercent,
		MemoryUsed:  hb.MemoryUsed,
		MemoryTotal: hb.MemoryTotal,
		DiskUsed:    hb.DiskUsed,
		DiskTotal:   hb.DiskTotal,
		LoadAverage: hb.LoadAverage,
	}
	if err := m.store.Servers.UpdateAgentStatus(ctx, serverID, model.AgentOnline, metricsSnapshot); err != nil {
		m.log.WithError(err).WithField("server", serverID).Warn("session: failed to record heartbeat")
	}
}

// Dispatch implements internal/deployer.Dispatcher: it sends cmd to
// serverID's live session and blocks for its result, returning
// apperr.Disconnected if no session is live.
func (m *Manager) Dispatch(ctx context.Context, serverID string, cmd wire.Command) (wire.CommandResult, error) {
	m.mu.RLock()
	sess, ok := m.sessions[serverID]
	m.mu.RUnlock()
	if !ok {
		return wire.CommandResult{}, apperr.Disconnected(serverID)
	}
	if cmd.ID == "" {
		cmd.ID = ids.New()
	}
	if err := sess.send(wire.Frame{Type: wire.FrameCommand, Command: &cmd}); err != nil {
		return wire.CommandResult{}, err
	}
	if m.metrics != nil {
		m.metrics.CommandsTotal.WithLabelValues(string(cmd.Action), "sent").Inc()
	}
	result, err := sess.awaitResult(ctx, cmd.ID)
	if m.metrics != nil {
		outcome := "success"
		if err != nil || !result.OK() {
			outcome = "failure"
		}
		m.metrics.CommandsTotal.WithLabelValues(string(cmd.Action), outcome).Inc()
	}
	return result, err
}

// Shutdown notifies serverID's live session that the orchestrator is
// shutting down, giving the agent graceSeconds to finish in-flight
// commands before it disconnects on its own.
func (m *Manager) Shutdown(serverID string, graceSeconds int, reason string) error {
	m.mu.RLock()
	sess, ok := m.sessions[serverID]
	m.mu.RUnlock()
	if !ok {
		return apperr.Disconnected(serverID)
	}
	return sess.send(wire.Frame{Type: wire.FrameShutdown, Shutdown: &wire.Shutdown{GraceSeconds: graceSeconds, Reason: reason}})
}

// ShutdownAll notifies every currently connected session, used when the
// orchestrator process itself is stopping.
func (m *Manager) ShutdownAll(graceSeconds int, reason string) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		if err := m.Shutdown(id, graceSeconds, reason); err != nil {
			m.log.WithError(err).WithField("server", id).Warn("session: failed to send shutdown notice")
		}
	}
}

// IsOnline reports whether a server currently has a live session.
func (m *Manager) IsOnline(serverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[serverID]
	return ok
}

// OnlineCount returns the number of currently connected sessions.
func (m *Manager) OnlineCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
