package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/config"
	"github.com/hostfleet/orchestrator/internal/wire"
)

// AgentVersion is reported in the hello frame. Bump alongside releases.
const AgentVersion = "1.0.0"

// Client maintains the agent's single persistent session with the
// orchestrator: reconnecting with bounded exponential backoff, sending a
// periodic status heartbeat, and dispatching received commands into an
// Executor.
type Client struct {
	cfg  config.Agent
	log  logrus.FieldLogger
	exec Executor
	dial dialer

	mu       sync.Mutex
	outbound chan wire.Frame
	active   int
	draining bool
}

// New builds a Client. exec is typically *executor.Executor.
func New(cfg config.Agent, log logrus.FieldLogger, exec Executor) *Client {
	return &Client{cfg: cfg, log: log, exec: exec, dial: newGorillaDialer()}
}

// Run dials the orchestrator and maintains the session until ctx is
// cancelled, reconnecting with bounded exponential backoff on every
// disconnect. It returns nil once ctx is done; connection errors are
// logged, never returned, since a dropped session is an expected and
// recoverable event, not a fatal one.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = orDefault(c.cfg.ReconnectInitial, 5*time.Second)
	bo.MaxInterval = orDefault(c.cfg.ReconnectMax, 30*time.Second)
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return nil
		}
		connectedAt := time.Now()
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(connectedAt) > bo.MaxInterval {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		c.log.WithError(err).WithField("retryIn", wait).Warn("session: connection lost, reconnecting")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func (c *Client) runOnce(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	conn, _, err := c.dial.DialContext(ctx, c.cfg.OrchestratorURL, header)
	if err != nil {
		return fmt.Errorf("session: dial: %w", err)
	}
	defer conn.Close()

	hello := wire.Frame{Type: wire.FrameHello, Hello: &wire.Hello{
		ServerID: c.cfg.ServerID, AgentVer: AgentVersion, AuthToken: c.cfg.AuthToken,
	}}
	if err := conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("session: send hello: %w", err)
	}
	c.log.Info("session: connected")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outbound := make(chan wire.Frame, 64)
	c.mu.Lock()
	c.outbound = outbound
	c.draining = false
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.outbound = nil
		c.mu.Unlock()
	}()

	// Unblocks the read loop's blocking ReadJSON the moment the caller's
	// ctx is cancelled, since gorilla/websocket has no context-aware read.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case frame := <-outbound:
				if err := conn.WriteJSON(frame); err != nil {
					cancel()
					return
				}
			case <-sessionCtx.Done():
				return
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		interval := orDefault(c.cfg.HeartbeatEvery, 10*time.Second)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				hb := collectHeartbeat(sessionCtx)
				c.sendFrame(wire.Frame{Type: wire.FrameHeartbeat, Heartbeat: &hb})
			case <-sessionCtx.Done():
				return
			}
		}
	}()

	readErr := c.readLoop(sessionCtx, conn)
	cancel()
	<-writeDone
	<-heartbeatDone
	return readErr
}

func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	for {
		var frame wire.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		switch frame.Type {
		case wire.FrameCommand:
			if frame.Command != nil {
				c.handleCommand(ctx, *frame.Command)
			}
		case wire.FrameShutdown:
			grace := 30 * time.Second
			reason := ""
			if frame.Shutdown != nil {
				if frame.Shutdown.GraceSeconds > 0 {
					grace = time.Duration(frame.Shutdown.GraceSeconds) * time.Second
				}
				reason = frame.Shutdown.Reason
			}
			c.log.WithField("grace", grace).WithField("reason", reason).Warn("session: orchestrator is shutting down")
			c.BeginDraining()
			go func() {
				select {
				case <-time.After(grace):
					_ = conn.Close()
				case <-ctx.Done():
				}
			}()
		case wire.FrameRequestStatus:
			hb := collectHeartbeat(ctx)
			c.sendFrame(wire.Frame{Type: wire.FrameHeartbeat, Heartbeat: &hb})
		case wire.FramePing:
			c.sendFrame(wire.Frame{Type: wire.FramePong})
		}
	}
}

func (c *Client) handleCommand(ctx context.Context, cmd wire.Command) {
	c.sendFrame(wire.Frame{Type: wire.FrameCommandAck, CommandAck: &wire.CommandAck{
		CommandID: cmd.ID, ReceivedAt: time.Now().UTC(),
	}})

	if c.Draining() {
		c.sendFrame(wire.Frame{Type: wire.FrameResult, Result: &wire.CommandResult{
			CommandID: cmd.ID, Status: wire.ResultError, Message: "Agent is shutting down",
		}})
		return
	}

	c.beginCommand()
	go func() {
		defer c.endCommand()
		result := c.execute(ctx, cmd)
		c.sendFrame(wire.Frame{Type: wire.FrameResult, Result: &result})
	}()
}

func (c *Client) sendFrame(f wire.Frame) {
	c.mu.Lock()
	ch := c.outbound
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- f:
	default:
		c.log.Warn("session: outbound queue full, dropping frame")
	}
}

func (c *Client) beginCommand() {
	c.mu.Lock()
	c.active++
	c.mu.Unlock()
}

func (c *Client) endCommand() {
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
}

// ActiveCommands reports how many commands are currently executing.
func (c *Client) ActiveCommands() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// BeginDraining stops the client from accepting new commands; in-flight
// commands are left to finish on their own. Called both on a remote
// server:shutdown notice and by the process's own signal handler.
func (c *Client) BeginDraining() {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()
}

// Draining reports whether the client is currently refusing new commands.
func (c *Client) Draining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}
