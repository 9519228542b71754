package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/agent/executor"
	"github.com/hostfleet/orchestrator/internal/config"
	"github.com/hostfleet/orchestrator/internal/wire"
)

// fakeExecutor records every call and returns canned results, standing in
// for a real *executor.Executor so these tests never touch the host.
type fakeExecutor struct {
	mu       sync.Mutex
	calls    []string
	err      error
	logs     []string
	usage    executor.MountUsage
	status   executor.KeepalivedStatus
	streamed []string
}

func (f *fakeExecutor) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeExecutor) Install(ctx context.Context, appName string, payload map[string]any) error {
	f.record("install:" + appName)
	return f.err
}
func (f *fakeExecutor) Configure(ctx context.Context, appName string, payload map[string]any) error {
	f.record("configure:" + appName)
	return f.err
}
func (f *fakeExecutor) Uninstall(ctx context.Context, appName string, payload map[string]any) error {
	f.record("uninstall:" + appName)
	return f.err
}
func (f *fakeExecutor) Systemctl(ctx context.Context, action, service string) error {
	f.record("systemctl:" + action + ":" + service)
	return f.err
}
func (f *fakeExecutor) GetLogs(ctx context.Context, appName string, opts executor.LogOptions) ([]string, error) {
	f.record("getLogs:" + appName)
	return f.logs, f.err
}
func (f *fakeExecutor) StartLogStream(streamID, appName string, onLine executor.LineHandler, onStatus executor.StatusHandler) error {
	f.record("streamLogs:" + streamID)
	if f.err != nil {
		return f.err
	}
	onStatus("started", "")
	for _, line := range f.streamed {
		onLine(line)
	}
	return nil
}
func (f *fakeExecutor) StopLogStream(streamID string) { f.record("stopStream:" + streamID) }
func (f *fakeExecutor) StopAllLogStreams()             { f.record("stopAllStreams") }
func (f *fakeExecutor) MountStorage(ctx context.Context, spec executor.MountSpec) error {
	f.record("mount:" + spec.Target)
	return f.err
}
func (f *fakeExecutor) UnmountStorage(ctx context.Context, target string) error {
	f.record("unmount:" + target)
	return f.err
}
func (f *fakeExecutor) CheckMount(ctx context.Context, target string) (executor.MountUsage, error) {
	f.record("checkMount:" + target)
	return f.usage, f.err
}
func (f *fakeExecutor) ConfigureKeepalived(ctx context.Context, spec executor.KeepalivedSpec) error {
	f.record("configureKeepalived")
	return f.err
}
func (f *fakeExecutor) CheckKeepalived(ctx context.Context, iface, virtualIP string) (executor.KeepalivedStatus, error) {
	f.record("checkKeepalived")
	return f.status, f.err
}

func discardLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testClient(exec Executor) *Client {
	cfg := config.Agent{
		ServerID: "srv-1", OrchestratorURL: "ws://test/session", AuthToken: "tok",
		ReconnectInitial: 10 * time.Millisecond, ReconnectMax: 20 * time.Millisecond, HeartbeatEvery: time.Hour,
	}
	return New(cfg, discardLog(), exec)
}

func TestExecuteDispatchesInstall(t *testing.T) {
	fake := &fakeExecutor{}
	c := testClient(fake)
	result := c.execute(context.Background(), wire.Command{ID: "c1", Action: wire.ActionInstall, AppName: "myapp"})
	if result.Status != wire.ResultSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(fake.calls) != 1 || fake.calls[0] != "install:myapp" {
		t.Fatalf("unexpected calls %v", fake.calls)
	}
}

func TestExecuteSurfacesErrorAsResultMessage(t *testing.T) {
	fake := &fakeExecutor{err: errors.New("boom")}
	c := testClient(fake)
	result := c.execute(context.Background(), wire.Command{ID: "c1", Action: wire.ActionConfigure, AppName: "myapp"})
	if result.Status != wire.ResultError || result.Message != "boom" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestExecuteRoutesStartStopRestartThroughSystemctl(t *testing.T) {
	fake := &fakeExecutor{}
	c := testClient(fake)
	for _, action := range []wire.Action{wire.ActionStart, wire.ActionStop, wire.ActionRestart} {
		c.execute(context.Background(), wire.Command{ID: "c", Action: action, AppName: "myapp"})
	}
	want := []string{"systemctl:start:myapp.service", "systemctl:stop:myapp.service", "systemctl:restart:myapp.service"}
	if len(fake.calls) != len(want) {
		t.Fatalf("calls = %v", fake.calls)
	}
	for i := range want {
		if fake.calls[i] != want[i] {
			t.Fatalf("calls[%d] = %q, want %q", i, fake.calls[i], want[i])
		}
	}
}

func TestExecuteGetLogsReturnsData(t *testing.T) {
	fake := &fakeExecutor{logs: []string{"line1", "line2"}}
	c := testClient(fake)
	result := c.execute(context.Background(), wire.Command{ID: "c", Action: wire.ActionGetLogs, AppName: "myapp", Payload: map[string]any{"lines": 50}})
	if result.Status != wire.ResultSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	lines, ok := result.Data["lines"].([]string)
	if !ok || len(lines) != 2 {
		t.Fatalf("unexpected data %+v", result.Data)
	}
}

func TestExecuteUnknownActionErrors(t *testing.T) {
	fake := &fakeExecutor{}
	c := testClient(fake)
	result := c.execute(context.Background(), wire.Command{ID: "c", Action: wire.Action("bogus")})
	if result.Status != wire.ResultError {
		t.Fatalf("expected error result, got %+v", result)
	}
}

func TestExecuteCheckMountReturnsUsageData(t *testing.T) {
	fake := &fakeExecutor{usage: executor.MountUsage{Mounted: true, SizeBytes: 100, UsedBytes: 40, AvailBytes: 60}}
	c := testClient(fake)
	result := c.execute(context.Background(), wire.Command{ID: "c", Action: wire.ActionCheckMount, Payload: map[string]any{"target": "/mnt/data"}})
	if result.Status != wire.ResultSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	if mounted, _ := result.Data["mounted"].(bool); !mounted {
		t.Fatalf("expected mounted true, got %+v", result.Data)
	}
	if len(fake.calls) != 1 || fake.calls[0] != "checkMount:/mnt/data" {
		t.Fatalf("unexpected calls %v", fake.calls)
	}
}

func TestExecuteCheckKeepalivedReturnsIsMaster(t *testing.T) {
	fake := &fakeExecutor{status: executor.KeepalivedStatus{Interface: "eth0", IsMaster: true}}
	c := testClient(fake)
	result := c.execute(context.Background(), wire.Command{ID: "c", Action: wire.ActionCheckKeepalived, Payload: map[string]any{"interface": "eth0", "virtualIp": "10.0.0.5/24"}})
	if result.Status != wire.ResultSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	if isMaster, _ := result.Data["isMaster"].(bool); !isMaster {
		t.Fatalf("expected isMaster true, got %+v", result.Data)
	}
}

// --- fakeConn-based protocol tests ---

type fakeConn struct {
	toClient   chan wire.Frame
	fromClient chan wire.Frame
	closed     chan struct{}
	closeOnce  sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toClient:   make(chan wire.Frame, 16),
		fromClient: make(chan wire.Frame, 16),
		closed:     make(chan struct{}),
	}
}

func (f *fakeConn) ReadJSON(v any) error {
	select {
	case frame := <-f.toClient:
		*(v.(*wire.Frame)) = frame
		return nil
	case <-f.closed:
		return io.EOF
	}
}

func (f *fakeConn) WriteJSON(v any) error {
	frame, ok := v.(wire.Frame)
	if !ok {
		return errors.New("fakeConn: unexpected write type")
	}
	select {
	case f.fromClient <- frame:
		return nil
	case <-f.closed:
		return io.EOF
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

type fakeDialer struct {
	conn *fakeConn
}

func (d fakeDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, *http.Response, error) {
	return d.conn, nil, nil
}

func newLiveClient(exec Executor) (*Client, *fakeConn) {
	c := testClient(exec)
	conn := newFakeConn()
	c.dial = fakeDialer{conn: conn}
	return c, conn
}

func TestRunOnceSendsHelloThenAcksAndResultsCommands(t *testing.T) {
	fake := &fakeExecutor{}
	c, conn := newLiveClient(fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = c.runOnce(ctx)
		close(done)
	}()

	hello := <-conn.fromClient
	if hello.Type != wire.FrameHello || hello.Hello.ServerID != "srv-1" {
		t.Fatalf("expected hello frame, got %+v", hello)
	}

	conn.toClient <- wire.Frame{Type: wire.FrameCommand, Command: &wire.Command{ID: "c1", Action: wire.ActionInstall, AppName: "myapp"}}

	ack := <-conn.fromClient
	if ack.Type != wire.FrameCommandAck || ack.CommandAck.CommandID != "c1" {
		t.Fatalf("expected ack first, got %+v", ack)
	}
	result := <-conn.fromClient
	if result.Type != wire.FrameResult || result.Result.CommandID != "c1" || result.Result.Status != wire.ResultSuccess {
		t.Fatalf("expected success result, got %+v", result)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runOnce did not exit after ctx cancellation")
	}
}

func TestRunOnceShutdownFrameBeginsDraining(t *testing.T) {
	fake := &fakeExecutor{}
	c, conn := newLiveClient(fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = c.runOnce(ctx)
		close(done)
	}()
	<-conn.fromClient // hello

	conn.toClient <- wire.Frame{Type: wire.FrameShutdown, Shutdown: &wire.Shutdown{GraceSeconds: 3600, Reason: "maintenance"}}

	deadline := time.After(2 * time.Second)
	for !c.Draining() {
		select {
		case <-deadline:
			t.Fatal("client never entered draining state")
		case <-time.After(5 * time.Millisecond):
		}
	}

	conn.toClient <- wire.Frame{Type: wire.FrameCommand, Command: &wire.Command{ID: "c2", Action: wire.ActionInstall, AppName: "myapp"}}
	ack := <-conn.fromClient
	if ack.Type != wire.FrameCommandAck {
		t.Fatalf("expected ack even while draining, got %+v", ack)
	}
	result := <-conn.fromClient
	if result.Type != wire.FrameResult || result.Result.Status != wire.ResultError || result.Result.Message != "Agent is shutting down" {
		t.Fatalf("expected shutting-down error result, got %+v", result)
	}
	if len(fake.calls) != 0 {
		t.Fatalf("expected no executor calls while draining, got %v", fake.calls)
	}

	cancel()
	<-done
}

func TestRunOnceRespondsToPingWithPong(t *testing.T) {
	fake := &fakeExecutor{}
	c, conn := newLiveClient(fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = c.runOnce(ctx)
		close(done)
	}()
	<-conn.fromClient // hello

	conn.toClient <- wire.Frame{Type: wire.FramePing}
	pong := <-conn.fromClient
	if pong.Type != wire.FramePong {
		t.Fatalf("expected pong, got %+v", pong)
	}

	cancel()
	<-done
}
