package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/wire"
)

// fakeCommandRunner records every invocation and returns a canned result.
type fakeCommandRunner struct {
	mu    sync.Mutex
	calls []string
	out   string
	err   error
}

func (f *fakeCommandRunner) Run(ctx context.Context, dir, path string, env []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, path)
	return f.out, f.err
}

// startFakeHelper spins up a unix socket that answers every request with
// respond(req), mirroring the wire protocol internal/helper.Server speaks.
func startFakeHelper(t *testing.T, respond func(wire.HelperRequest) wire.HelperResponse) string {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "helper.sock")
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
				if !scanner.Scan() {
					return
				}
				var req wire.HelperRequest
				if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
					return
				}
				resp := respond(req)
				_ = json.NewEncoder(conn).Encode(resp)
			}()
		}
	}()
	return socketPath
}

func discardLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(&discardWriter{})
	return log
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestExecutor(t *testing.T, socketPath string) (*Executor, *fakeCommandRunner) {
	t.Helper()
	root := t.TempDir()
	e := New(Config{SandboxRoot: root, HelperSocket: socketPath}, discardLog())
	fake := &fakeCommandRunner{}
	e.cmd = fake
	return e, fake
}

func alwaysOK(req wire.HelperRequest) wire.HelperResponse {
	return wire.HelperResponse{ID: req.ID, OK: true}
}

func TestInstallCreatesSandboxDirectoriesAndMetadata(t *testing.T) {
	socket := startFakeHelper(t, alwaysOK)
	e, fake := newTestExecutor(t, socket)
	_ = fake

	payload := map[string]any{
		"serviceUser": "myapp",
		"dataDirs":    []string{"/var/lib/myapp/data"},
		"appVersion":  "1.2.3",
		"files": []map[string]any{
			{"path": "config.yml", "content": "key: value", "mode": "0640"},
		},
	}
	if err := e.Install(context.Background(), "myapp", payload); err != nil {
		t.Fatalf("Install: %v", err)
	}

	paths := pathsFor(e.cfg.SandboxRoot, "myapp")
	if _, err := os.Stat(filepath.Join(paths.AppDir, "metadata.json")); err != nil {
		t.Fatalf("expected metadata.json: %v", err)
	}
	if _, err := os.Stat(filepath.Join(paths.Config, "config.yml")); err != nil {
		t.Fatalf("expected config.yml: %v", err)
	}
}

func TestInstallRunsInstallScript(t *testing.T) {
	socket := startFakeHelper(t, alwaysOK)
	e, fake := newTestExecutor(t, socket)

	payload := map[string]any{
		"scripts": map[string]any{"install": "install.sh"},
	}
	paths := pathsFor(e.cfg.SandboxRoot, "myapp")
	if err := os.MkdirAll(paths.AppDir, 0750); err != nil {
		t.Fatal(err)
	}
	scriptPath := filepath.Join(paths.AppDir, "install.sh")
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\n"), 0750); err != nil {
		t.Fatal(err)
	}

	if err := e.Install(context.Background(), "myapp", payload); err != nil {
		t.Fatalf("Install: %v", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.calls) != 1 || fake.calls[0] != scriptPath {
		t.Fatalf("expected install script run, got calls=%v", fake.calls)
	}
}

func TestConfigureRewritesFiles(t *testing.T) {
	socket := startFakeHelper(t, alwaysOK)
	e, _ := newTestExecutor(t, socket)

	payload := map[string]any{
		"files": []map[string]any{
			{"path": "app.conf", "content": "updated", "mode": "0640"},
		},
	}
	if err := e.Configure(context.Background(), "myapp", payload); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	paths := pathsFor(e.cfg.SandboxRoot, "myapp")
	got, err := os.ReadFile(filepath.Join(paths.Config, "app.conf"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "updated" {
		t.Fatalf("expected updated content, got %q", got)
	}
}

func TestUninstallRemovesAppDirEvenIfScriptFails(t *testing.T) {
	socket := startFakeHelper(t, alwaysOK)
	e, fake := newTestExecutor(t, socket)
	fake.err = errf("boom")

	paths := pathsFor(e.cfg.SandboxRoot, "myapp")
	if err := os.MkdirAll(paths.AppDir, 0750); err != nil {
		t.Fatal(err)
	}
	scriptPath := filepath.Join(paths.AppDir, "uninstall.sh")
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\n"), 0750); err != nil {
		t.Fatal(err)
	}

	payload := map[string]any{"scripts": map[string]any{"uninstall": "uninstall.sh"}}
	if err := e.Uninstall(context.Background(), "myapp", payload); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if _, err := os.Stat(paths.AppDir); !os.IsNotExist(err) {
		t.Fatalf("expected app dir removed, stat err=%v", err)
	}
}

func TestSystemctlDevModeFallsBackToScripts(t *testing.T) {
	e, fake := newTestExecutor(t, "")
	e.cfg.DevMode = true

	paths := pathsFor(e.cfg.SandboxRoot, "myapp")
	if err := os.MkdirAll(paths.AppDir, 0750); err != nil {
		t.Fatal(err)
	}
	startScript := filepath.Join(paths.AppDir, "start.sh")
	if err := os.WriteFile(startScript, []byte("#!/bin/sh\n"), 0750); err != nil {
		t.Fatal(err)
	}

	if err := e.Systemctl(context.Background(), "start", "myapp.service"); err != nil {
		t.Fatalf("Systemctl: %v", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.calls) != 1 || fake.calls[0] != startScript {
		t.Fatalf("expected start.sh run, got calls=%v", fake.calls)
	}
}

func TestSystemctlProductionRoutesThroughHelper(t *testing.T) {
	var gotAction wire.HelperAction
	var gotArgs []string
	socket := startFakeHelper(t, func(req wire.HelperRequest) wire.HelperResponse {
		gotAction = req.Action
		gotArgs = req.Args
		return wire.HelperResponse{ID: req.ID, OK: true}
	})
	e, _ := newTestExecutor(t, socket)

	if err := e.Systemctl(context.Background(), "restart", "myapp.service"); err != nil {
		t.Fatalf("Systemctl: %v", err)
	}
	if gotAction != wire.HelperSystemctl {
		t.Fatalf("expected systemctl action, got %q", gotAction)
	}
	if len(gotArgs) != 2 || gotArgs[0] != "restart" || gotArgs[1] != "myapp.service" {
		t.Fatalf("unexpected args %v", gotArgs)
	}
}

func TestSystemctlSurfacesHelperFailure(t *testing.T) {
	socket := startFakeHelper(t, func(req wire.HelperRequest) wire.HelperResponse {
		return wire.HelperResponse{ID: req.ID, OK: false, Error: "Validation failed: nope"}
	})
	e, _ := newTestExecutor(t, socket)

	if err := e.Systemctl(context.Background(), "start", "myapp.service"); err == nil {
		t.Fatal("expected error")
	}
}

func TestMountStorageSendsExpectedArgs(t *testing.T) {
	var gotArgs []string
	var gotContent string
	socket := startFakeHelper(t, func(req wire.HelperRequest) wire.HelperResponse {
		gotArgs = req.Args
		gotContent = req.Content
		return wire.HelperResponse{ID: req.ID, OK: true}
	})
	e, _ := newTestExecutor(t, socket)

	spec := MountSpec{
		FSType:     "nfs",
		Source:     "nas.local:/export/data",
		Target:     "/var/lib/myapp/data",
		Options:    []string{"ro", "soft"},
		Credential: "",
	}
	if err := e.MountStorage(context.Background(), spec); err != nil {
		t.Fatalf("MountStorage: %v", err)
	}
	want := []string{"nfs", "nas.local:/export/data", "/var/lib/myapp/data", "ro", "soft"}
	if len(gotArgs) != len(want) {
		t.Fatalf("args = %v, want %v", gotArgs, want)
	}
	for i := range want {
		if gotArgs[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, gotArgs[i], want[i])
		}
	}
	if gotContent != "" {
		t.Fatalf("expected no credential content, got %q", gotContent)
	}
}

func TestUnmountStorageSendsTarget(t *testing.T) {
	var gotArgs []string
	socket := startFakeHelper(t, func(req wire.HelperRequest) wire.HelperResponse {
		gotArgs = req.Args
		return wire.HelperResponse{ID: req.ID, OK: true}
	})
	e, _ := newTestExecutor(t, socket)

	if err := e.UnmountStorage(context.Background(), "/var/lib/myapp/data"); err != nil {
		t.Fatalf("UnmountStorage: %v", err)
	}
	if len(gotArgs) != 1 || gotArgs[0] != "/var/lib/myapp/data" {
		t.Fatalf("unexpected args %v", gotArgs)
	}
}

func TestCheckMountReportsUnmountedWhenFindmntFails(t *testing.T) {
	e, _ := newTestExecutor(t, "")
	status, err := e.CheckMount(context.Background(), "/no/such/mount/point")
	if err != nil {
		t.Fatalf("CheckMount: %v", err)
	}
	if status.Mounted {
		t.Fatalf("expected unmounted, got %+v", status)
	}
}

func TestWriteManifestFilesDefaultsMode(t *testing.T) {
	e, _ := newTestExecutor(t, "")
	paths := pathsFor(e.cfg.SandboxRoot, "myapp")
	files := []model.ManifestFile{{Path: "a.conf", Content: "hello"}}
	if err := e.writeManifestFiles(paths, files); err != nil {
		t.Fatalf("writeManifestFiles: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(paths.Config, "a.conf"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestLogStreamStartStop(t *testing.T) {
	e, _ := newTestExecutor(t, "")

	started := make(chan struct{}, 1)
	stopped := make(chan struct{}, 1)
	onStatus := func(status, message string) {
		switch status {
		case "started":
			started <- struct{}{}
		case "stopped", "error":
			stopped <- struct{}{}
		}
	}
	err := e.StartLogStream("stream-1", "myapp", func(line string) {}, onStatus)
	if err != nil {
		t.Fatalf("StartLogStream: %v", err)
	}
	if err := e.StartLogStream("stream-1", "myapp", func(line string) {}, onStatus); err == nil {
		t.Fatal("expected duplicate streamID to be rejected")
	}

	e.StopLogStream("stream-1")
	select {
	case <-stopped:
	case <-started:
		e.StopLogStream("stream-1")
	case <-time.After(2 * time.Second):
	}
}
