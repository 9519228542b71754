package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/wire"
)

// Config controls where the executor writes app state and how it reaches
// the privileged helper.
type Config struct {
	SandboxRoot  string
	HelperSocket string
	DevMode      bool // true when no systemd exists; falls back to start.sh/stop.sh
}

// Executor materializes orchestrator commands on the local host.
type Executor struct {
	cfg    Config
	log    logrus.FieldLogger
	helper *HelperClient
	cmd    commandRunner
	logs   *streamManager
}

// commandRunner runs a script with a fixed argv and environment. A seam
// so tests never fork a real process.
type commandRunner interface {
	Run(ctx context.Context, dir, path string, env []string) (stdout string, err error)
}

type execCommandRunner struct{}

func (execCommandRunner) Run(ctx context.Context, dir, path string, env []string) (string, error) {
	c := exec.CommandContext(ctx, path)
	c.Dir = dir
	c.Env = env
	out, err := c.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("script %s: %w: %s", path, err, out)
	}
	return string(out), nil
}

// New builds an Executor.
func New(cfg Config, log logrus.FieldLogger) *Executor {
	return &Executor{
		cfg:    cfg,
		log:    log,
		helper: NewHelperClient(cfg.HelperSocket),
		cmd:    execCommandRunner{},
		logs:   newStreamManager(),
	}
}

// installPayload mirrors internal/deployer's installPayload shape —
// decoded generically since it crosses the wire as a map[string]any.
type installPayload struct {
	Config       map[string]any        `json:"config"`
	Ports        map[string]int        `json:"ports"`
	ServiceUser  string                `json:"serviceUser"`
	ServiceGroup string                `json:"serviceGroup"`
	DataDirs     []string              `json:"dataDirs"`
	Capabilities []string              `json:"capabilities"`
	Files        []model.ManifestFile  `json:"files"`
	Scripts      model.ManifestScripts `json:"scripts"`
	Env          map[string]string     `json:"env"`
	AppVersion   string                `json:"appVersion"`
}

func decodePayload(raw map[string]any, out any) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("executor: re-marshal payload: %w", err)
	}
	return json.Unmarshal(buf, out)
}

// Install creates the app's sandboxed directories, writes its metadata
// and config files, runs the install script if present, and provisions
// the service user, data directories, capabilities, and systemd unit via
// the privileged helper.
func (e *Executor) Install(ctx context.Context, appName string, rawPayload map[string]any) error {
	var p installPayload
	if err := decodePayload(rawPayload, &p); err != nil {
		return err
	}
	paths := pathsFor(e.cfg.SandboxRoot, appName)

	for _, dir := range []string{paths.AppDir, paths.Config, paths.Data, paths.Log} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("executor: create %s: %w", dir, err)
		}
	}

	if p.ServiceUser != "" {
		if _, err := e.helper.Call(ctx, wire.HelperCreateServiceUser, []string{p.ServiceUser}, ""); err != nil {
			return fmt.Errorf("executor: create service user: %w", err)
		}
	}
	for _, dataDir := range p.DataDirs {
		if _, err := e.helper.Call(ctx, wire.HelperCreateDirectory, []string{dataDir, "0750"}, ""); err != nil {
			return fmt.Errorf("executor: create data dir %s: %w", dataDir, err)
		}
		if p.ServiceUser != "" {
			owner := p.ServiceUser
			if p.ServiceGroup != "" {
				owner = p.ServiceUser + ":" + p.ServiceGroup
			}
			if _, err := e.helper.Call(ctx, wire.HelperSetOwnership, []string{dataDir, owner}, ""); err != nil {
				return fmt.Errorf("executor: chown data dir %s: %w", dataDir, err)
			}
		}
	}

	metadata, err := json.MarshalIndent(map[string]any{"appName": appName, "version": p.AppVersion, "installedAt": time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("executor: marshal metadata: %w", err)
	}
	if err := e.writeFile(paths, filepath.Join(paths.AppDir, "metadata.json"), string(metadata), "0640"); err != nil {
		return err
	}

	if err := e.writeManifestFiles(paths, p.Files); err != nil {
		return err
	}

	for _, capability := range p.Capabilities {
		if _, err := e.helper.Call(ctx, wire.HelperSetCapability, []string{filepath.Join(paths.AppDir, "bin", appName), capability}, ""); err != nil {
			return fmt.Errorf("executor: set capability %s: %w", capability, err)
		}
	}

	if p.Scripts.Install != "" {
		if _, err := e.runScript(ctx, appName, p.AppVersion, paths, p.ServiceUser, p.ServiceGroup, p.Scripts.Install, p.Env); err != nil {
			return fmt.Errorf("executor: install script: %w", err)
		}
	}

	return nil
}

// Configure rewrites an app's config files and optionally runs its
// configure script.
func (e *Executor) Configure(ctx context.Context, appName string, rawPayload map[string]any) error {
	var p struct {
		Config  map[string]any        `json:"config"`
		Files   []model.ManifestFile  `json:"files"`
		Scripts model.ManifestScripts `json:"scripts"`
		Env     map[string]string     `json:"env"`
	}
	if err := decodePayload(rawPayload, &p); err != nil {
		return err
	}
	paths := pathsFor(e.cfg.SandboxRoot, appName)

	if err := e.writeManifestFiles(paths, p.Files); err != nil {
		return err
	}
	if p.Scripts.Configure != "" {
		if _, err := e.runScript(ctx, appName, "", paths, "", "", p.Scripts.Configure, p.Env); err != nil {
			return fmt.Errorf("executor: configure script: %w", err)
		}
	}
	return nil
}

// Uninstall stops and disables the service, runs the uninstall script,
// and removes the app's sandboxed directories.
func (e *Executor) Uninstall(ctx context.Context, appName string, rawPayload map[string]any) error {
	var p struct {
		Scripts model.ManifestScripts `json:"scripts"`
		Env     map[string]string     `json:"env"`
	}
	_ = decodePayload(rawPayload, &p)
	paths := pathsFor(e.cfg.SandboxRoot, appName)

	if err := e.Systemctl(ctx, "stop", serviceName(appName)); err != nil {
		e.log.WithError(err).Warn("executor: stop during uninstall failed, continuing")
	}
	if err := e.Systemctl(ctx, "disable", serviceName(appName)); err != nil {
		e.log.WithError(err).Warn("executor: disable during uninstall failed, continuing")
	}

	if p.Scripts.Uninstall != "" {
		if _, err := e.runScript(ctx, appName, "", paths, "", "", p.Scripts.Uninstall, p.Env); err != nil {
			e.log.WithError(err).Warn("executor: uninstall script failed, continuing with directory removal")
		}
	}

	if _, err := e.helper.Call(ctx, wire.HelperUnregisterService, []string{serviceName(appName)}, ""); err != nil {
		e.log.WithError(err).Warn("executor: unregister_service failed, continuing")
	}

	if err := os.RemoveAll(paths.AppDir); err != nil {
		return fmt.Errorf("executor: remove app dir: %w", err)
	}
	return nil
}

// Systemctl routes start/stop/restart/enable/disable through the
// privileged helper in production, falling back to a dev-mode
// start.sh/stop.sh script when no systemd unit exists.
func (e *Executor) Systemctl(ctx context.Context, action, service string) error {
	if e.cfg.DevMode {
		return e.devModeSystemctl(ctx, action, service)
	}
	resp, err := e.helper.Call(ctx, wire.HelperSystemctl, []string{action, service}, "")
	if err != nil {
		return err
	}
	if !resp.OK {
		return errf("systemctl %s %s: %s", action, service, resp.Error)
	}
	return nil
}

func (e *Executor) devModeSystemctl(ctx context.Context, action, service string) error {
	appName := appNameFromService(service)
	paths := pathsFor(e.cfg.SandboxRoot, appName)
	var script string
	switch action {
	case "start":
		script = "start.sh"
	case "stop", "disable":
		script = "stop.sh"
	default:
		return nil
	}
	path := filepath.Join(paths.AppDir, script)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	_, err := e.cmd.Run(ctx, paths.AppDir, path, buildEnv(appName, "", paths, "", "", nil))
	return err
}

func (e *Executor) writeManifestFiles(paths Paths, files []model.ManifestFile) error {
	for _, f := range files {
		mode := f.Mode
		if mode == "" {
			mode = "0640"
		}
		if err := e.writeFile(paths, filepath.Join(paths.Config, f.Path), f.Content, mode); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) writeFile(paths Paths, path, content, mode string) error {
	resolved, err := paths.validatePath(path)
	if err != nil {
		return err
	}
	if isSystemPath(resolved) {
		resp, err := e.helper.Call(context.Background(), wire.HelperWriteFile, []string{resolved}, content)
		if err != nil {
			return err
		}
		if !resp.OK {
			return errf("write %s: %s", resolved, resp.Error)
		}
		if mode != "" {
			if resp, err := e.helper.Call(context.Background(), wire.HelperSetPermissions, []string{resolved, mode}, ""); err != nil {
				return err
			} else if !resp.OK {
				return errf("chmod %s: %s", resolved, resp.Error)
			}
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0750); err != nil {
		return err
	}
	perm, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		perm = 0640
	}
	return os.WriteFile(resolved, []byte(content), os.FileMode(perm))
}

func (e *Executor) runScript(ctx context.Context, appName, version string, paths Paths, serviceUser, serviceGroup, scriptPath string, payloadEnv map[string]string) (string, error) {
	resolved, err := paths.validatePath(scriptPath)
	if err != nil {
		return "", err
	}
	env := buildEnv(appName, version, paths, serviceUser, serviceGroup, payloadEnv)
	return e.cmd.Run(ctx, paths.AppDir, resolved, env)
}

func serviceName(appName string) string { return appName + ".service" }

func appNameFromService(service string) string {
	const suffix = ".service"
	if len(service) > len(suffix) && service[len(service)-len(suffix):] == suffix {
		return service[:len(service)-len(suffix)]
	}
	return service
}
