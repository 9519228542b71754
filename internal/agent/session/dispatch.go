package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hostfleet/orchestrator/internal/agent/executor"
	"github.com/hostfleet/orchestrator/internal/wire"
)

// Executor is the subset of *executor.Executor a Client dispatches
// commands to, so tests can substitute a fake without a real host.
type Executor interface {
	Install(ctx context.Context, appName string, payload map[string]any) error
	Configure(ctx context.Context, appName string, payload map[string]any) error
	Uninstall(ctx context.Context, appName string, payload map[string]any) error
	Systemctl(ctx context.Context, action, service string) error
	GetLogs(ctx context.Context, appName string, opts executor.LogOptions) ([]string, error)
	StartLogStream(streamID, appName string, onLine executor.LineHandler, onStatus executor.StatusHandler) error
	StopLogStream(streamID string)
	StopAllLogStreams()
	MountStorage(ctx context.Context, spec executor.MountSpec) error
	UnmountStorage(ctx context.Context, target string) error
	CheckMount(ctx context.Context, target string) (executor.MountUsage, error)
	ConfigureKeepalived(ctx context.Context, spec executor.KeepalivedSpec) error
	CheckKeepalived(ctx context.Context, iface, virtualIP string) (executor.KeepalivedStatus, error)
}

func decode(raw map[string]any, out any) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}

// execute runs cmd against exec and returns its CommandResult. streamLine
// and streamStatus are invoked for streamLogs commands to push frames back
// over the live connection as the stream produces them; both are nil for
// every other action.
func (c *Client) execute(ctx context.Context, cmd wire.Command) wire.CommandResult {
	start := time.Now()
	result := wire.CommandResult{CommandID: cmd.ID, Status: wire.ResultSuccess}

	var err error
	var data map[string]any

	switch cmd.Action {
	case wire.ActionInstall:
		err = c.exec.Install(ctx, cmd.AppName, cmd.Payload)
	case wire.ActionConfigure:
		err = c.exec.Configure(ctx, cmd.AppName, cmd.Payload)
	case wire.ActionUninstall:
		err = c.exec.Uninstall(ctx, cmd.AppName, cmd.Payload)
	case wire.ActionStart:
		err = c.exec.Systemctl(ctx, "start", serviceName(cmd.AppName))
	case wire.ActionStop:
		err = c.exec.Systemctl(ctx, "stop", serviceName(cmd.AppName))
	case wire.ActionRestart:
		err = c.exec.Systemctl(ctx, "restart", serviceName(cmd.AppName))
	case wire.ActionGetLogs:
		data, err = c.dispatchGetLogs(ctx, cmd)
	case wire.ActionStreamLogs:
		err = c.dispatchStreamLogs(cmd)
	case wire.ActionStopStreamLogs:
		err = c.dispatchStopStreamLogs(cmd)
	case wire.ActionMountStorage:
		err = c.dispatchMountStorage(ctx, cmd)
	case wire.ActionUnmountStorage:
		err = c.dispatchUnmountStorage(ctx, cmd)
	case wire.ActionCheckMount:
		data, err = c.dispatchCheckMount(ctx, cmd)
	case wire.ActionConfigureKeepalived:
		err = c.dispatchConfigureKeepalived(ctx, cmd)
	case wire.ActionCheckKeepalived:
		data, err = c.dispatchCheckKeepalived(ctx, cmd)
	default:
		err = fmt.Errorf("unrecognized action %q", cmd.Action)
	}

	result.Duration = time.Since(start)
	result.Data = data
	if err != nil {
		result.Status = wire.ResultError
		result.Message = err.Error()
	}
	return result
}

func serviceName(appName string) string { return appName + ".service" }

func (c *Client) dispatchGetLogs(ctx context.Context, cmd wire.Command) (map[string]any, error) {
	var p struct {
		Lines int `json:"lines"`
	}
	_ = decode(cmd.Payload, &p)
	lines, err := c.exec.GetLogs(ctx, cmd.AppName, executor.LogOptions{Lines: p.Lines})
	if err != nil {
		return nil, err
	}
	return map[string]any{"lines": lines}, nil
}

func (c *Client) dispatchStreamLogs(cmd wire.Command) error {
	streamID := cmd.ID
	return c.exec.StartLogStream(streamID, cmd.AppName,
		func(line string) {
			c.sendFrame(wire.Frame{Type: wire.FrameLogLine, LogLine: &wire.LogLine{StreamID: streamID, Line: line, At: time.Now().UTC()}})
		},
		func(status, message string) {
			c.sendFrame(wire.Frame{Type: wire.FrameLogStream, LogStream: &wire.LogStreamFrame{StreamID: streamID, Status: wire.LogStreamStatus(status), Message: message}})
		},
	)
}

func (c *Client) dispatchStopStreamLogs(cmd wire.Command) error {
	var p struct {
		StreamID string `json:"streamId"`
	}
	if err := decode(cmd.Payload, &p); err != nil || p.StreamID == "" {
		return fmt.Errorf("stopStreamLogs: missing streamId")
	}
	c.exec.StopLogStream(p.StreamID)
	return nil
}

func (c *Client) dispatchMountStorage(ctx context.Context, cmd wire.Command) error {
	var p struct {
		FSType     string   `json:"fstype"`
		Source     string   `json:"source"`
		Target     string   `json:"target"`
		Options    []string `json:"options"`
		Credential string   `json:"credential"`
	}
	if err := decode(cmd.Payload, &p); err != nil {
		return err
	}
	return c.exec.MountStorage(ctx, executor.MountSpec{
		FSType: p.FSType, Source: p.Source, Target: p.Target, Options: p.Options, Credential: p.Credential,
	})
}

func (c *Client) dispatchUnmountStorage(ctx context.Context, cmd wire.Command) error {
	var p struct {
		Target string `json:"target"`
	}
	if err := decode(cmd.Payload, &p); err != nil {
		return err
	}
	return c.exec.UnmountStorage(ctx, p.Target)
}

func (c *Client) dispatchCheckMount(ctx context.Context, cmd wire.Command) (map[string]any, error) {
	var p struct {
		Target string `json:"target"`
	}
	if err := decode(cmd.Payload, &p); err != nil {
		return nil, err
	}
	usage, err := c.exec.CheckMount(ctx, p.Target)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"mounted":    usage.Mounted,
		"sizeBytes":  usage.SizeBytes,
		"usedBytes":  usage.UsedBytes,
		"availBytes": usage.AvailBytes,
	}, nil
}

func (c *Client) dispatchConfigureKeepalived(ctx context.Context, cmd wire.Command) error {
	var p struct {
		Interface string   `json:"interface"`
		VirtualIP string   `json:"virtualIp"`
		RouterID  int      `json:"routerId"`
		Priority  int      `json:"priority"`
		AuthPass  string   `json:"authPass"`
		Peers     []string `json:"peers"`
	}
	if err := decode(cmd.Payload, &p); err != nil {
		return err
	}
	return c.exec.ConfigureKeepalived(ctx, executor.KeepalivedSpec{
		Interface: p.Interface, VirtualIP: p.VirtualIP, RouterID: p.RouterID,
		Priority: p.Priority, AuthPass: p.AuthPass, Peers: p.Peers,
	})
}

func (c *Client) dispatchCheckKeepalived(ctx context.Context, cmd wire.Command) (map[string]any, error) {
	var p struct {
		Interface string `json:"interface"`
		VirtualIP string `json:"virtualIp"`
	}
	if err := decode(cmd.Payload, &p); err != nil {
		return nil, err
	}
	status, err := c.exec.CheckKeepalived(ctx, p.Interface, p.VirtualIP)
	if err != nil {
		return nil, err
	}
	return map[string]any{"isMaster": status.IsMaster}, nil
}
