package executor

import (
	"context"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hostfleet/orchestrator/internal/wire"
)

// MountSpec describes a storage mount request.
type MountSpec struct {
	FSType     string
	Source     string
	Target     string
	Options    []string
	Credential string // CIFS username/password block, passed through to the helper untouched
}

// MountUsage reports a mount's filesystem usage, parsed from df.
type MountUsage struct {
	Mounted    bool
	SizeBytes  int64
	UsedBytes  int64
	AvailBytes int64
}

// MountStorage delegates to the privileged helper.
func (e *Executor) MountStorage(ctx context.Context, spec MountSpec) error {
	args := append([]string{spec.FSType, spec.Source, spec.Target}, spec.Options...)
	resp, err := e.helper.Call(ctx, wire.HelperMount, args, spec.Credential)
	if err != nil {
		return err
	}
	if !resp.OK {
		return errf("mount %s: %s", spec.Target, resp.Error)
	}
	return nil
}

// UnmountStorage delegates to the privileged helper.
func (e *Executor) UnmountStorage(ctx context.Context, target string) error {
	resp, err := e.helper.Call(ctx, wire.HelperUnmount, []string{target}, "")
	if err != nil {
		return err
	}
	if !resp.OK {
		return errf("umount %s: %s", target, resp.Error)
	}
	return nil
}

// CheckMount reports whether target is currently mounted and, if so, its
// usage, by shelling out to findmnt -J and df (both unprivileged reads,
// so neither goes through the helper).
func (e *Executor) CheckMount(ctx context.Context, target string) (MountUsage, error) {
	findmntOut, err := exec.CommandContext(ctx, "findmnt", "-J", target).Output()
	if err != nil {
		return MountUsage{Mounted: false}, nil
	}
	if !gjson.GetBytes(findmntOut, "filesystems.0.target").Exists() {
		return MountUsage{Mounted: false}, nil
	}

	dfOut, err := exec.CommandContext(ctx, "df", "-B1", "--output=size,used,avail", target).Output()
	if err != nil {
		return MountUsage{Mounted: true}, nil
	}
	lines := strings.Split(strings.TrimSpace(string(dfOut)), "\n")
	if len(lines) < 2 {
		return MountUsage{Mounted: true}, nil
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) != 3 {
		return MountUsage{Mounted: true}, nil
	}
	return MountUsage{
		Mounted:    true,
		SizeBytes:  parseInt64(fields[0]),
		UsedBytes:  parseInt64(fields[1]),
		AvailBytes: parseInt64(fields[2]),
	}, nil
}

func parseInt64(s string) int64 {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int64(c-'0')
	}
	return n
}
