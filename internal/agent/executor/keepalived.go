package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"
)

// KeepalivedSpec configures a VRRP instance pairing this host with its
// reverse-proxy failover peer.
type KeepalivedSpec struct {
	Interface string
	VirtualIP string // CIDR, e.g. "10.0.0.50/24"
	RouterID  int
	Priority  int
	AuthPass  string
	Peers     []string // unicast VRRP peers; empty means multicast VRRP
}

const keepalivedConfPath = "/etc/keepalived/keepalived.conf"

// ConfigureKeepalived renders keepalived.conf for spec and restarts the
// keepalived service through the privileged helper.
func (e *Executor) ConfigureKeepalived(ctx context.Context, spec KeepalivedSpec) error {
	paths := pathsFor(e.cfg.SandboxRoot, "keepalived")
	conf := renderKeepalivedConf(spec)
	if err := e.writeFile(paths, keepalivedConfPath, conf, "0640"); err != nil {
		return fmt.Errorf("executor: write keepalived.conf: %w", err)
	}
	return e.Systemctl(ctx, "restart", "keepalived.service")
}

func renderKeepalivedConf(spec KeepalivedSpec) string {
	state := "BACKUP"
	if spec.Priority >= 150 {
		state = "MASTER"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "vrrp_instance VI_%d {\n", spec.RouterID)
	fmt.Fprintf(&b, "    state %s\n", state)
	fmt.Fprintf(&b, "    interface %s\n", spec.Interface)
	fmt.Fprintf(&b, "    virtual_router_id %d\n", spec.RouterID)
	fmt.Fprintf(&b, "    priority %d\n", spec.Priority)
	b.WriteString("    advert_int 1\n")
	if spec.AuthPass != "" {
		b.WriteString("    authentication {\n")
		b.WriteString("        auth_type PASS\n")
		fmt.Fprintf(&b, "        auth_pass %s\n", spec.AuthPass)
		b.WriteString("    }\n")
	}
	fmt.Fprintf(&b, "    virtual_ipaddress {\n        %s\n    }\n", spec.VirtualIP)
	if len(spec.Peers) > 0 {
		b.WriteString("    unicast_peer {\n")
		for _, p := range spec.Peers {
			fmt.Fprintf(&b, "        %s\n", p)
		}
		b.WriteString("    }\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// KeepalivedStatus reports whether this host currently holds the virtual
// IP, i.e. is the active VRRP master.
type KeepalivedStatus struct {
	Interface string
	IsMaster  bool
}

// CheckKeepalived inspects the configured interface's addresses to
// determine whether this host currently holds the virtual IP. This is an
// unprivileged read, so it never goes through the helper.
func (e *Executor) CheckKeepalived(ctx context.Context, iface, virtualIP string) (KeepalivedStatus, error) {
	out, err := exec.CommandContext(ctx, "ip", "-j", "addr", "show", iface).Output()
	if err != nil {
		return KeepalivedStatus{Interface: iface}, fmt.Errorf("executor: ip addr show %s: %w", iface, err)
	}
	vip := virtualIP
	if idx := strings.Index(vip, "/"); idx >= 0 {
		vip = vip[:idx]
	}
	isMaster := false
	gjson.GetBytes(out, "0.addr_info").ForEach(func(_, addr gjson.Result) bool {
		if addr.Get("local").String() == vip {
			isMaster = true
			return false
		}
		return true
	})
	return KeepalivedStatus{Interface: iface, IsMaster: isMaster}, nil
}
