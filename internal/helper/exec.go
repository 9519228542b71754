package helper

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
)

// runner executes a fixed binary with a fixed argument slice, never a
// shell string. It is a thin seam so tests can substitute a fake without
// forking real processes.
type runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return string(out), nil
}

func (h *Handler) createServiceUser(ctx context.Context, username string) (string, error) {
	if err := h.allow.ValidateUsername(username); err != nil {
		return "", err
	}
	return h.run.Run(ctx, "useradd", "--system", "--no-create-home", "--shell", "/usr/sbin/nologin", username)
}

func (h *Handler) createDirectory(ctx context.Context, path, mode string) (string, error) {
	resolved, err := h.allow.ValidateDirectoryPath(path)
	if err != nil {
		return "", err
	}
	if mode != "" {
		if err := h.allow.ValidateMode(mode); err != nil {
			return "", err
		}
	} else {
		mode = "0755"
	}
	perm, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return "", invalid("mode %q is not octal", mode)
	}
	if err := os.MkdirAll(resolved, os.FileMode(perm)); err != nil {
		return "", err
	}
	return "", nil
}

func (h *Handler) setOwnership(ctx context.Context, path, owner string) (string, error) {
	resolved, err := h.allow.ValidateDirectoryPath(path)
	if err != nil {
		if resolved, err = h.allow.ValidateWritePath(path); err != nil {
			return "", invalid("path %q is outside every allow-listed prefix", path)
		}
	}
	if err := h.allow.ValidateOwner(owner); err != nil {
		return "", err
	}
	return h.run.Run(ctx, "chown", owner, resolved)
}

func (h *Handler) setPermissions(ctx context.Context, path, mode string) (string, error) {
	resolved, err := h.allow.ValidateDirectoryPath(path)
	if err != nil {
		if resolved, err = h.allow.ValidateWritePath(path); err != nil {
			return "", invalid("path %q is outside every allow-listed prefix", path)
		}
	}
	if err := h.allow.ValidateMode(mode); err != nil {
		return "", err
	}
	return h.run.Run(ctx, "chmod", mode, resolved)
}

func (h *Handler) writeFile(path, content string) (string, error) {
	resolved, err := h.allow.ValidateWritePath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
		return "", err
	}
	return "", nil
}

func (h *Handler) copyFile(src, dst string) (string, error) {
	resolvedSrc, err := h.allow.ValidateWritePath(src)
	if err != nil {
		return "", err
	}
	resolvedDst, err := h.allow.ValidateWritePath(dst)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolvedSrc)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolvedDst), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(resolvedDst, data, 0644); err != nil {
		return "", err
	}
	return "", nil
}

func (h *Handler) systemctl(ctx context.Context, action, service string) (string, error) {
	if err := h.allow.ValidateServiceName(service); err != nil {
		return "", err
	}
	if !h.allow.SystemServices[service] && !h.registry.IsRegistered(service) {
		return "", invalid("service %q is not registered", service)
	}
	switch action {
	case "start", "stop", "restart", "enable", "disable", "status":
	default:
		return "", invalid("systemctl action %q is not allow-listed", action)
	}
	return h.run.Run(ctx, "systemctl", action, service)
}

func (h *Handler) setCapability(ctx context.Context, path, cap string) (string, error) {
	resolved, err := h.allow.ValidateWritePath(path)
	if err != nil {
		return "", err
	}
	if err := h.allow.ValidateCapability(cap); err != nil {
		return "", err
	}
	return h.run.Run(ctx, "setcap", cap, resolved)
}

func (h *Handler) runAsUser(ctx context.Context, user string, args []string) (string, error) {
	command, err := h.allow.ResolveUserCommand(user)
	if err != nil {
		return "", err
	}
	if err := h.allow.ValidateRunAsUserArgs(args); err != nil {
		return "", err
	}
	fullArgs := append([]string{"-u", user, command}, args...)
	return h.run.Run(ctx, "runuser", fullArgs...)
}

func (h *Handler) mount(ctx context.Context, fstype, source, target string, options []string) (string, error) {
	if err := h.allow.ValidateMountPoint(target); err != nil {
		return "", err
	}
	if err := h.allow.ValidateMountSource(fstype, source); err != nil {
		return "", err
	}
	if err := h.allow.ValidateMountOptions(options); err != nil {
		return "", err
	}
	args := []string{"-t", fstype}
	if len(options) > 0 {
		args = append(args, "-o", joinComma(options))
	}
	args = append(args, source, target)
	return h.run.Run(ctx, "mount", args...)
}

func (h *Handler) unmount(ctx context.Context, target string) (string, error) {
	if err := h.allow.ValidateMountPoint(target); err != nil {
		return "", err
	}
	return h.run.Run(ctx, "umount", target)
}

func (h *Handler) aptInstall(ctx context.Context, pkg string) (string, error) {
	if err := validatePackageName(pkg); err != nil {
		return "", err
	}
	return h.run.Run(ctx, "apt-get", "install", "-y", "--no-install-recommends", pkg)
}

func joinComma(opts []string) string {
	out := ""
	for i, o := range opts {
		if i > 0 {
			out += ","
		}
		out += o
	}
	return out
}

var packageNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]{0,127}$`)

func validatePackageName(pkg string) error {
	if !packageNamePattern.MatchString(pkg) {
		return invalid("package name %q does not match the allowed pattern", pkg)
	}
	return nil
}
