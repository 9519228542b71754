// Package executor implements the agent-side on-host materialization of
// a command: path-sandboxed file writes, script execution with a
// scrubbed environment, systemd/service control routed through the
// privileged helper, and log retrieval/streaming, per spec.md §4.2.
package executor

import (
	"path/filepath"
	"strings"
)

// systemPrefixes are real system paths that always route through the
// privileged helper rather than being written by the agent's own,
// unprivileged process.
var systemPrefixes = []string{"/etc/", "/var/log/", "/run/", "/usr/", "/usr/lib/", "/lib/"}

// Paths is the set of per-app directories the executor confines an app's
// file operations to, all rooted under the configured sandbox root.
type Paths struct {
	Root   string
	AppDir string
	Config string
	Data   string
	Log    string
}

// pathsFor derives an app's sandboxed directory set from the executor's
// configured root.
func pathsFor(root, appName string) Paths {
	return Paths{
		Root:   root,
		AppDir: filepath.Join(root, "apps", appName),
		Config: filepath.Join(root, "config", appName),
		Data:   filepath.Join(root, "data", appName),
		Log:    filepath.Join(root, "logs", appName),
	}
}

// validatePath normalizes path, rejects traversal, and requires it to
// fall under one of the app's sandboxed directories. It never consults
// the filesystem — existence and symlink resolution for privileged
// targets are the helper's job; this only bounds what the agent's own
// unprivileged writes may touch.
func (p Paths) validatePath(path string) (string, error) {
	if strings.Contains(path, "\x00") {
		return "", errf("path contains a NUL byte")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.AppDir, path)
	}
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return "", errf("path %q escapes the sandbox", path)
	}
	if isSystemPath(clean) {
		// Real system paths (e.g. /etc/keepalived/keepalived.conf) are
		// always written through the privileged helper, which applies its
		// own allow-list; the agent's sandbox only needs to rule out
		// traversal here.
		return clean, nil
	}
	for _, root := range []string{p.AppDir, p.Config, p.Data, p.Log} {
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return clean, nil
		}
	}
	return "", errf("path %q is outside the app's sandboxed directories", path)
}

// isSystemPath reports whether path is a real system path that must be
// written through the privileged helper rather than directly.
func isSystemPath(path string) bool {
	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
