package helper

import (
	"os"
	"path/filepath"
	"strings"
)

// resolveWithinAny rejects path traversal and NUL bytes outright, then
// requires path to symlink-resolve inside one of prefixes. The path's
// final component may not exist yet — write_file/mkdir create it — but
// every prefix comparison is done against resolved, existing ancestors
// so a symlinked parent cannot smuggle the write outside the allow-list.
func resolveWithinAny(path string, prefixes []string) (string, error) {
	if strings.Contains(path, "\x00") {
		return "", invalid("path contains a NUL byte")
	}
	if strings.Contains(path, "..") {
		return "", invalid("path %q contains a traversal segment", path)
	}
	if !filepath.IsAbs(path) {
		return "", invalid("path %q must be absolute", path)
	}
	if len(prefixes) == 0 {
		return "", invalid("no allow-listed prefixes configured")
	}

	resolved, err := resolveExistingPrefix(path)
	if err != nil {
		return "", err
	}

	for _, prefix := range prefixes {
		resolvedPrefix, err := filepath.EvalSymlinks(prefix)
		if err != nil {
			resolvedPrefix = filepath.Clean(prefix)
		}
		if withinPrefix(resolved, resolvedPrefix) {
			return resolved, nil
		}
	}
	return "", invalid("path %q resolves outside every allow-listed prefix", path)
}

// resolveExistingPrefix symlink-resolves the longest existing prefix of
// path and reapplies the remaining, not-yet-created components on top,
// so a request to create a brand-new file or directory can still be
// checked against its real, symlink-resolved ancestry.
func resolveExistingPrefix(path string) (string, error) {
	clean := filepath.Clean(path)
	var tail []string
	cur := clean
	for {
		if _, err := os.Lstat(cur); err == nil {
			break
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	resolved, err := filepath.EvalSymlinks(cur)
	if err != nil {
		return "", invalid("cannot resolve %q: %v", cur, err)
	}
	for _, seg := range tail {
		resolved = filepath.Join(resolved, seg)
	}
	return resolved, nil
}

// withinPrefix reports whether resolved is prefix or a descendant of it.
func withinPrefix(resolved, prefix string) bool {
	if resolved == prefix {
		return true
	}
	return strings.HasPrefix(resolved, prefix+string(filepath.Separator))
}
