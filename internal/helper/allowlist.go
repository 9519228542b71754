// Package helper implements the privileged helper's validation and
// action-dispatch layer: spec.md §4.1's allow-lists gate every root
// operation before internal/helper/exec.go ever touches the system.
package helper

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	usernamePattern    = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
	ownerPattern       = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}(:[a-z_][a-z0-9_-]{0,31})?$`)
	octalModePattern   = regexp.MustCompile(`^0?[0-7]{3,4}$`)
	servicePattern     = regexp.MustCompile(`^[a-z][a-z0-9_.@-]{0,63}\.service$`)
	capabilityPattern  = regexp.MustCompile(`^cap_[a-z_]+=\+[a-z]+$`)
	nfsSourcePattern   = regexp.MustCompile(`^[a-zA-Z0-9.-]+:/[a-zA-Z0-9._/-]*$`)
	cifsSourcePattern  = regexp.MustCompile(`^//[a-zA-Z0-9.-]+/[a-zA-Z0-9._ -]+$`)
	runAsUserArgSafe   = regexp.MustCompile(`^[a-zA-Z0-9._/=:,+@-]+$`)
	mountOptionPattern = regexp.MustCompile(`^(uid|gid|rsize|wsize|timeo)=[0-9]+$|^file_mode=0[0-7]{3}$|^dir_mode=0[0-7]{3}$`)
)

// plainMountOptions is the enumerated set of mount options that need no
// value, in addition to mountOptionPattern's parameterized forms.
var plainMountOptions = map[string]bool{
	"ro": true, "rw": true, "soft": true, "hard": true, "vers=3": true,
	"vers=4": true, "vers=4.1": true, "nolock": true, "noauto": true,
	"_netdev": true, "nofail": true,
}

// ValidationError is returned whenever a request fails an allow-list
// check, matching spec.md §4.1's "Validation failed: …" wording.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "Validation failed: " + e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// AllowList holds every value/path allow-list the helper validates
// requests against, loaded once at startup from the agent's trusted
// configuration (never from the request itself).
type AllowList struct {
	AllowedDirPrefixes   []string          `json:"allowedDirPrefixes"`   // create_directory / set_ownership / set_permissions roots
	AllowedWritePrefixes []string          `json:"allowedWritePrefixes"` // write_file / copy_file destination roots
	MountPointPrefixes   []string          `json:"mountPointPrefixes"`   // "/mnt/", "/var/lib/.../mounts/"
	UserCommands         map[string]string `json:"userCommands"`        // username -> absolute path of the one command it may run
	SystemServices       map[string]bool   `json:"systemServices"`      // services systemctl may touch without a register_service marker
}

// LoadAllowList reads an AllowList from a JSON file, the trusted
// configuration spec.md §4.1 says every allow-list is loaded from once
// at startup, never from a request.
func LoadAllowList(path string) (*AllowList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("helper: read allow-list: %w", err)
	}
	var a AllowList
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("helper: parse allow-list: %w", err)
	}
	return &a, nil
}

// ValidateUsername checks a Linux username against useradd's own naming
// rules, tightened to reject anything with shell-significant characters.
func (a *AllowList) ValidateUsername(name string) error {
	if !usernamePattern.MatchString(name) {
		return invalid("username %q does not match the allowed pattern", name)
	}
	return nil
}

// ValidateOwner checks a "user[:group]" chown argument.
func (a *AllowList) ValidateOwner(owner string) error {
	if !ownerPattern.MatchString(owner) {
		return invalid("owner %q does not match user[:group]", owner)
	}
	return nil
}

// ValidateMode checks an octal chmod mode string.
func (a *AllowList) ValidateMode(mode string) error {
	if !octalModePattern.MatchString(mode) {
		return invalid("mode %q is not a valid octal permission", mode)
	}
	return nil
}

// ValidateServiceName checks a systemd unit name.
func (a *AllowList) ValidateServiceName(name string) error {
	if !servicePattern.MatchString(name) {
		return invalid("service name %q does not match the allowed pattern", name)
	}
	return nil
}

// ValidateCapability checks a setcap capability string, e.g.
// "cap_net_bind_service=+ep".
func (a *AllowList) ValidateCapability(cap string) error {
	if !capabilityPattern.MatchString(cap) {
		return invalid("capability %q does not match the allowed pattern", cap)
	}
	return nil
}

// ValidateMountPoint checks that a mount target falls under one of the
// configured mount-point prefixes.
func (a *AllowList) ValidateMountPoint(path string) error {
	_, err := resolveWithinAny(path, a.MountPointPrefixes)
	if err != nil {
		return invalid("mount point %q: %v", path, err)
	}
	return nil
}

// ValidateMountSource checks an NFS "host:/path" or CIFS "//host/share"
// source string against the fstype it is being mounted as.
func (a *AllowList) ValidateMountSource(fstype, source string) error {
	switch strings.ToLower(fstype) {
	case "nfs", "nfs4":
		if !nfsSourcePattern.MatchString(source) {
			return invalid("NFS source %q does not match host:/path", source)
		}
	case "cifs":
		if !cifsSourcePattern.MatchString(source) {
			return invalid("CIFS source %q does not match //host/share", source)
		}
	default:
		return invalid("unsupported mount filesystem type %q", fstype)
	}
	return nil
}

// ValidateMountOptions checks every comma-separated mount option against
// the plain enumeration or the parameterized patterns.
func (a *AllowList) ValidateMountOptions(opts []string) error {
	for _, o := range opts {
		if plainMountOptions[o] || mountOptionPattern.MatchString(o) {
			continue
		}
		return invalid("mount option %q is not allow-listed", o)
	}
	return nil
}

// ValidateRunAsUserArgs checks that every argument to run_as_user is free
// of shell metacharacters, newlines, and null bytes.
func (a *AllowList) ValidateRunAsUserArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, "\x00\n\r") {
			return invalid("argument contains a disallowed control character")
		}
		if !runAsUserArgSafe.MatchString(arg) {
			return invalid("argument %q contains a disallowed character", arg)
		}
	}
	return nil
}

// ResolveUserCommand returns the absolute path the given user is
// whitelisted to run, or an error if the user has no whitelisted command.
func (a *AllowList) ResolveUserCommand(user string) (string, error) {
	path, ok := a.UserCommands[user]
	if !ok {
		return "", invalid("user %q has no whitelisted command", user)
	}
	return path, nil
}

// ValidateDirectoryPath checks a create_directory/set_ownership/
// set_permissions target against AllowedDirPrefixes, resolving symlinks
// and rejecting traversal.
func (a *AllowList) ValidateDirectoryPath(path string) (string, error) {
	return resolveWithinAny(path, a.AllowedDirPrefixes)
}

// ValidateWritePath checks a write_file/copy_file destination against
// AllowedWritePrefixes, resolving symlinks and rejecting traversal.
func (a *AllowList) ValidateWritePath(path string) (string, error) {
	return resolveWithinAny(path, a.AllowedWritePrefixes)
}
