package helper

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hostfleet/orchestrator/internal/wire"
)

// Handler dispatches validated HelperRequests to the exec layer. Every
// action is matched against AllowList before it reaches exec.go; nothing
// here ever builds a shell command line.
type Handler struct {
	log      zerolog.Logger
	allow    *AllowList
	registry *ServiceRegistry
	run      runner
}

// NewHandler builds a Handler. log should already be scoped to this
// process; allow and reg are loaded once at startup.
func NewHandler(log zerolog.Logger, allow *AllowList, reg *ServiceRegistry) *Handler {
	return &Handler{log: log, allow: allow, registry: reg, run: execRunner{}}
}

// Handle validates and executes one request, never panicking and always
// returning a response — the caller never needs to synthesize one on the
// dispatch layer's behalf.
func (h *Handler) Handle(ctx context.Context, req wire.HelperRequest) wire.HelperResponse {
	h.log.Info().
		Str("id", req.ID).
		Str("action", string(req.Action)).
		Msg("helper: request received")

	if !req.Action.Valid() {
		return h.fail(req.ID, invalid("action %q is not recognized", req.Action))
	}

	stdout, err := h.dispatch(ctx, req)
	if err != nil {
		h.log.Warn().Str("id", req.ID).Str("action", string(req.Action)).Err(err).Msg("helper: request failed")
		return h.fail(req.ID, err)
	}
	h.log.Info().Str("id", req.ID).Str("action", string(req.Action)).Msg("helper: request succeeded")
	return wire.HelperResponse{ID: req.ID, OK: true, Stdout: stdout}
}

func (h *Handler) fail(id string, err error) wire.HelperResponse {
	return wire.HelperResponse{ID: id, OK: false, Error: err.Error()}
}

func (h *Handler) dispatch(ctx context.Context, req wire.HelperRequest) (string, error) {
	args := req.Args
	switch req.Action {
	case wire.HelperCreateServiceUser:
		if len(args) != 1 {
			return "", invalid("create_service_user takes exactly one argument")
		}
		return h.createServiceUser(ctx, args[0])

	case wire.HelperCreateDirectory:
		if len(args) < 1 || len(args) > 2 {
			return "", invalid("create_directory takes 1 or 2 arguments")
		}
		mode := ""
		if len(args) == 2 {
			mode = args[1]
		}
		return h.createDirectory(ctx, args[0], mode)

	case wire.HelperSetOwnership:
		if len(args) != 2 {
			return "", invalid("set_ownership takes exactly two arguments")
		}
		return h.setOwnership(ctx, args[0], args[1])

	case wire.HelperSetPermissions:
		if len(args) != 2 {
			return "", invalid("set_permissions takes exactly two arguments")
		}
		return h.setPermissions(ctx, args[0], args[1])

	case wire.HelperWriteFile:
		if len(args) != 1 {
			return "", invalid("write_file takes exactly one argument")
		}
		return h.writeFile(args[0], req.Content)

	case wire.HelperCopyFile:
		if len(args) != 2 {
			return "", invalid("copy_file takes exactly two arguments")
		}
		return h.copyFile(args[0], args[1])

	case wire.HelperSystemctl:
		if len(args) != 2 {
			return "", invalid("systemctl takes exactly two arguments")
		}
		return h.systemctl(ctx, args[0], args[1])

	case wire.HelperSetCapability:
		if len(args) != 2 {
			return "", invalid("set_capability takes exactly two arguments")
		}
		return h.setCapability(ctx, args[0], args[1])

	case wire.HelperRunAsUser:
		if len(args) < 1 {
			return "", invalid("run_as_user requires a username")
		}
		return h.runAsUser(ctx, args[0], args[1:])

	case wire.HelperMount:
		return h.dispatchMount(ctx, args, req.Content)

	case wire.HelperUnmount:
		if len(args) != 1 {
			return "", invalid("umount takes exactly one argument")
		}
		return h.unmount(ctx, args[0])

	case wire.HelperAptInstall:
		if len(args) != 1 {
			return "", invalid("apt_install takes exactly one argument")
		}
		return h.aptInstall(ctx, args[0])

	case wire.HelperRegisterService:
		if len(args) != 1 {
			return "", invalid("register_service takes exactly one argument")
		}
		if err := h.allow.ValidateServiceName(args[0]); err != nil {
			return "", err
		}
		return "", h.registry.Register(args[0])

	case wire.HelperUnregisterService:
		if len(args) != 1 {
			return "", invalid("unregister_service takes exactly one argument")
		}
		if err := h.allow.ValidateServiceName(args[0]); err != nil {
			return "", err
		}
		return "", h.registry.Unregister(args[0])

	default:
		return "", invalid("action %q has no dispatcher", req.Action)
	}
}

// dispatchMount handles mount's two source shapes: args = [fstype,
// source, target, opt...], with CIFS credentials (if any) passed in
// Content as "username=...\npassword=..." so they are written to a
// restrictive-permission temp file and never appear as a process
// argument, per spec.md §4.1.
func (h *Handler) dispatchMount(ctx context.Context, args []string, creds string) (string, error) {
	if len(args) < 3 {
		return "", invalid("mount requires fstype, source, and target")
	}
	fstype, source, target := args[0], args[1], args[2]
	opts := append([]string{}, args[3:]...)

	if strings.EqualFold(fstype, "cifs") && creds != "" {
		credsFile, cleanup, err := writeCredentialsFile(creds)
		if err != nil {
			return "", err
		}
		defer cleanup()
		opts = append(opts, "credentials="+credsFile)
	}
	return h.mount(ctx, fstype, source, target, opts)
}
