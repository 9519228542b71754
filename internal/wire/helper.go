package wire

// HelperAction is the closed set of actions the privileged helper accepts
// over its local unix socket, per spec.md §4.1's action dispatch layer.
type HelperAction string

const (
	HelperCreateServiceUser HelperAction = "create_service_user"
	HelperCreateDirectory   HelperAction = "create_directory"
	HelperSetOwnership      HelperAction = "set_ownership"
	HelperSetPermissions    HelperAction = "set_permissions"
	HelperWriteFile         HelperAction = "write_file"
	HelperCopyFile          HelperAction = "copy_file"
	HelperSystemctl         HelperAction = "systemctl"
	HelperSetCapability     HelperAction = "set_capability"
	HelperRunAsUser         HelperAction = "run_as_user"
	HelperMount             HelperAction = "mount"
	HelperUnmount           HelperAction = "umount"
	HelperAptInstall        HelperAction = "apt_install"
	HelperRegisterService   HelperAction = "register_service"
	HelperUnregisterService HelperAction = "unregister_service"
)

var validHelperActions = map[HelperAction]bool{
	HelperCreateServiceUser: true, HelperCreateDirectory: true,
	HelperSetOwnership: true, HelperSetPermissions: true,
	HelperWriteFile: true, HelperCopyFile: true, HelperSystemctl: true,
	HelperSetCapability: true, HelperRunAsUser: true, HelperMount: true,
	HelperUnmount: true, HelperAptInstall: true, HelperRegisterService: true,
	HelperUnregisterService: true,
}

// Valid reports whether a is a recognized helper action.
func (a HelperAction) Valid() bool { return validHelperActions[a] }

// HelperRequest is sent agent -> helper over the unix socket. Args is a
// fixed positional slice, never a shell string, so the helper never
// invokes a shell. Its meaning is action-specific; see internal/helper's
// per-action validators for the expected shape of each action's Args.
type HelperRequest struct {
	ID     string       `json:"id"`
	Action HelperAction `json:"action"`
	Args   []string     `json:"args,omitempty"`
	// Content carries write_file/copy_file payload bytes out of band
	// from Args so binary-unsafe data never needs escaping into a
	// string-slice positional grammar.
	Content string `json:"content,omitempty"`
}

// HelperResponse is sent helper -> agent, one per request, matching
// spec.md §4.1's {success, output?, error?} shape.
type HelperResponse struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Stdout string `json:"stdout,omitempty"`
}
