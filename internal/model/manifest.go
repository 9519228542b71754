package model

// FieldType is the type of a single manifest config field.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldPassword FieldType = "password"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldSelect   FieldType = "select"
)

// ConfigField describes one entry of an app manifest's config schema.
type ConfigField struct {
	Name        string    `yaml:"name"`
	Label       string    `yaml:"label"`
	Type        FieldType `yaml:"type"`
	Required    bool      `yaml:"required"`
	Default     any       `yaml:"default"`
	Options     []string  `yaml:"options"` // whitelist for FieldSelect
	Generated   bool      `yaml:"generated"`
	Secret      bool      `yaml:"secret"`
	InheritFrom string    `yaml:"inheritFrom"` // dependency service name to inherit a value from
}

// Protocol is the transport a ServiceDef advertises.
type Protocol string

const (
	ProtocolHTTP Protocol = "http"
	ProtocolTCP  Protocol = "tcp"
)

// ServiceDef is one service an app manifest provides.
type ServiceDef struct {
	Name     string   `yaml:"name"`
	Port     int      `yaml:"port"`
	Protocol Protocol `yaml:"protocol"`
}

// Locality constrains where a required service's provider may live.
type Locality string

const (
	LocalitySameHost Locality = "same-host"
	LocalityAny      Locality = "any"
)

// ServiceReq is one service an app manifest requires.
type ServiceReq struct {
	Service  string   `yaml:"service"`
	Optional bool     `yaml:"optional"`
	Locality Locality `yaml:"locality"`
}

// WebUI describes an app's web UI exposure, if any.
type WebUI struct {
	Enabled  bool   `yaml:"enabled"`
	BasePath string `yaml:"basePath"`
	Port     int    `yaml:"port"`
}

// ManifestFile is one file the agent executor materializes under the
// app's sandboxed directory on install/configure, per spec.md §4.2.
// Path is relative to the app's config directory; Content may contain
// Go template directives the deployer has already rendered against the
// resolved config before the command is dispatched.
type ManifestFile struct {
	Path    string `yaml:"path" json:"path"`
	Content string `yaml:"content" json:"content"`
	Mode    string `yaml:"mode" json:"mode"` // octal, e.g. "0640"; empty means the executor's default
}

// ManifestScripts names the lifecycle scripts a manifest may ship,
// relative to the app directory. Any may be empty.
type ManifestScripts struct {
	Install   string `yaml:"install" json:"install"`
	Configure string `yaml:"configure" json:"configure"`
	Uninstall string `yaml:"uninstall" json:"uninstall"`
	Start     string `yaml:"start" json:"start"` // dev-mode fallback when no systemd unit exists
	Stop      string `yaml:"stop" json:"stop"`   // dev-mode fallback when no systemd unit exists
}

// Manifest is an immutable registry entry describing an installable app.
type Manifest struct {
	Name            string            `yaml:"name"`
	DisplayName     string            `yaml:"displayName"`
	Version         string            `yaml:"version"`
	Category        string            `yaml:"category"`
	ConfigSchema    []ConfigField     `yaml:"configSchema"`
	Provides        []ServiceDef      `yaml:"provides"`
	Requires        []ServiceReq      `yaml:"requires"`
	Conflicts       []string          `yaml:"conflicts"`
	WebUI           *WebUI            `yaml:"webUI"`
	ServiceUser     string            `yaml:"serviceUser"`
	ServiceGroup    string            `yaml:"serviceGroup"`
	DataDirectories []string          `yaml:"dataDirectories"`
	Capabilities    []string          `yaml:"capabilities"`
	Logging         map[string]string `yaml:"logging"`
	Files           []ManifestFile    `yaml:"files"`
	Scripts         ManifestScripts   `yaml:"scripts"`
	System          bool              `yaml:"system"`
	Mandatory       bool              `yaml:"mandatory"`
	Singleton       bool              `yaml:"singleton"`
}

// ConflictsWith reports whether this manifest lists other in its
// Conflicts, or vice versa — spec.md §3's invariant is symmetric.
func (m Manifest) ConflictsWith(other Manifest) bool {
	for _, c := range m.Conflicts {
		if c == other.Name {
			return true
		}
	}
	for _, c := range other.Conflicts {
		if c == m.Name {
			return true
		}
	}
	return false
}

// Provider returns the ServiceDef with the given name and true if present.
func (m Manifest) Provider(name string) (ServiceDef, bool) {
	for _, p := range m.Provides {
		if p.Name == name {
			return p, true
		}
	}
	return ServiceDef{}, false
}

// Field returns the ConfigField with the given name and true if present.
func (m Manifest) Field(name string) (ConfigField, bool) {
	for _, f := range m.ConfigSchema {
		if f.Name == name {
			return f, true
		}
	}
	return ConfigField{}, false
}
