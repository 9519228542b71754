package model

import "time"

// DeploymentStatus is the deployment state machine from spec.md §4.7.
type DeploymentStatus string

const (
	StatusPending      DeploymentStatus = "pending"
	StatusInstalling   DeploymentStatus = "installing"
	StatusConfiguring  DeploymentStatus = "configuring"
	StatusRunning      DeploymentStatus = "running"
	StatusStopped      DeploymentStatus = "stopped"
	StatusUninstalling DeploymentStatus = "uninstalling"
	StatusError        DeploymentStatus = "error"
)

// Deployment is a concrete installation of a manifest on a specific
// server.
type Deployment struct {
	ID            string
	ServerID      string
	AppName       string
	GroupID       string
	Version       string
	Config        map[string]any
	Status        DeploymentStatus
	StatusMessage string
	InstalledAt   time.Time
	UpdatedAt     time.Time
}

// ServiceStatus is the availability of a registered service record.
type ServiceStatus string

const (
	ServiceAvailable   ServiceStatus = "available"
	ServiceUnavailable ServiceStatus = "unavailable"
)

// ServiceRecord is a (deployment, name, host, port) tuple advertised to
// consumers.
type ServiceRecord struct {
	ID           string
	DeploymentID string
	ServiceName  string
	ServerID     string
	Host         string
	Port         int
	Status       ServiceStatus
}

// ProxyRoute is a web-UI route, keyed by deployment.
type ProxyRoute struct {
	ID           string
	DeploymentID string
	Path         string
	Upstream     string
	Active       bool
}

// RouteType distinguishes an HTTP path route from a TCP port route.
type RouteType string

const (
	RouteHTTP RouteType = "http"
	RouteTCP  RouteType = "tcp"
)

// ServiceRoute is a service route, keyed by service.
type ServiceRoute struct {
	ID            string
	ServiceID     string
	RouteType     RouteType
	ExternalPath  string
	ExternalPort  int
	UpstreamHost  string
	UpstreamPort  int
	Active        bool
}

// SecretBlob is the single encrypted secret record belonging to a
// deployment.
type SecretBlob struct {
	DeploymentID string
	Ciphertext   []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
	RotatedAt    *time.Time
}

// AuditRecord is a single audit log entry.
type AuditRecord struct {
	ID         string
	Action     string
	ServerID   string
	AppName    string
	DeployID   string
	Success    bool
	Message    string
	OccurredAt time.Time
}
