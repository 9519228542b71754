// Package config provides environment-aware configuration loading for the
// orchestrator, agent, and privileged-helper processes, following the
// env-var-plus-dotenv convention the rest of this codebase uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment is the deployment environment a process is running under.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// ParseEnvironment parses s into an Environment, defaulting to
// Development on empty input.
func ParseEnvironment(s string) (Environment, bool) {
	switch Environment(strings.ToLower(s)) {
	case Development, Testing, Production:
		return Environment(strings.ToLower(s)), true
	case "":
		return Development, true
	default:
		return "", false
	}
}

func loadDotenv(env Environment) {
	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	_ = godotenv.Load(configFile) // optional; absence is not an error
}

// Orchestrator holds every setting the orchestratord process needs.
type Orchestrator struct {
	Env Environment

	HTTPAddr     string
	SessionAddr  string // websocket listener address for agent sessions
	DatabaseDSN  string
	RedisAddr    string // optional; empty disables distributed locking
	MasterKeyHex string // AES-256 key for secret encryption, hex-encoded
	DevMasterKey bool   // true only outside Production: derive a deterministic dev key

	ProxyAdminURL     string
	BootstrapInterval time.Duration
	PortRangeStart    int
	PortRangeEnd      int
	ManifestDir       string // directory of app manifest YAML files

	LogLevel  string
	LogFormat string

	MetricsEnabled bool
	MetricsAddr    string

	HeartbeatTimeout time.Duration
}

// LoadOrchestrator reads orchestrator configuration from the environment,
// optionally pre-seeded from config/<env>.env.
func LoadOrchestrator() (*Orchestrator, error) {
	env, ok := ParseEnvironment(os.Getenv("ORCHESTRATOR_ENV"))
	if !ok {
		return nil, fmt.Errorf("invalid ORCHESTRATOR_ENV: %s", os.Getenv("ORCHESTRATOR_ENV"))
	}
	loadDotenv(env)

	c := &Orchestrator{Env: env}
	c.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	c.SessionAddr = getEnv("SESSION_ADDR", ":8443")
	c.DatabaseDSN = getEnv("DATABASE_DSN", "")
	if c.DatabaseDSN == "" {
		return nil, fmt.Errorf("DATABASE_DSN is required")
	}
	c.RedisAddr = getEnv("REDIS_ADDR", "")
	c.MasterKeyHex = getEnv("MASTER_KEY", "")
	c.DevMasterKey = c.MasterKeyHex == "" && env != Production

	c.ProxyAdminURL = getEnv("PROXY_ADMIN_URL", "http://127.0.0.1:8888/admin/routes")
	interval, err := time.ParseDuration(getEnv("BOOTSTRAP_INTERVAL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid BOOTSTRAP_INTERVAL: %w", err)
	}
	c.BootstrapInterval = interval
	c.PortRangeStart = getIntEnv("PORT_RANGE_START", 20000)
	c.PortRangeEnd = getIntEnv("PORT_RANGE_END", 29999)
	c.ManifestDir = getEnv("MANIFEST_DIR", "/etc/fleet/manifests")

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", env == Production)
	c.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	hb, err := time.ParseDuration(getEnv("HEARTBEAT_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEARTBEAT_TIMEOUT: %w", err)
	}
	c.HeartbeatTimeout = hb

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate enforces production-only hardening checks, following the
// teacher's IsProduction-gated Validate pattern.
func (c *Orchestrator) Validate() error {
	if c.Env == Production {
		if c.MasterKeyHex == "" {
			return fmt.Errorf("MASTER_KEY is required in production")
		}
		if c.DevMasterKey {
			return fmt.Errorf("refusing a derived dev master key in production")
		}
	}
	if c.PortRangeStart >= c.PortRangeEnd {
		return fmt.Errorf("PORT_RANGE_START must be less than PORT_RANGE_END")
	}
	return nil
}

// Agent holds every setting the agentd process needs.
type Agent struct {
	Env Environment

	ServerID        string
	OrchestratorURL string // wss://host:port/session
	AuthToken       string
	HelperSocket    string
	SandboxRoot     string

	LogLevel  string
	LogFormat string

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	HeartbeatEvery   time.Duration
}

// LoadAgent reads agent configuration from the environment.
func LoadAgent() (*Agent, error) {
	env, ok := ParseEnvironment(os.Getenv("AGENT_ENV"))
	if !ok {
		return nil, fmt.Errorf("invalid AGENT_ENV: %s", os.Getenv("AGENT_ENV"))
	}
	loadDotenv(env)

	c := &Agent{Env: env}
	c.ServerID = getEnv("SERVER_ID", "")
	if c.ServerID == "" {
		return nil, fmt.Errorf("SERVER_ID is required")
	}
	c.OrchestratorURL = getEnv("ORCHESTRATOR_URL", "")
	if c.OrchestratorURL == "" {
		return nil, fmt.Errorf("ORCHESTRATOR_URL is required")
	}
	c.AuthToken = getEnv("AGENT_AUTH_TOKEN", "")
	if c.AuthToken == "" {
		return nil, fmt.Errorf("AGENT_AUTH_TOKEN is required")
	}
	c.HelperSocket = getEnv("HELPER_SOCKET", "/run/fleet-helper.sock")
	c.SandboxRoot = getEnv("SANDBOX_ROOT", "/opt/fleet-apps")

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	var err error
	c.ReconnectInitial, err = time.ParseDuration(getEnv("RECONNECT_INITIAL", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_INITIAL: %w", err)
	}
	c.ReconnectMax, err = time.ParseDuration(getEnv("RECONNECT_MAX", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_MAX: %w", err)
	}
	c.HeartbeatEvery, err = time.ParseDuration(getEnv("HEARTBEAT_EVERY", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEARTBEAT_EVERY: %w", err)
	}
	return c, nil
}

// Helper holds every setting the privileged helperd process needs.
type Helper struct {
	Env Environment

	SocketPath    string
	SocketPerm    os.FileMode
	AllowListPath string
	RegistryDir   string

	LogLevel  string
	LogFormat string
}

// LoadHelper reads helper configuration from the environment.
func LoadHelper() (*Helper, error) {
	env, ok := ParseEnvironment(os.Getenv("HELPER_ENV"))
	if !ok {
		return nil, fmt.Errorf("invalid HELPER_ENV: %s", os.Getenv("HELPER_ENV"))
	}
	loadDotenv(env)

	c := &Helper{Env: env}
	c.SocketPath = getEnv("HELPER_SOCKET", "/run/fleet-helper.sock")
	c.SocketPerm = os.FileMode(getIntEnv("HELPER_SOCKET_MODE", 0660))
	c.AllowListPath = getEnv("HELPER_ALLOWLIST", "/etc/fleet-helper/allowlist.json")
	if c.AllowListPath == "" {
		return nil, fmt.Errorf("HELPER_ALLOWLIST is required")
	}
	c.RegistryDir = getEnv("HELPER_REGISTRY_DIR", "/var/lib/fleet-helper/registry")

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")
	return c, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
