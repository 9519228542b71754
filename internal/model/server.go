// Package model holds the data types shared across every orchestrator
// package: servers, app manifests, deployments, services, routes, and
// secrets, as described in spec.md §3.
package model

import "time"

// AgentStatus is the connectivity state of a server's agent.
type AgentStatus string

const (
	AgentOnline     AgentStatus = "online"
	AgentOffline    AgentStatus = "offline"
	AgentConnecting AgentStatus = "connecting"
)

// Metrics is the resource-usage snapshot an agent reports on its status
// heartbeat.
type Metrics struct {
	CPUPercent   float64    `json:"cpuPercent"`
	MemoryUsed   uint64     `json:"memoryUsed"`
	MemoryTotal  uint64     `json:"memoryTotal"`
	DiskUsed     uint64     `json:"diskUsed"`
	DiskTotal    uint64     `json:"diskTotal"`
	LoadAverage  [3]float64 `json:"loadAverage"` // 1m, 5m, 15m
}

// NetworkInfo is optional network metadata an agent may report.
type NetworkInfo struct {
	PrimaryInterface string   `json:"primaryInterface,omitempty"`
	Addresses        []string `json:"addresses,omitempty"`
}

// Server is a single host in the fleet. Exactly one Server has IsCore
// true; it is never deletable (spec.md §3).
type Server struct {
	ID            string
	Name          string
	Host          string
	IsCore        bool
	AgentStatus   AgentStatus
	AuthTokenHash string // SHA-256 of the agent's bearer token, never the raw token
	Metrics       *Metrics
	NetworkInfo   *NetworkInfo
	LastSeen      *time.Time
}
