package model

import "time"

// Role is an operator account's privilege level.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// User is a human operator account for fleetctl / the admin API, as
// opposed to a Server's agent bearer token.
type User struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt hash, never the raw password
	Role         Role
	CreatedAt    time.Time
}
