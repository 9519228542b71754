// Package main is fleetctl, the operator CLI for managing orchestrator
// user accounts and agent bearer tokens, per spec.md §6. It talks
// straight to the Postgres store — there is no admin REST API to go
// through (see SPEC_FULL.md §1).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/hostfleet/orchestrator/internal/core/apperr"
	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/secrets"
	"github.com/hostfleet/orchestrator/internal/store"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("no command specified")
	}

	cmd, rest := args[0], args[1:]
	if cmd == "help" {
		printUsage()
		return nil
	}

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		return errors.New("DATABASE_DSN is required")
	}
	pg, err := store.Open(dsn)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pg.Close()
	st := pg.AsStore()

	switch cmd {
	case "create-user":
		return createUser(ctx, st, rest)
	case "list-users":
		return listUsers(ctx, st)
	case "create-agent-token":
		return createAgentToken(ctx, st, rest)
	case "list-agent-tokens":
		return listAgentTokens(ctx, st)
	case "revoke-agent-token":
		return revokeAgentToken(ctx, st, rest)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage() {
	fmt.Println(`fleetctl - orchestrator operator CLI

Usage:
  fleetctl create-user <name> <password> [admin|viewer]
  fleetctl create-agent-token <serverId>
  fleetctl list-agent-tokens
  fleetctl revoke-agent-token <id>
  fleetctl list-users
  fleetctl help

Environment:
  DATABASE_DSN   PostgreSQL connection string (required)`)
}

func createUser(ctx context.Context, st *store.Store, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: create-user <name> <password> [admin|viewer]")
	}
	name, password := args[0], args[1]
	role := model.RoleAdmin
	if len(args) >= 3 {
		switch args[2] {
		case "admin":
			role = model.RoleAdmin
		case "viewer":
			role = model.RoleViewer
		default:
			return fmt.Errorf("invalid role %q: must be admin or viewer", args[2])
		}
	}

	hash, err := secrets.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u, err := st.Users.Create(ctx, model.User{Username: name, PasswordHash: hash, Role: role})
	if err != nil {
		return err
	}
	fmt.Printf("created user %s (%s), id=%s\n", u.Username, u.Role, u.ID)
	return nil
}

func listUsers(ctx context.Context, st *store.Store) error {
	users, err := st.Users.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tROLE\tCREATED")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Role, u.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func createAgentToken(ctx context.Context, st *store.Store, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: create-agent-token <serverId>")
	}
	serverID := args[0]

	srv, err := st.Servers.Get(ctx, serverID)
	if err != nil {
		return err
	}

	token, err := secrets.GenerateToken()
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	srv.AuthTokenHash = secrets.HashToken(token)
	if _, err := st.Servers.Update(ctx, srv); err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}

func listAgentTokens(ctx context.Context, st *store.Store) error {
	servers, err := st.Servers.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER ID\tNAME\tHAS TOKEN\tSTATUS")
	for _, s := range servers {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", s.ID, s.Name, s.AuthTokenHash != "", s.AgentStatus)
	}
	return w.Flush()
}

func revokeAgentToken(ctx context.Context, st *store.Store, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: revoke-agent-token <serverId>")
	}
	srv, err := st.Servers.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if srv.AuthTokenHash == "" {
		return apperr.NotFoundf("agent token for server", args[0])
	}
	srv.AuthTokenHash = ""
	if _, err := st.Servers.Update(ctx, srv); err != nil {
		return err
	}
	fmt.Printf("revoked agent token for server %s\n", srv.ID)
	return nil
}
