package helper

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"

	"github.com/rs/zerolog"

	"github.com/hostfleet/orchestrator/internal/wire"
)

// Server listens on a unix domain socket owned by the agent principal
// and serves newline-delimited JSON HelperRequest/HelperResponse frames,
// per spec.md §4.1: "no network listener ever."
type Server struct {
	log     zerolog.Logger
	handler *Handler
	ln      net.Listener
}

// Listen creates the unix socket at socketPath, restricting it to mode
// perm (0660 typically — readable/writable only by the agent principal's
// group), removing any stale socket file left by a prior crash.
func Listen(log zerolog.Logger, handler *Handler, socketPath string, perm os.FileMode) (*Server, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(socketPath, perm); err != nil {
		ln.Close()
		return nil, err
	}
	return &Server{log: log, handler: handler, ln: ln}, nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req wire.HelperRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(wire.HelperResponse{OK: false, Error: "Validation failed: malformed request"})
			continue
		}
		resp := s.handler.Handle(ctx, req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}
