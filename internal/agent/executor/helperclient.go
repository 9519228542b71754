package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/hostfleet/orchestrator/internal/core/ids"
	"github.com/hostfleet/orchestrator/internal/wire"
)

// HelperClient sends HelperRequests to the privileged helper over its
// unix domain socket, one connection per call — the helper's own
// protocol is one frame in, one frame out, so there is no session state
// worth keeping open between calls.
type HelperClient struct {
	socketPath string
	dialer     net.Dialer
}

// NewHelperClient builds a client dialing socketPath.
func NewHelperClient(socketPath string) *HelperClient {
	return &HelperClient{socketPath: socketPath, dialer: net.Dialer{Timeout: 5 * time.Second}}
}

// Call sends a request and blocks for the matching response.
func (c *HelperClient) Call(ctx context.Context, action wire.HelperAction, args []string, content string) (wire.HelperResponse, error) {
	conn, err := c.dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return wire.HelperResponse{}, fmt.Errorf("executor: dial privileged helper: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := wire.HelperRequest{ID: ids.New(), Action: action, Args: args, Content: content}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return wire.HelperResponse{}, fmt.Errorf("executor: send helper request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return wire.HelperResponse{}, fmt.Errorf("executor: read helper response: %w", err)
		}
		return wire.HelperResponse{}, fmt.Errorf("executor: helper closed the connection without a response")
	}
	var resp wire.HelperResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return wire.HelperResponse{}, fmt.Errorf("executor: decode helper response: %w", err)
	}
	return resp, nil
}
