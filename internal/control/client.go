package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// DefaultTimeout covers a manual audit that waits on the model
const DefaultTimeout = 30 * time.Second

// Client sends commands to a running daemon
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for socketPath
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: DefaultTimeout}
}

// SetTimeout sets the per-command timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Send issues cmd and waits for the response. A response with Success
// false is returned as an error.
func (c *Client) Send(cmd Command) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sentinel daemon (is it running?): %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}
	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if !resp.Success {
		return &resp, fmt.Errorf("%s: %s", resp.Message, resp.Error)
	}
	return &resp, nil
}

// Status requests the daemon status
func (c *Client) Status() (*Response, error) {
	return c.Send(Command{Type: CommandStatus})
}

// Audit requests an immediate audit of path
func (c *Client) Audit(path string) (*Response, error) {
	return c.Send(Command{Type: CommandAudit, Path: path})
}

// Claim asks the daemon to validate an agent's claimed artifacts
func (c *Client) Claim(agentID string, artifacts []string) (*Response, error) {
	return c.Send(Command{Type: CommandClaim, AgentID: agentID, Artifacts: artifacts})
}

// Verify asks the daemon to verify the ledger chain
func (c *Client) Verify() (*Response, error) {
	return c.Send(Command{Type: CommandVerify})
}
