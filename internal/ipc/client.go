package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Fieldsync.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueList returns queued mutations optionally filtered by statuses.
func (c *Client) QueueList(statuses []string) (*QueueListResponse, error) {
	var resp QueueListResponse
	if err := c.client.Call("Fieldsync.QueueList", QueueListRequest{Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueRetry resets failed mutations back to pending.
func (c *Client) QueueRetry(ids []string) (*QueueRetryResponse, error) {
	var resp QueueRetryResponse
	if err := c.client.Call("Fieldsync.QueueRetry", QueueRetryRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueClearFailed removes exhausted mutations.
func (c *Client) QueueClearFailed() (*QueueClearFailedResponse, error) {
	var resp QueueClearFailedResponse
	if err := c.client.Call("Fieldsync.QueueClearFailed", QueueClearFailedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Drain triggers a manual drain pass.
func (c *Client) Drain() (*DrainResponse, error) {
	var resp DrainResponse
	if err := c.client.Call("Fieldsync.Drain", DrainRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Fieldsync.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
