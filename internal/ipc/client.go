package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/cloudflared-fips/fips-installer/internal/history"
	"github.com/cloudflared-fips/fips-installer/internal/mode"
)

// RemoteError is an error reported by the daemon.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// Client talks to a Server over its Unix socket. Calls are serialized.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	mu      sync.Mutex
	nextID  int
}

// Dial connects to the daemon socket.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, maxMessage), 1024*1024)
	return &Client{conn: conn, scanner: scanner}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends one request and decodes the result into out (which may be nil).
// A daemon-side error is returned as *RemoteError; the result is still
// decoded so callers can inspect e.g. ModeResult.Class.
func (c *Client) Call(ctx context.Context, method string, params, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := c.closeOnDone(ctx)
	defer stop()

	c.nextID++
	req := Request{Method: method, ID: c.nextID}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		req.Params = raw
	}

	resp, err := c.roundTrip(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if resp.ID != req.ID {
		return fmt.Errorf("%s: response id %d does not match request id %d", method, resp.ID, req.ID)
	}
	return decodeResult(method, resp, out)
}

// Status returns the daemon's published status.
func (c *Client) Status(ctx context.Context) (mode.Status, error) {
	var st mode.Status
	err := c.Call(ctx, MethodStatus, nil, &st)
	return st, err
}

// Providers returns the supported profiles.
func (c *Client) Providers(ctx context.Context) ([]string, error) {
	var res ProvidersResult
	err := c.Call(ctx, MethodProviders, nil, &res)
	return res.AvailableProviders, err
}

// Enable requests FIPS mode with version.
func (c *Client) Enable(ctx context.Context, version string) (ModeResult, error) {
	var res ModeResult
	err := c.Call(ctx, MethodEnable, EnableParams{Version: version}, &res)
	return res, err
}

// Disable requests standard mode.
func (c *Client) Disable(ctx context.Context) (ModeResult, error) {
	var res ModeResult
	err := c.Call(ctx, MethodDisable, nil, &res)
	return res, err
}

// History returns up to limit journal entries, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]history.Entry, error) {
	var entries []history.Entry
	err := c.Call(ctx, MethodHistory, HistoryParams{Limit: limit}, &entries)
	return entries, err
}

// Ping checks the daemon is alive.
func (c *Client) Ping(ctx context.Context) (PingResult, error) {
	var res PingResult
	err := c.Call(ctx, MethodPing, nil, &res)
	return res, err
}

// Watch subscribes to status changes and calls fn for each one until ctx is
// cancelled, the daemon closes the stream, or fn returns an error. The
// connection cannot be used for other calls afterwards.
func (c *Client) Watch(ctx context.Context, fn func(mode.Status) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := c.closeOnDone(ctx)
	defer stop()

	c.nextID++
	req := Request{Method: MethodWatch, ID: c.nextID}
	if err := c.send(req); err != nil {
		return err
	}

	for {
		resp, err := c.receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var st mode.Status
		if err := decodeResult(MethodWatch, resp, &st); err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
	}
}

func (c *Client) roundTrip(req Request) (Response, error) {
	if err := c.send(req); err != nil {
		return Response{}, err
	}
	return c.receive()
}

func (c *Client) send(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

func (c *Client) receive() (Response, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("read response: %w", err)
		}
		return Response{}, errors.New("read response: connection closed")
	}
	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// closeOnDone closes the connection when ctx ends, unblocking reads.
func (c *Client) closeOnDone(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func decodeResult(method string, resp Response, out interface{}) error {
	if out != nil && resp.Result != nil {
		raw, err := json.Marshal(resp.Result)
		if err != nil {
			return fmt.Errorf("%s: re-encode result: %w", method, err)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	if resp.Error != nil {
		return &RemoteError{Method: method, Message: *resp.Error}
	}
	return nil
}
