// Package client speaks the management protocol of a mux-mgmt server.
//
// Every call opens its own connection, reads the greeting, sends one
// command and reads until the server closes the connection, which is how
// the server delimits responses.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/randomizedcoder/go-mux-mgmt/internal/mgmt"
	"github.com/randomizedcoder/go-mux-mgmt/internal/ptree"
	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
)

const (
	// DefaultTimeout bounds a request that does not wait on the engine.
	DefaultTimeout = 2 * time.Second

	// maxResponse caps how much of a response is read.
	maxResponse = 16 << 20
)

var (
	// ErrInvalidCommand is returned when the server rejects the command.
	ErrInvalidCommand = errors.New("server rejected command")

	// ErrBadGreeting is returned when the peer does not greet like a
	// management server.
	ErrBadGreeting = errors.New("unexpected greeting")
)

// Config holds configuration for creating a new Client.
type Config struct {
	Addr    string
	Timeout time.Duration // default DefaultTimeout
	Logger  *slog.Logger
}

// Client is a management protocol client. It is safe for concurrent use.
type Client struct {
	addr    string
	timeout time.Duration
	logger  *slog.Logger
	dialer  net.Dialer
}

// New creates a client for the server at cfg.Addr.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		addr:    cfg.Addr,
		timeout: timeout,
		logger:  logger,
	}
}

// Addr returns the server address.
func (c *Client) Addr() string {
	return c.addr
}

// Response is the outcome of one raw exchange.
type Response struct {
	Service string
	Body    []byte
}

// Do sends command followed by any extra lines and returns the greeting and
// the raw response. If bounded is false the call waits as long as ctx
// allows, which getptree needs.
func (c *Client) Do(ctx context.Context, bounded bool, command string, extra ...string) (*Response, error) {
	if bounded {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	// Closing the connection unblocks any read or write in progress. It is
	// reset rather than closed, so a server waiting in getptree sees the
	// client leave instead of a half-close.
	stop := context.AfterFunc(ctx, func() {
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetLinger(0)
		}
		_ = conn.Close()
	})
	defer stop()

	resp, err := exchange(conn, command, extra)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", command, ctxErr)
		}
		return nil, fmt.Errorf("%s: %w", command, err)
	}

	c.logger.Debug("mgmt_client_request",
		"addr", c.addr,
		"command", command,
		"bytes", len(resp.Body),
	)
	return resp, nil
}

func exchange(conn net.Conn, command string, extra []string) (*Response, error) {
	reader := bufio.NewReaderSize(conn, 64*1024)

	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read greeting: %w", err)
	}
	var greeting mgmt.Greeting
	if err := json.Unmarshal([]byte(line), &greeting); err != nil || greeting.Service == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadGreeting, strings.TrimSpace(line))
	}

	var out strings.Builder
	out.WriteString(command)
	out.WriteByte('\n')
	for _, l := range extra {
		out.WriteString(l)
		out.WriteByte('\n')
	}
	if _, err := io.WriteString(conn, out.String()); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if string(body) == mgmt.InvalidCommandResponse {
		return nil, ErrInvalidCommand
	}

	return &Response{Service: greeting.Service, Body: body}, nil
}

// Service returns the server's service string.
func (c *Client) Service(ctx context.Context) (string, error) {
	service, _, err := c.Describe(ctx)
	return service, err
}

// Config returns the registered input ids.
func (c *Client) Config(ctx context.Context) ([]string, error) {
	_, ids, err := c.Describe(ctx)
	return ids, err
}

// Describe runs one config exchange and returns the service string from the
// greeting together with the registered input ids.
func (c *Client) Describe(ctx context.Context) (string, []string, error) {
	resp, err := c.Do(ctx, true, mgmt.CmdConfig.String())
	if err != nil {
		return "", nil, err
	}
	var out mgmt.ConfigResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", nil, fmt.Errorf("%s: decode: %w", mgmt.CmdConfig, err)
	}
	return resp.Service, out.Config, nil
}

// Values returns the value encoding of every input. The server starts a new
// reporting window for each input it reports.
func (c *Client) Values(ctx context.Context) (map[string]stats.InputValues, error) {
	var out mgmt.ValuesResponse
	if err := c.decode(ctx, mgmt.CmdValues, &out); err != nil {
		return nil, err
	}
	values := make(map[string]stats.InputValues, len(out.Values))
	for id, v := range out.Values {
		values[id] = v.InputStat
	}
	return values, nil
}

// State returns the classified state of every input. Like Values it starts a
// new reporting window on the server.
func (c *Client) State(ctx context.Context) (map[string]stats.InputState, error) {
	var out mgmt.StateResponse
	if err := c.decode(ctx, mgmt.CmdState, &out); err != nil {
		return nil, err
	}
	states := make(map[string]stats.InputState, len(out))
	for id, s := range out {
		states[id] = s.State
	}
	return states, nil
}

// GetTree asks the engine for its configuration tree and waits for it. The
// wait is bounded by ctx only.
func (c *Client) GetTree(ctx context.Context) (ptree.Tree, error) {
	resp, err := c.Do(ctx, false, mgmt.CmdGetPtree.String())
	if err != nil {
		return nil, err
	}
	tree, err := ptree.ParseTree(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("getptree: %w", err)
	}
	return tree, nil
}

// SetTree submits a replacement configuration tree. The server does not
// acknowledge it; a nil error means it was delivered, not that it was
// accepted.
func (c *Client) SetTree(ctx context.Context, tree ptree.Tree) error {
	if tree == nil {
		tree = ptree.Tree{}
	}
	doc, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("setptree: encode: %w", err)
	}
	resp, err := c.Do(ctx, true, mgmt.CmdSetPtree.String(), string(doc))
	if err != nil {
		return err
	}
	if len(resp.Body) != 0 {
		return fmt.Errorf("setptree: unexpected response %q", resp.Body)
	}
	return nil
}

func (c *Client) decode(ctx context.Context, cmd mgmt.Command, v any) error {
	resp, err := c.Do(ctx, true, cmd.String())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("%s: decode: %w", cmd, err)
	}
	return nil
}
