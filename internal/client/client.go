// package client implements the peer side of the image-processing protocol.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/desertthunder/sobelx/internal/protocol"
)

var (
	ErrAuthFailed      = errors.New("authentication failed")
	ErrUnexpectedReply = errors.New("unexpected server reply")
	ErrNotAuthorized   = errors.New("session is not authenticated")
)

// DefaultMaxResultBytes caps the result frame when [Options.MaxResultBytes] is unset. It leaves
// room for a PNG of the largest raster the server decodes.
const DefaultMaxResultBytes = 80 << 20

// Options tunes a [Client].
type Options struct {
	// Timeout bounds the dial and every frame read or write. Zero means no deadline.
	Timeout time.Duration
	// MaxResultBytes caps the size of the processed image accepted from the server. Zero means
	// [DefaultMaxResultBytes].
	MaxResultBytes int64
}

// Client is one connection to the image server. It carries a single exchange.
type Client struct {
	conn   net.Conn
	r      *bufio.Reader
	opts   Options
	authed bool
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	d := net.Dialer{Timeout: opts.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return New(conn, opts), nil
}

// New wraps an established connection.
func New(conn net.Conn, opts Options) *Client {
	if opts.MaxResultBytes <= 0 {
		opts.MaxResultBytes = DefaultMaxResultBytes
	}
	return &Client{conn: conn, r: bufio.NewReader(conn), opts: opts}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Authenticate sends credentials and returns the server's outcome string. On AUTH_FAILED the
// connection is closed and [ErrAuthFailed] returned alongside the outcome.
func (c *Client) Authenticate(username, password string) (string, error) {
	if err := c.deadline(); err != nil {
		return "", err
	}
	if err := protocol.WriteString(c.conn, username); err != nil {
		return "", fmt.Errorf("send username: %w", err)
	}
	if err := protocol.WriteString(c.conn, password); err != nil {
		return "", fmt.Errorf("send password: %w", err)
	}

	if err := c.deadline(); err != nil {
		return "", err
	}
	outcome, err := protocol.ReadString(c.r)
	if err != nil {
		return "", fmt.Errorf("read authentication outcome: %w", err)
	}

	switch outcome {
	case protocol.AuthSuccess, protocol.AccountCreated:
		c.authed = true
		return outcome, nil
	case protocol.AuthFailed:
		c.conn.Close()
		return outcome, ErrAuthFailed
	default:
		c.conn.Close()
		return outcome, fmt.Errorf("%w: %q", ErrUnexpectedReply, outcome)
	}
}

// Process uploads an encoded image under the declared name and returns the processed image bytes.
//
// A server that closes the connection without a result frame failed to decode or process the
// image; that surfaces as a [protocol.ErrPeerClosed] error.
func (c *Client) Process(name string, image []byte) ([]byte, error) {
	if !c.authed {
		return nil, ErrNotAuthorized
	}

	if err := c.deadline(); err != nil {
		return nil, err
	}
	if err := protocol.WriteString(c.conn, name); err != nil {
		return nil, fmt.Errorf("send file name: %w", err)
	}
	if err := protocol.WriteBlob(c.conn, image); err != nil {
		return nil, fmt.Errorf("send image: %w", err)
	}

	if err := c.deadline(); err != nil {
		return nil, err
	}
	result, err := protocol.ReadBlob(c.r, c.opts.MaxResultBytes)
	if err != nil {
		return nil, fmt.Errorf("read processed image: %w", err)
	}
	return result, nil
}

func (c *Client) deadline() error {
	if c.opts.Timeout <= 0 {
		return nil
	}
	return c.conn.SetDeadline(time.Now().Add(c.opts.Timeout))
}

// Request is one complete exchange.
type Request struct {
	Username string
	Password string
	FileName string
	Image    []byte
}

// Response is the server's answer to a [Request].
type Response struct {
	Outcome string
	Image   []byte
}

// Exchange dials addr, authenticates and processes req.Image on a fresh connection.
//
// When authentication fails the returned Response still carries the outcome.
func Exchange(ctx context.Context, addr string, req Request, opts Options) (*Response, error) {
	c, err := Dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	outcome, err := c.Authenticate(req.Username, req.Password)
	resp := &Response{Outcome: outcome}
	if err != nil {
		return resp, err
	}

	resp.Image, err = c.Process(req.FileName, req.Image)
	if err != nil {
		return resp, err
	}
	return resp, nil
}
