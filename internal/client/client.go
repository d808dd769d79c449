// Package client is an HTTP client that talks to a server listening on a
// unix socket. It is shared by the daemon client and the base link.
package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotRunning is returned when nothing listens on the socket.
	ErrNotRunning = errors.New("server not running")

	// ErrPermissionDenied is returned when the socket cannot be opened.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when the server answers 404.
	ErrNotFound = errors.New("404 not found")
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return "got " + http.StatusText(e.Code) + ": " + e.Body
}

// Client sends requests over a unix socket.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// New returns a client for socketPath. A zero timeout means no timeout.
func New(socketPath string, timeout time.Duration) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					conn, err := d.DialContext(ctx, "unix", socketPath)
					if err != nil {
						// A stale socket file refuses connections.
						if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
							return nil, ErrNotRunning
						}
						if errors.Is(err, os.ErrPermission) {
							return nil, ErrPermissionDenied
						}
						logrus.Errorf("failed to connect to unix socket: %v", err)
						return nil, err
					}
					return conn, nil
				},
			},
		},
	}
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Send sends a request and returns the response body of a 2xx response.
func (c *Client) Send(ctx context.Context, method, path string, data []byte) ([]byte, error) {
	resp, err := c.do(ctx, method, path, data)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read response body")
	}

	if err := checkStatus(resp.StatusCode, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Stream sends a GET request and returns the body of a 2xx response
// unread. The caller closes it.
func (c *Client) Stream(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer closeBody(resp)
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, checkStatus(resp.StatusCode, b)
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, path string, data []byte) (*http.Response, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"data":   string(data),
		"unix":   c.socketPath,
	}).Trace("sending request")

	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, body)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create request")
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Keep the sentinel errors from the dialer visible to errors.Is.
		switch {
		case errors.Is(err, ErrNotRunning):
			return nil, ErrNotRunning
		case errors.Is(err, ErrPermissionDenied):
			return nil, ErrPermissionDenied
		}
		return nil, pkgerrors.Wrap(err, "failed to send request")
	}
	return resp, nil
}

func checkStatus(code int, body []byte) error {
	if code == http.StatusNotFound {
		return ErrNotFound
	}
	if code < 200 || code > 299 {
		return &StatusError{Code: code, Body: string(bytes.TrimSpace(body))}
	}
	return nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logrus.Errorf("failed to close response body: %v", err)
	}
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.Send(ctx, http.MethodGet, path, nil)
}

// Put sends a PUT request.
func (c *Client) Put(ctx context.Context, path string, data []byte) ([]byte, error) {
	return c.Send(ctx, http.MethodPut, path, data)
}

// Post sends a POST request.
func (c *Client) Post(ctx context.Context, path string, data []byte) ([]byte, error) {
	return c.Send(ctx, http.MethodPost, path, data)
}
