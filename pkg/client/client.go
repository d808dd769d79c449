// Package client talks to the dualbatt daemon over its unix socket.
package client

import (
	"context"
	"net/http"
	"time"

	"github.com/charlie0129/dualbatt/internal/client"
)

// DefaultTimeout bounds every request except event streams.
const DefaultTimeout = 10 * time.Second

type Client struct {
	c      *client.Client
	stream *client.Client
}

func NewClient(unixSocketPath string) *Client {
	return &Client{
		c:      client.New(unixSocketPath, DefaultTimeout),
		stream: client.New(unixSocketPath, 0),
	}
}

func (c *Client) Send(method string, path string, data []byte) ([]byte, error) {
	ret, err := c.c.Send(context.Background(), method, path, data)
	return ret, mapError(err)
}

func (c *Client) Get(path string) ([]byte, error) {
	return c.Send(http.MethodGet, path, nil)
}

func (c *Client) Put(path string, data []byte) ([]byte, error) {
	return c.Send(http.MethodPut, path, data)
}

func (c *Client) Post(path string, data []byte) ([]byte, error) {
	return c.Send(http.MethodPost, path, data)
}
