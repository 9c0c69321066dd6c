// Package client talks to a fleetdash server on behalf of viewers.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/model"
)

const defaultTimeout = 5 * time.Second

// ErrUnexpectedStatus is returned for any non-2xx response.
var ErrUnexpectedStatus = errors.New("unexpected status")

// API is what viewers need from a server.
type API interface {
	ListDevices(ctx context.Context) (model.Listing, error)
	Health(ctx context.Context) error
	Watch(ctx context.Context) (<-chan model.Listing, error)
}

type Client struct {
	base   string
	token  string
	http   *http.Client
	dialer *websocket.Dialer
}

var _ API = (*Client)(nil)

// New returns a client for baseURL. token may be empty when the server has no viewer token.
func New(baseURL, token string) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: defaultTimeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultTimeout,
		},
	}
}

func (c *Client) BaseURL() string { return c.base }

func (c *Client) ListDevices(ctx context.Context) (model.Listing, error) {
	var listing model.Listing

	if err := c.getJSON(ctx, "/devices", &listing); err != nil {
		return model.Listing{}, fmt.Errorf("list devices: %w", err)
	}

	return listing, nil
}

func (c *Client) Health(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}

	if err := c.getJSON(ctx, "/health", &body); err != nil {
		return fmt.Errorf("health: %w", err)
	}

	if body.Status != "ok" {
		return fmt.Errorf("health: server reported %q", body.Status)
	}

	return nil
}

// Watch subscribes to the server's websocket feed. The channel carries every
// listing pushed by the server and is closed when the connection drops or ctx ends.
func (c *Client) Watch(ctx context.Context) (<-chan model.Listing, error) {
	wsURL, err := c.websocketURL()
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, c.header())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("watch: %w: %s", ErrUnexpectedStatus, resp.Status)
		}

		return nil, fmt.Errorf("watch: %w", err)
	}

	out := make(chan model.Listing, 1)

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	go func() {
		defer close(out)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var listing model.Listing
			if err := json.Unmarshal(data, &listing); err != nil {
				continue
			}

			select {
			case out <- listing:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.base + "/ws")
	if err != nil {
		return "", fmt.Errorf("watch: parse server url: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	return u.String(), nil
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}

	return h
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}

	req.Header = c.header()
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: %s: %s", ErrUnexpectedStatus, resp.Status, strings.TrimSpace(string(snippet)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
