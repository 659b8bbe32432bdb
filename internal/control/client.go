package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/outline-cli-ws/gatewayd/internal/supervisor"
)

// Client is gwctl's handle onto a running daemon's control server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a Client against the daemon's control listen address.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: http.DefaultClient}
}

func (c *Client) Start(ctx context.Context, profileID string) error {
	resp, err := c.post(ctx, "/v1/start", StartRequest{ProfileID: profileID})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("start: %s", resp.Error)
	}
	return nil
}

func (c *Client) Stop(ctx context.Context, force bool) error {
	resp, err := c.post(ctx, "/v1/stop", StopRequest{Force: force})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("stop: %s", resp.Error)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (*supervisor.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/status", nil)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("status: %s", resp.Error)
	}
	return resp.Status, nil
}

// WatchEvents streams status updates until ctx is cancelled, calling onStatus
// for each frame the daemon pushes.
func (c *Client) WatchEvents(ctx context.Context, onStatus func(supervisor.Status)) error {
	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1) + "/v1/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("control: dial events: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var st supervisor.Status
		if err := wsjson.Read(ctx, conn, &st); err != nil {
			return err
		}
		onStatus(st)
	}
}

func (c *Client) post(ctx context.Context, path string, body any) (*Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
