// Package push delivers notifications to registered push endpoints over HTTP.
//
// Endpoints are gateway URIs captured at client registration time. The
// gateway handles device encryption using the registration keys; this client
// posts the plaintext envelope with the de-duplication topic and TTL headers
// the gateway forwards to the device.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"remindd/internal/engine"
)

type Config struct {
	// Timeout bounds a single delivery attempt end to end.
	Timeout time.Duration
	// TTL tells the gateway how long an undelivered message stays queued.
	TTL time.Duration
	// Token is an optional bearer token for the gateway.
	Token string
}

type Client struct {
	http *http.Client
	cfg  Config
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &Client{
		http: &http.Client{Timeout: cfg.Timeout},
		cfg:  cfg,
	}
}

type envelope struct {
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Tag     string            `json:"tag"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Send posts one message to one endpoint. A 404 or 410 response means the
// registration no longer exists and is reported as engine.ErrEndpointGone so
// the caller can deactivate the endpoint immediately.
func (c *Client) Send(ctx context.Context, ep engine.PushEndpoint, msg engine.PushMessage) error {
	b, err := json.Marshal(envelope{
		Title:   msg.Title,
		Body:    msg.Body,
		Tag:     msg.Topic,
		Payload: msg.Payload,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Topic", msg.Topic)
	req.Header.Set("TTL", strconv.Itoa(int(c.cfg.TTL.Seconds())))
	req.Header.Set("Urgency", "normal")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: status %s", engine.ErrEndpointGone, resp.Status)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push gateway error: status %s, body %s", resp.Status, string(body))
	}
	return nil
}
