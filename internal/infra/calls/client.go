// Package calls provides a transport backed by a call-bridge sidecar that
// holds the voice session and streams audio into group calls.
package calls

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/vcjukebox/internal/app/transport"
	"github.com/osa030/vcjukebox/internal/domain/track"
)

// Client is a call-bridge API client.
type Client struct {
	baseURL    string
	token      string
	streamType string
	httpClient *http.Client
	events     chan transport.Event
}

// Config represents call-bridge client configuration.
type Config struct {
	BaseURL     string
	Token       string
	StreamType  string // Audio pipeline used by the bridge for new streams
	Timeout     time.Duration
	EventBuffer int
}

// streamRequest is the body of join and change requests.
type streamRequest struct {
	StreamURL   string `json:"stream_url"`
	Title       string `json:"title"`
	DurationSec int    `json:"duration_sec"`
	StreamType  string `json:"stream_type"`
}

// volumeRequest is the body of volume requests.
type volumeRequest struct {
	Level int `json:"level"`
}

// BridgeError represents an error response from the call bridge.
type BridgeError struct {
	Error string `json:"error"`
}

// New creates a new call-bridge client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("call bridge base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	streamType := cfg.StreamType
	if streamType == "" {
		streamType = "pulse"
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		streamType: streamType,
		httpClient: &http.Client{Timeout: timeout},
		events:     make(chan transport.Event, buffer),
	}, nil
}

// Join starts a call streaming t.
func (c *Client) Join(ctx context.Context, chatID int64, t track.Track) error {
	return c.post(ctx, chatID, "join", c.streamRequest(t))
}

// ChangeStream switches the live call to t.
func (c *Client) ChangeStream(ctx context.Context, chatID int64, t track.Track) error {
	return c.post(ctx, chatID, "change", c.streamRequest(t))
}

// Pause pauses the live stream.
func (c *Client) Pause(ctx context.Context, chatID int64) error {
	return c.post(ctx, chatID, "pause", nil)
}

// Resume resumes a paused stream.
func (c *Client) Resume(ctx context.Context, chatID int64) error {
	return c.post(ctx, chatID, "resume", nil)
}

// Leave ends the call.
func (c *Client) Leave(ctx context.Context, chatID int64) error {
	return c.post(ctx, chatID, "leave", nil)
}

// SetVolume sets the call volume in percent.
func (c *Client) SetVolume(ctx context.Context, chatID int64, level int) error {
	return c.post(ctx, chatID, "volume", volumeRequest{Level: level})
}

// Events returns the event feed filled by Deliver.
func (c *Client) Events() <-chan transport.Event {
	return c.events
}

// Deliver queues an event reported by the bridge. It blocks while the feed is full.
func (c *Client) Deliver(ctx context.Context, ev transport.Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "event feed full: type=%s chat_id=%d", ev.Type, ev.ChatID)
	}
}

func (c *Client) streamRequest(t track.Track) streamRequest {
	return streamRequest{
		StreamURL:   t.StreamURL,
		Title:       t.Title,
		DurationSec: t.DurationSec,
		StreamType:  c.streamType,
	}
}

func (c *Client) post(ctx context.Context, chatID int64, op string, body any) error {
	payload := []byte("{}")
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
	}

	reqURL := fmt.Sprintf("%s/v1/calls/%d/%s", c.baseURL, chatID, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to send request: op=%s", op)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}
	zlog.Debug().Msgf("call bridge: op=%s chat_id=%d status=%d elapsed=%v", op, chatID, resp.StatusCode, time.Since(start))

	if resp.StatusCode/100 != 2 {
		var bridgeErr BridgeError
		if err := json.Unmarshal(respBody, &bridgeErr); err == nil && bridgeErr.Error != "" {
			return errors.Newf("call bridge error %d: %s", resp.StatusCode, bridgeErr.Error)
		}
		return errors.Newf("call bridge error %d", resp.StatusCode)
	}
	return nil
}
