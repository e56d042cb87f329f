package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/vcjukebox/internal/app/notification"
)

// Client is a client for the HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new API client. The token is sent on transport
// webhooks when non-empty.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// SendCommand executes a chat command and returns its reply.
func (c *Client) SendCommand(ctx context.Context, chatID int64, req CommandRequest) (CommandResponse, error) {
	var resp CommandResponse
	err := c.do(ctx, http.MethodPost, "/v1/chats/"+strconv.FormatInt(chatID, 10)+"/commands", req, &resp)
	return resp, err
}

// GetChat returns a chat's playback state.
func (c *Client) GetChat(ctx context.Context, chatID int64) (ChatView, error) {
	var view ChatView
	err := c.do(ctx, http.MethodGet, "/v1/chats/"+strconv.FormatInt(chatID, 10), nil, &view)
	return view, err
}

// PostEvent reports a transport event as the call bridge would.
func (c *Client) PostEvent(ctx context.Context, eventType string, chatID int64) error {
	body := map[string]any{"type": eventType, "chat_id": chatID}
	return c.do(ctx, http.MethodPost, "/v1/transport/events", body, nil)
}

// Follow streams announcements to fn until ctx is done or the stream ends.
// A zero chatID follows every chat.
func (c *Client) Follow(ctx context.Context, chatID int64, fn func(*notification.Notification)) error {
	u := c.baseURL + "/v1/announcements"
	if chatID != 0 {
		u += "?" + url.Values{"chat_id": {strconv.FormatInt(chatID, 10)}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var n notification.Notification
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &n); err != nil {
			return errors.Wrap(err, "invalid announcement")
		}
		fn(&n)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "stream error")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

func readError(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return errors.Newf("api error (status %d): %s", resp.StatusCode, apiErr.Error)
	}
	return errors.Newf("api error (status %d)", resp.StatusCode)
}
