package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kazoku/internal/api"
	"kazoku/internal/models"

	"github.com/gorilla/websocket"
)

// Client talks to a relay server over HTTP and websockets.
type Client struct {
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer
}

func New(baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	return &Client{
		base:   u,
		http:   &http.Client{Timeout: 30 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

// Snapshot fetches every message ascending by creation time, authors joined.
func (c *Client) Snapshot(ctx context.Context) ([]models.Message, error) {
	var messages []models.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages", nil, "", &messages); err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	return messages, nil
}

func (c *Client) Profile(ctx context.Context, id string) (models.Profile, error) {
	var p models.Profile
	if err := c.do(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(id), nil, "", &p); err != nil {
		return models.Profile{}, fmt.Errorf("failed to fetch profile %s: %w", id, err)
	}
	return p, nil
}

func (c *Client) UpsertProfile(ctx context.Context, id, displayName, avatarURL string) (models.Profile, error) {
	body, err := json.Marshal(api.PutProfileRequest{DisplayName: displayName, AvatarURL: avatarURL})
	if err != nil {
		return models.Profile{}, err
	}
	var p models.Profile
	if err := c.do(ctx, http.MethodPut, "/api/profiles/"+url.PathEscape(id), bytes.NewReader(body), "application/json", &p); err != nil {
		return models.Profile{}, fmt.Errorf("failed to update profile %s: %w", id, err)
	}
	return p, nil
}

func (c *Client) PostMessage(ctx context.Context, authorID, content string, attachment *models.Attachment) (models.Message, error) {
	body, err := json.Marshal(api.PostMessageRequest{AuthorID: authorID, Content: content, Attachment: attachment})
	if err != nil {
		return models.Message{}, err
	}
	var msg models.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", bytes.NewReader(body), "application/json", &msg); err != nil {
		return models.Message{}, fmt.Errorf("failed to post message: %w", err)
	}
	return msg, nil
}

func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(id), nil, "", nil); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	return nil
}

// Upload sends an image or video and returns the attachment to post with.
func (c *Client) Upload(ctx context.Context, authorID string, r io.Reader) (models.Attachment, error) {
	var resp api.UploadResponse
	path := "/api/uploads?authorId=" + url.QueryEscape(authorID)
	if err := c.do(ctx, http.MethodPost, path, r, "application/octet-stream", &resp); err != nil {
		return models.Attachment{}, fmt.Errorf("failed to upload file: %w", err)
	}
	return models.Attachment{URL: resp.URL, Kind: resp.Kind}, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return models.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) wsURL(path string) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String() + path
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
