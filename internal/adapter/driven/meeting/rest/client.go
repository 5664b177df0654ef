package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/rs/zerolog/log"
)

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the platform's meeting API. It implements
// port.MeetingBackend.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Code)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: timeout},
	}
}

type meetingResponse struct {
	Message string          `json:"message"`
	Meeting *domain.Meeting `json:"meeting"`
}

// StartMeeting marks the meeting live. The backend answers with the meeting,
// whose RoomID a room call joins.
func (c *Client) StartMeeting(ctx context.Context, id domain.MeetingID) (domain.Meeting, error) {
	resp, err := c.put(ctx, "/meetings/start/", id)
	if err != nil {
		return domain.Meeting{}, err
	}
	if resp.Meeting == nil {
		return domain.Meeting{ID: id, Status: domain.MeetingLive}, nil
	}
	m := *resp.Meeting
	if m.ID == "" {
		m.ID = id
	}
	return m, nil
}

// EndMeeting marks the meeting completed.
func (c *Client) EndMeeting(ctx context.Context, id domain.MeetingID) error {
	_, err := c.put(ctx, "/meetings/end/", id)
	return err
}

func (c *Client) put(ctx context.Context, path string, id domain.MeetingID) (meetingResponse, error) {
	var out meetingResponse
	endpoint := c.base + path + url.PathEscape(id.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return out, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("PUT %s: %w", endpoint, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return out, fmt.Errorf("read response: %w", err)
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil && res.StatusCode < 300 {
			return out, fmt.Errorf("decode response: %w", err)
		}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return out, &StatusError{Code: res.StatusCode, Message: out.Message}
	}
	log.Debug().Str("meeting_id", id.String()).Str("path", path).Str("message", out.Message).Msg("Meeting backend call ok")
	return out, nil
}
