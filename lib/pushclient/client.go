// Package pushclient talks to a nudge server's JSON API.
package pushclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oliverisaac/nudge/types"
	"github.com/pkg/errors"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	base *url.URL
	http *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// New builds a client for the server at endpoint. A bare host gets https.
func New(endpoint string, opts ...Option) (*Client, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "Parsing server endpoint")
	}
	if base.Host == "" {
		return nil, errors.Errorf("server endpoint %q has no host", endpoint)
	}

	c := &Client{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ScheduleNotification(ctx context.Context, req types.NotificationRequest) (string, error) {
	var result types.Result
	if err := c.do(ctx, http.MethodPost, "/api/schedule-notification", req, &result); err != nil {
		return "", errors.Wrap(err, "scheduling notification")
	}
	return result.ID, nil
}

func (c *Client) ListNotifications(ctx context.Context) ([]types.NotificationRecord, error) {
	records := []types.NotificationRecord{}
	if err := c.do(ctx, http.MethodGet, "/api/get-scheduled-notifications", nil, &records); err != nil {
		return nil, errors.Wrap(err, "listing notifications")
	}
	return records, nil
}

func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/delete-notification/"+url.PathEscape(id), nil, nil); err != nil {
		return errors.Wrapf(err, "deleting notification %s", id)
	}
	return nil
}

func (c *Client) SaveSubscription(ctx context.Context, sub types.PushSubscription) error {
	if err := c.do(ctx, http.MethodPost, "/api/save-subscription", sub, nil); err != nil {
		return errors.Wrap(err, "saving subscription")
	}
	return nil
}

func (c *Client) SendTest(ctx context.Context) (types.SendResult, error) {
	var result types.SendResult
	if err := c.do(ctx, http.MethodPost, "/api/send-test-notification", struct{}{}, &result); err != nil {
		return result, errors.Wrap(err, "sending test notification")
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	endpointURL := *c.base
	endpointURL.Path = strings.TrimSuffix(endpointURL.Path, "/") + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "Encoding request body")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpointURL.String(), body)
	if err != nil {
		return errors.Wrap(err, "Building request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "Failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var result types.Result
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &result) == nil && result.Message != "" {
			msg = result.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(respBody, out), "Decoding response body")
}
