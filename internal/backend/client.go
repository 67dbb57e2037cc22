// Package backend implements the REST client for the expense backend's
// notification endpoints: device token registration and the server-owned
// notification records. The backend is the source of truth for read state;
// this client never caches, callers mirror responses as they see fit.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/expensems/emspush/internal/conf"
	"github.com/expensems/emspush/internal/errors"
)

// NotificationRecord is a server-owned notification as returned by the list
// endpoint. The client mutates it only through explicit read/delete calls.
type NotificationRecord struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationPage is one page of the paginated list response
type NotificationPage struct {
	Data        []NotificationRecord `json:"data"`
	CurrentPage int                  `json:"current_page"`
	LastPage    int                  `json:"last_page"`
}

// Client talks to the backend REST API with bearer authentication
type Client struct {
	baseURL    string
	bearer     string
	httpClient *http.Client
}

// NewClient creates a backend client from settings
func NewClient(settings *conf.Settings) *Client {
	return &Client{
		baseURL: settings.Backend.BaseURL,
		bearer:  settings.Backend.BearerToken,
		httpClient: &http.Client{
			Timeout: settings.Backend.Timeout,
		},
	}
}

// UpdateToken registers the device token with the backend. The endpoint is
// an idempotent upsert: repeated calls with the same token are safe, and a
// new token supersedes the previous one for this installation.
func (c *Client) UpdateToken(ctx context.Context, token string) error {
	body := map[string]string{"token": token}
	if err := c.do(ctx, http.MethodPost, "/fcm-token", body, nil); err != nil {
		return errors.New(err).
			Component("backend").
			Category(errors.CategoryBackendSync).
			Context("operation", "update_token").
			Build()
	}
	return nil
}

// DeleteToken removes this installation's token from the backend
func (c *Client) DeleteToken(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/fcm-token", nil, nil); err != nil {
		return errors.New(err).
			Component("backend").
			Category(errors.CategoryBackendSync).
			Context("operation", "delete_token").
			Build()
	}
	return nil
}

// ListNotifications fetches one page of notification records
func (c *Client) ListNotifications(ctx context.Context, page, perPage int) (*NotificationPage, error) {
	path := fmt.Sprintf("/notifications?page=%d&per_page=%d", page, perPage)
	var result NotificationPage
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, errors.New(err).
			Component("backend").
			Category(errors.CategoryBackendSync).
			Context("operation", "list_notifications").
			Context("page", page).
			Build()
	}
	return &result, nil
}

// MarkRead marks a single notification as read
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/notifications/%d/read", id)
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return errors.New(err).
			Component("backend").
			Category(errors.CategoryBackendSync).
			Context("operation", "mark_read").
			Context("id", id).
			Build()
	}
	return nil
}

// MarkAllRead marks every notification as read
func (c *Client) MarkAllRead(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/notifications/read-all", nil, nil); err != nil {
		return errors.New(err).
			Component("backend").
			Category(errors.CategoryBackendSync).
			Context("operation", "mark_all_read").
			Build()
	}
	return nil
}

// DeleteNotification removes a single notification
func (c *Client) DeleteNotification(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/notifications/%d", id)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return errors.New(err).
			Component("backend").
			Category(errors.CategoryBackendSync).
			Context("operation", "delete_notification").
			Context("id", id).
			Build()
	}
	return nil
}

// DeleteAllNotifications removes every notification
func (c *Client) DeleteAllNotifications(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/notifications", nil, nil); err != nil {
		return errors.New(err).
			Component("backend").
			Category(errors.CategoryBackendSync).
			Context("operation", "delete_all_notifications").
			Build()
	}
	return nil
}

// do performs a JSON request and optionally decodes the response into out
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, string(snippet))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
