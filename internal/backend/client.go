// Package backend talks to the social bookmark service. Every request is
// authorized by a signature over a fixed-format message; the service enforces
// visibility, the client only signs.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "eventfeed/internal/log"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20
)

// ErrInvalidArgument is returned before any request is made when a required
// identifier is empty.
var ErrInvalidArgument = errors.New("backend: invalid argument")

// Bookmark is a bookmark record owned by the backend.
type Bookmark struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	EventID   string `json:"eventId"`
	Source    string `json:"source"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Connections is the response of the connection-bookmarks endpoint.
type Connections struct {
	Bookmarks []Bookmark `json:"bookmarks"`
	Users     []User     `json:"users"`
}

// APIError carries a non-2xx response and the backend's error string.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: HTTP %d", e.Status)
	}
	return fmt.Sprintf("backend: HTTP %d: %s", e.Status, e.Message)
}

// Signer produces the signature attached to each request.
type Signer interface {
	SignMessage(message string) (string, error)
}

type Client struct {
	baseURL string
	http    *http.Client
	signer  Signer
}

// New creates a Client for the service at baseURL. httpClient may be nil.
func New(baseURL string, signer Signer, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		signer:  signer,
	}
}

func createMessage(userID, source, eventID string) string {
	return fmt.Sprintf("Add bookmark for user %s: %s/%s", userID, source, eventID)
}

func removeMessage(id, userID, source, eventID string) string {
	return fmt.Sprintf("Remove bookmark %s for user %s: %s/%s", id, userID, source, eventID)
}

func listMessage(userID, requesterID string) string {
	return fmt.Sprintf("View bookmarks for user %s as %s", userID, requesterID)
}

func connectionsMessage(username string) string {
	return "View connection bookmarks for " + username
}

func (c *Client) sign(message string) (string, error) {
	if c.signer == nil {
		return "", errors.New("backend: no signer configured")
	}
	sig, err := c.signer.SignMessage(message)
	if err != nil {
		return "", fmt.Errorf("backend: sign request: %w", err)
	}
	return sig, nil
}

// Create adds a bookmark for userID.
func (c *Client) Create(ctx context.Context, userID, source, eventID string) (Bookmark, error) {
	if userID == "" || source == "" || eventID == "" {
		return Bookmark{}, ErrInvalidArgument
	}
	sig, err := c.sign(createMessage(userID, source, eventID))
	if err != nil {
		return Bookmark{}, err
	}
	body := map[string]string{
		"userId":    userID,
		"eventId":   eventID,
		"source":    source,
		"signature": sig,
	}
	var out Bookmark
	if err := c.do(ctx, http.MethodPost, "/bookmarks", body, &out); err != nil {
		return Bookmark{}, err
	}
	return out, nil
}

// Remove deletes bookmark id. The backend answers 204.
func (c *Client) Remove(ctx context.Context, id, userID, source, eventID string) error {
	if id == "" || userID == "" {
		return ErrInvalidArgument
	}
	sig, err := c.sign(removeMessage(id, userID, source, eventID))
	if err != nil {
		return err
	}
	body := map[string]string{
		"signature": sig,
		"userId":    userID,
		"source":    source,
		"eventId":   eventID,
	}
	return c.do(ctx, http.MethodDelete, "/bookmarks/"+url.PathEscape(id), body, nil)
}

// ListFor returns userID's bookmarks as seen by requesterID. source, when
// non-empty, filters by source name.
func (c *Client) ListFor(ctx context.Context, userID, requesterID, source string) ([]Bookmark, error) {
	if userID == "" || requesterID == "" {
		return nil, ErrInvalidArgument
	}
	sig, err := c.sign(listMessage(userID, requesterID))
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("requesterId", requesterID)
	q.Set("signature", sig)
	if source != "" {
		q.Set("source", source)
	}
	var out []Bookmark
	if err := c.do(ctx, http.MethodGet, "/bookmarks?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListConnections returns the bookmarks of username's connections together
// with the users who made them.
func (c *Client) ListConnections(ctx context.Context, username string) (Connections, error) {
	if username == "" {
		return Connections{}, ErrInvalidArgument
	}
	sig, err := c.sign(connectionsMessage(username))
	if err != nil {
		return Connections{}, err
	}
	q := url.Values{}
	q.Set("signature", sig)
	var out Connections
	path := "/bookmarks/connections/" + url.PathEscape(username) + "?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Connections{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, appLog.RedactURL(c.baseURL+path), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("backend: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil {
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("backend: decode response: %w", err)
	}
	return nil
}
