package presence

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

	appLog "mmstatus/internal/log"
	"mmstatus/internal/model"
)

const (
	statusPath = "api/v4/users/me/status"
	loginPath  = "api/v4/users/login"

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 1 << 20
)

// Status is the wire value of a Mattermost user status.
type Status string

const (
	StatusOnline Status = "online"
	StatusDND    Status = "dnd"
	StatusAway   Status = "away"
)

// ParseStatus accepts the wire values used on the command line.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(s)) {
	case StatusOnline:
		return StatusOnline, nil
	case StatusDND:
		return StatusDND, nil
	case StatusAway:
		return StatusAway, nil
	}
	return "", &model.ConfigError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

// StatusFor maps engine presence onto the wire value.
func StatusFor(p model.Presence) (Status, error) {
	switch p {
	case model.PresenceOnline:
		return StatusOnline, nil
	case model.PresenceBusy:
		return StatusDND, nil
	}
	return "", fmt.Errorf("no wire status for presence %s", p)
}

// ServerURL normalizes a user-entered server address: empty input is a
// ConfigError, "https://" is prepended when no scheme is given and the
// result ends in exactly one "/".
func ServerURL(server string) (string, error) {
	if server == "" {
		return "", &model.ConfigError{Field: "server", Reason: "server address is empty"}
	}

	if !hasScheme(server) {
		server = "https://" + server
	}
	server = strings.TrimRight(server, "/") + "/"

	u, err := url.Parse(server)
	if err != nil || u.Host == "" {
		return "", &model.ConfigError{Field: "server", Reason: fmt.Sprintf("could not parse server URL %q", server)}
	}
	return server, nil
}

// StatusURL is the endpoint updating the current user's status.
func StatusURL(server string) (string, error) {
	base, err := ServerURL(server)
	if err != nil {
		return "", err
	}
	return base + statusPath, nil
}

// LoginURL is the endpoint exchanging a login for a session token.
func LoginURL(server string) (string, error) {
	base, err := ServerURL(server)
	if err != nil {
		return "", err
	}
	return base + loginPath, nil
}

// hasScheme reports whether s starts with "<scheme>://".
func hasScheme(s string) bool {
	i := strings.Index(s, "://")
	if i <= 0 {
		return false
	}
	for j, r := range s[:i] {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case j > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

// Client talks to the Mattermost REST API.
type Client struct {
	http *http.Client
}

// NewClient builds a client whose requests are bounded by timeout. A
// timeout surfaces as an ordinary NetworkError.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// SetStatus applies p for the user in creds. It is idempotent on the
// server side, so repeating it is harmless.
func (c *Client) SetStatus(ctx context.Context, creds model.Credentials, p model.Presence) error {
	status, err := StatusFor(p)
	if err != nil {
		return &PayloadEncodingError{Err: err}
	}
	return c.PutStatus(ctx, creds, status)
}

// PutStatus sends a raw wire status, including "away" which the sync
// engine never produces.
func (c *Client) PutStatus(ctx context.Context, creds model.Credentials, status Status) error {
	endpoint, err := StatusURL(creds.ServerBaseURL)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{
		"user_id": creds.UserID,
		"status":  string(status),
	})
	if err != nil {
		return &PayloadEncodingError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return &NetworkError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AuthToken)

	appLog.Debug("presence update", "url", endpoint, "status", status)

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode != http.StatusOK {
		return &ServerRejectedError{Code: resp.StatusCode, Message: apiMessage(body)}
	}
	return nil
}

// loginResponse is the subset of the Mattermost user object (or error
// object) that Login cares about.
type loginResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Login exchanges a login id and password for credentials. Canceling ctx
// aborts the request; the returned error then satisfies IsCanceled.
func (c *Client) Login(ctx context.Context, server, loginID, password string) (model.Credentials, error) {
	endpoint, err := LoginURL(server)
	if err != nil {
		return model.Credentials{}, err
	}

	payload, err := json.Marshal(map[string]string{
		"login_id": loginID,
		"password": password,
	})
	if err != nil {
		return model.Credentials{}, &PayloadEncodingError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return model.Credentials{}, &NetworkError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	appLog.Info("login request", "url", endpoint)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return model.Credentials{}, fmt.Errorf("login: %w", context.Canceled)
		}
		return model.Credentials{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if IsCanceled(ctx.Err()) {
			return model.Credentials{}, fmt.Errorf("login: %w", context.Canceled)
		}
		return model.Credentials{}, &NetworkError{Err: err}
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		if resp.StatusCode != http.StatusOK {
			return model.Credentials{}, &ServerRejectedError{Code: resp.StatusCode}
		}
		return model.Credentials{}, &PayloadEncodingError{Err: err}
	}

	// Error objects carry both an id and a message; the message wins.
	if lr.Message != "" {
		return model.Credentials{}, &LoginRejectedError{Message: lr.Message}
	}
	if lr.ID == "" {
		if resp.StatusCode != http.StatusOK {
			return model.Credentials{}, &ServerRejectedError{Code: resp.StatusCode}
		}
		return model.Credentials{}, &PayloadEncodingError{Err: errors.New("user id missing from login response")}
	}

	token := resp.Header.Get("Token")
	if token == "" {
		return model.Credentials{}, &LoginRejectedError{Message: "token not found in the response header"}
	}

	return model.Credentials{
		ServerBaseURL: server,
		UserID:        lr.ID,
		AuthToken:     token,
	}, nil
}

// apiMessage extracts the "message" field of a Mattermost error body.
func apiMessage(body []byte) string {
	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return ""
	}
	return lr.Message
}
