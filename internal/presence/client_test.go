package presence

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mmstatus/internal/model"
)

func TestStatusURLNormalization(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare host", "chat.example.com", "https://chat.example.com/api/v4/users/me/status"},
		{"scheme and slash", "https://chat.example.com/", "https://chat.example.com/api/v4/users/me/status"},
		{"uppercase scheme", "HTTPS://chat.example.com", "HTTPS://chat.example.com/api/v4/users/me/status"},
		{"plain http kept", "http://localhost:8065", "http://localhost:8065/api/v4/users/me/status"},
		{"host with port", "chat.example.com:8065", "https://chat.example.com:8065/api/v4/users/me/status"},
		{"many slashes", "https://chat.example.com///", "https://chat.example.com/api/v4/users/me/status"},
		{"sub path", "chat.example.com/mm", "https://chat.example.com/mm/api/v4/users/me/status"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := StatusURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestStatusURLEmptyIsConfigError(t *testing.T) {
	_, err := StatusURL("")

	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "server", cfgErr.Field)
}

func TestSetStatusEmptyServerMakesNoRequest(t *testing.T) {
	c := NewClient(time.Second)

	err := c.SetStatus(context.Background(), model.Credentials{UserID: "u1", AuthToken: "t"}, model.PresenceBusy)

	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestSetStatusRequestShape(t *testing.T) {
	var got struct {
		method, path, auth, ctype string
		body                      map[string]string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.ctype = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	creds := model.Credentials{ServerBaseURL: srv.URL, UserID: "user-1", AuthToken: "tok"}

	require.NoError(t, c.SetStatus(context.Background(), creds, model.PresenceBusy))
	require.Equal(t, http.MethodPut, got.method)
	require.Equal(t, "/api/v4/users/me/status", got.path)
	require.Equal(t, "Bearer tok", got.auth)
	require.Equal(t, "application/json", got.ctype)
	require.Equal(t, map[string]string{"user_id": "user-1", "status": "dnd"}, got.body)

	require.NoError(t, c.SetStatus(context.Background(), creds, model.PresenceOnline))
	require.Equal(t, "online", got.body["status"])
}

func TestSetStatusServerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"id":"api.context.permissions.app_error","message":"no permission"}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	err := c.SetStatus(context.Background(), model.Credentials{ServerBaseURL: srv.URL}, model.PresenceBusy)

	var rejected *ServerRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, http.StatusForbidden, rejected.Code)
	require.Equal(t, "no permission", rejected.Message)
}

func TestSetStatusTimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(50 * time.Millisecond)
	err := c.SetStatus(context.Background(), model.Credentials{ServerBaseURL: srv.URL}, model.PresenceOnline)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestSetStatusUnsetPresenceIsPayloadError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	err := c.SetStatus(context.Background(), model.Credentials{ServerBaseURL: srv.URL}, model.PresenceUnset)

	var payloadErr *PayloadEncodingError
	require.ErrorAs(t, err, &payloadErr)
	require.Zero(t, calls.Load())
}

func TestLoginSuccess(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v4/users/login", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Token", "session-token")
		_, _ = w.Write([]byte(`{"id":"abc123","username":"max"}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	creds, err := c.Login(context.Background(), srv.URL, "max", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "abc123", creds.UserID)
	require.Equal(t, "session-token", creds.AuthToken)
	require.Equal(t, srv.URL, creds.ServerBaseURL)
	require.Equal(t, map[string]string{"login_id": "max", "password": "hunter2"}, body)
}

func TestLoginRejectedMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"id":"api.user.login.invalid_credentials_email_username","message":"Enter a valid email or username and/or password."}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	_, err := c.Login(context.Background(), srv.URL, "max", "wrong")

	var rejected *LoginRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Contains(t, rejected.Message, "valid email")
	require.False(t, IsCanceled(err))
}

func TestLoginMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"abc123"}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	_, err := c.Login(context.Background(), srv.URL, "max", "pw")

	var rejected *LoginRejectedError
	require.ErrorAs(t, err, &rejected)
}

func TestLoginCanceled(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-entered
		cancel()
	}()

	c := NewClient(5 * time.Second)
	_, err := c.Login(ctx, srv.URL, "max", "pw")
	require.Error(t, err)
	require.True(t, IsCanceled(err))

	var netErr *NetworkError
	require.False(t, errors.As(err, &netErr))
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"online", "DND", "away"} {
		_, err := ParseStatus(s)
		require.NoError(t, err)
	}
	_, err := ParseStatus("offline")
	require.Error(t, err)
}
