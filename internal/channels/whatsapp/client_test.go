package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/salesclaw/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.WhatsAppConfig{APIBase: srv.URL, APIVersion: "v21.0", TimeoutSec: 5})
}

func TestSendText(t *testing.T) {
	var got textPayload
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21.0/PNID/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.ABC"}]}`))
	})

	id, err := c.SendText(context.Background(), Sender{PhoneNumberID: "PNID", AccessToken: "tok"}, "573001112233", "hola")
	require.NoError(t, err)
	assert.Equal(t, "wamid.ABC", id)
	assert.Equal(t, "573001112233", got.To)
	assert.Equal(t, "text", got.Type)
	assert.Equal(t, "hola", got.Text.Body)
}

func TestSendTextAPIError(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"message":"nope"}}`, tt.status)
		})
		_, err := c.SendText(context.Background(), Sender{PhoneNumberID: "P"}, "1", "x")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, tt.status, apiErr.Status)
		assert.Equal(t, tt.transient, IsTransient(err))
	}
}

func TestSendTextRequiresSender(t *testing.T) {
	c := NewClient(config.WhatsAppConfig{APIBase: "http://127.0.0.1:1", APIVersion: "v21.0"})
	_, err := c.SendText(context.Background(), Sender{}, "1", "x")
	assert.Error(t, err)
}

func TestMarkRead(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	require.NoError(t, c.MarkRead(context.Background(), Sender{PhoneNumberID: "P", AccessToken: "t"}, "wamid.IN"))
	assert.Equal(t, "read", got["status"])
	assert.Equal(t, "wamid.IN", got["message_id"])
}
