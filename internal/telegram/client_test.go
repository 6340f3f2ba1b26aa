package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vovarama1992/chatcrm-relay/internal/logging"
)

type botCall struct {
	Path string
	Body map[string]any
}

func newBotServer(t *testing.T, status int, reply string) (*httptest.Server, *[]botCall) {
	t.Helper()
	var calls []botCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, botCall{Path: r.URL.Path, Body: body})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClientSendText(t *testing.T) {
	srv, calls := newBotServer(t, http.StatusOK, `{"ok":true,"result":{"message_id":7}}`)
	c := NewClient(srv.URL, "T0KEN", time.Second, logging.Nop())

	require.NoError(t, c.SendText(context.Background(), "222", "<b>hi</b>"))

	require.Len(t, *calls, 1)
	got := (*calls)[0]
	assert.Equal(t, "/botT0KEN/sendMessage", got.Path)
	assert.Equal(t, "222", got.Body["chat_id"])
	assert.Equal(t, "<b>hi</b>", got.Body["text"])
	assert.Equal(t, "HTML", got.Body["parse_mode"])
}

func TestClientSendRateLimitsMessages(t *testing.T) {
	srv, calls := newBotServer(t, http.StatusOK, `{"ok":true,"result":{"message_id":7}}`)
	c := NewClient(srv.URL, "T0KEN", time.Second, logging.Nop())
	c.SetSendRate(1)

	require.NoError(t, c.SendText(context.Background(), "222", "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.SendText(ctx, "222", "second"))
	assert.Len(t, *calls, 1)

	c.SetSendRate(0)
	require.NoError(t, c.SendText(context.Background(), "222", "third"))
	assert.Len(t, *calls, 2)
}

func TestClientSendTyping(t *testing.T) {
	srv, calls := newBotServer(t, http.StatusOK, `{"ok":true,"result":true}`)
	c := NewClient(srv.URL, "T0KEN", time.Second, logging.Nop())

	require.NoError(t, c.SendTyping(context.Background(), "222"))
	assert.Equal(t, "/botT0KEN/sendChatAction", (*calls)[0].Path)
	assert.Equal(t, "typing", (*calls)[0].Body["action"])
}

func TestClientSendPhoto(t *testing.T) {
	srv, calls := newBotServer(t, http.StatusOK, `{"ok":true,"result":{"message_id":8}}`)
	c := NewClient(srv.URL, "T0KEN", time.Second, logging.Nop())

	require.NoError(t, c.SendPhoto(context.Background(), "-100200", "https://files.example.com/r.png", "Your receipt"))

	require.Len(t, *calls, 1)
	got := (*calls)[0]
	assert.Equal(t, "/botT0KEN/sendPhoto", got.Path)
	assert.Equal(t, "-100200", got.Body["chat_id"])
	assert.Equal(t, "https://files.example.com/r.png", got.Body["photo"])
	assert.Equal(t, "Your receipt", got.Body["caption"])
	assert.Equal(t, "HTML", got.Body["parse_mode"])
}

func TestClientSendPhotoWithoutCaption(t *testing.T) {
	srv, calls := newBotServer(t, http.StatusOK, `{"ok":true,"result":{"message_id":8}}`)
	c := NewClient(srv.URL, "T0KEN", time.Second, logging.Nop())

	require.NoError(t, c.SendPhoto(context.Background(), "222", "https://files.example.com/r.png", ""))

	_, hasCaption := (*calls)[0].Body["caption"]
	assert.False(t, hasCaption)
}

func TestClientAPIError(t *testing.T) {
	srv, _ := newBotServer(t, http.StatusForbidden, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
	c := NewClient(srv.URL, "T0KEN", time.Second, logging.Nop())

	err := c.SendText(context.Background(), "222", "hi")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 403, apiErr.Status)
	assert.Equal(t, "sendMessage", apiErr.Method)
	assert.Contains(t, apiErr.Description, "blocked")
}

func TestClientNonJSONError(t *testing.T) {
	srv, _ := newBotServer(t, http.StatusBadGateway, "bad gateway")
	c := NewClient(srv.URL, "T0KEN", time.Second, logging.Nop())

	err := c.SendText(context.Background(), "222", "hi")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "bad gateway", apiErr.Description)
}

func TestClientSetWebhook(t *testing.T) {
	srv, calls := newBotServer(t, http.StatusOK, `{"ok":true,"result":true}`)
	c := NewClient(srv.URL, "T0KEN", time.Second, logging.Nop())

	require.NoError(t, c.SetWebhook(context.Background(), "https://relay.example.com/telegram/webhook", "s3cret"))
	body := (*calls)[0].Body
	assert.Equal(t, "https://relay.example.com/telegram/webhook", body["url"])
	assert.Equal(t, "s3cret", body["secret_token"])

	require.NoError(t, c.DeleteWebhook(context.Background()))
	assert.Equal(t, "/botT0KEN/deleteWebhook", (*calls)[1].Path)
}

func TestClientWebhookInfo(t *testing.T) {
	srv, _ := newBotServer(t, http.StatusOK, `{"ok":true,"result":{"url":"https://relay.example.com/webhook","pending_update_count":3}}`)
	c := NewClient(srv.URL, "T0KEN", time.Second, logging.Nop())

	info, err := c.WebhookInfo(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "https://relay.example.com/webhook", info.URL)
	assert.Equal(t, 3, info.PendingUpdateCount)
}

func TestClientTransportErrorHidesToken(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "T0KEN", time.Second, logging.Nop())

	err := c.SendText(context.Background(), "222", "hi")

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "T0KEN")
}
