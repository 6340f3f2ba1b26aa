package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Vovarama1992/chatcrm-relay/internal/logging"
)

// APIError is a Bot API call that came back non-ok.
type APIError struct {
	Method      string
	Status      int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Status, e.Description)
}

// Client talks to the Bot API over plain HTTPS.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	sends   *rate.Limiter
	log     *logging.Logger
}

// DefaultSendRate stays under the Bot API's global limit of 30 messages
// per second.
const DefaultSendRate = 25

func NewClient(baseURL, token string, timeout time.Duration, log *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		sends:   rate.NewLimiter(DefaultSendRate, DefaultSendRate),
		log:     log.Sub("telegram"),
	}
}

// SetSendRate caps outgoing messages per second. Zero or less removes the cap.
func (c *Client) SetSendRate(perSecond int) {
	if perSecond <= 0 {
		c.sends.SetLimit(rate.Inf)
		return
	}
	c.sends.SetLimit(rate.Limit(perSecond))
	c.sends.SetBurst(perSecond)
}

// SendText delivers text to a chat. HTML markup in text is passed through.
// Calls wait for the send limiter, so a broadcast paces itself.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	if err := c.sends.Wait(ctx); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}, nil)
}

// SendPhoto posts an image by URL with an optional HTML caption.
func (c *Client) SendPhoto(ctx context.Context, chatID, photoURL, caption string) error {
	if err := c.sends.Wait(ctx); err != nil {
		return fmt.Errorf("telegram sendPhoto: %w", err)
	}
	body := map[string]any{
		"chat_id": chatID,
		"photo":   photoURL,
	}
	if caption != "" {
		body["caption"] = caption
		body["parse_mode"] = "HTML"
	}
	return c.call(ctx, "sendPhoto", body, nil)
}

func (c *Client) SendTyping(ctx context.Context, chatID string) error {
	return c.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}, nil)
}

// AnswerCallback stops the client-side spinner on an inline button.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
	}, nil)
}

// SetWebhook points the bot at url. secret, when set, is echoed back by
// Telegram in the X-Telegram-Bot-Api-Secret-Token header.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	body := map[string]any{
		"url":             url,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if secret != "" {
		body["secret_token"] = secret
	}
	return c.call(ctx, "setWebhook", body, nil)
}

func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]any{}, nil)
}

// WebhookInfo is the subset of getWebhookInfo the CLI prints.
type WebhookInfo struct {
	URL                string `json:"url"`
	PendingUpdateCount int    `json:"pending_update_count"`
	LastErrorDate      int64  `json:"last_error_date"`
	LastErrorMessage   string `json:"last_error_message"`
}

func (c *Client) WebhookInfo(ctx context.Context) (WebhookInfo, error) {
	var info WebhookInfo
	err := c.call(ctx, "getWebhookInfo", map[string]any{}, &info)
	return info, err
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/bot"+c.token+"/"+method,
		bytes.NewReader(b),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of logs.
		return fmt.Errorf("telegram %s: %w", method, redact(err, c.token))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram %s: read body: %w", method, err)
	}

	var r apiResponse
	if err := json.Unmarshal(raw, &r); err != nil || !r.OK {
		desc := r.Description
		if desc == "" {
			desc = strings.TrimSpace(string(raw))
		}
		status := resp.StatusCode
		if r.ErrorCode != 0 {
			status = r.ErrorCode
		}
		return &APIError{Method: method, Status: status, Description: desc}
	}

	c.log.Debug().Str("method", method).Msg("bot api call ok")
	if out != nil && len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}
