package salesforce

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
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Vovarama1992/chatcrm-relay/internal/logging"
)

type Config struct {
	InstanceURL  string
	ClientID     string
	ClientSecret string
	APIVersion   string
	// IntakeQueue is the DeveloperName of the queue new sessions are
	// routed to. Empty ranks against every waiting session.
	IntakeQueue string
	Timeout     time.Duration
}

// APIError is a non-2xx response from the REST API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("salesforce: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("salesforce: %d %s", e.Status, e.Message)
}

// Client implements relay.CRM over the Salesforce REST API.
type Client struct {
	cfg   Config
	http  *http.Client
	creds clientcredentials.Config
	log   *logging.Logger

	mu      sync.Mutex
	tokens  oauth2.TokenSource
	queueID string
}

func NewClient(cfg Config, log *logging.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v58.0"
	}
	cfg.InstanceURL = strings.TrimRight(cfg.InstanceURL, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		creds: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.InstanceURL + "/services/oauth2/token",
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		log: log.Sub("salesforce"),
	}
}

// tokenSource caches the access token until it is rejected.
func (c *Client) tokenSource() oauth2.TokenSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
		c.tokens = c.creds.TokenSource(ctx)
	}
	return c.tokens
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.tokens = nil
	c.mu.Unlock()
}

// Ping checks that credentials are accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.tokenSource().Token()
	if err != nil {
		return fmt.Errorf("salesforce auth: %w", err)
	}
	return nil
}

func (c *Client) dataURL(path string) string {
	return c.cfg.InstanceURL + "/services/data/" + c.cfg.APIVersion + path
}

// do sends one authorized request. A 401 drops the cached token and the
// request is retried once.
func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	for attempt := 0; ; attempt++ {
		err := c.send(ctx, method, rawURL, payload, out)
		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			c.log.Info().Msg("access token rejected, refreshing")
			c.resetToken()
			continue
		}
		return err
	}
}

func (c *Client) send(ctx context.Context, method, rawURL string, payload []byte, out any) error {
	tok, err := c.tokenSource().Token()
	if err != nil {
		return fmt.Errorf("salesforce auth: %w", err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("salesforce %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("salesforce %s: read body: %w", method, err)
	}
	c.log.Debug().
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("rest call")

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("salesforce %s: decode: %w", method, err)
		}
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	var errs []struct {
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
	}
	if json.Unmarshal(raw, &errs) == nil && len(errs) > 0 {
		return &APIError{Status: status, Code: errs[0].ErrorCode, Message: errs[0].Message}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(raw))}
}

type queryPage[T any] struct {
	TotalSize      int    `json:"totalSize"`
	Done           bool   `json:"done"`
	NextRecordsURL string `json:"nextRecordsUrl"`
	Records        []T    `json:"records"`
}

// query runs soql and follows pagination.
func query[T any](ctx context.Context, c *Client, soql string) ([]T, error) {
	next := c.dataURL("/query?q=" + url.QueryEscape(soql))
	var out []T
	for next != "" {
		var page queryPage[T]
		if err := c.do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Records...)
		next = ""
		if !page.Done && page.NextRecordsURL != "" {
			next = c.cfg.InstanceURL + page.NextRecordsURL
		}
	}
	return out, nil
}

// queryOne returns the first row or nil.
func queryOne[T any](ctx context.Context, c *Client, soql string) (*T, error) {
	rows, err := query[T](ctx, c, soql)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

type createResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

func (c *Client) create(ctx context.Context, object string, fields map[string]any) (string, error) {
	var res createResult
	if err := c.do(ctx, http.MethodPost, c.dataURL("/sobjects/"+object+"/"), fields, &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", fmt.Errorf("salesforce: create %s returned no id", object)
	}
	return res.ID, nil
}

func (c *Client) update(ctx context.Context, object, id string, fields map[string]any) error {
	return c.do(ctx, http.MethodPatch, c.dataURL("/sobjects/"+object+"/"+url.PathEscape(id)), fields, nil)
}
