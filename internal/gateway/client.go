// Package gateway is a client for the messaging gateway that hosts one
// channel instance per practitioner account.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/practice-platform/pkg/logging"
)

const defaultUserAgent = "practice-platform-gateway/0.1"

// ErrInstanceNotFound is returned when the gateway no longer knows the instance.
var ErrInstanceNotFound = errors.New("gateway: instance not found")

// Config controls how the gateway client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	UserAgent  string
}

// Client wraps the gateway REST endpoints used for channel management.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gateway: API key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// CreateInstance registers a new channel instance and returns its first
// pairing artifact.
func (c *Client) CreateInstance(ctx context.Context, name string) (*Instance, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("gateway: instance name required")
	}
	body, err := json.Marshal(createInstanceRequest{InstanceName: name, QRCode: true, Integration: "WHATSAPP-BAILEYS"})
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal create body: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/instance/create", nil, body)
	if err != nil {
		return nil, err
	}
	var resp createInstanceResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("gateway: decode create response: %w", err)
	}
	out := &Instance{Name: resp.Instance.InstanceName, RawState: resp.Instance.Status}
	if out.Name == "" {
		out.Name = name
	}
	if resp.QRCode != nil {
		out.Pairing = resp.QRCode.artifact()
	}
	return out, nil
}

// ConnectionState fetches and normalizes the live state of an instance.
func (c *Client) ConnectionState(ctx context.Context, name string) (Observation, error) {
	if strings.TrimSpace(name) == "" {
		return Observation{}, errors.New("gateway: instance name required")
	}
	data, err := c.invoke(ctx, http.MethodGet, "/instance/connectionState/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return Observation{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Observation{}, fmt.Errorf("gateway: decode connection state: %w", err)
	}
	return Normalize(raw), nil
}

// PairingArtifact requests a fresh pairing code or QR payload.
func (c *Client) PairingArtifact(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("gateway: instance name required")
	}
	data, err := c.invoke(ctx, http.MethodGet, "/instance/connect/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return "", err
	}
	var resp qrPayload
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("gateway: decode pairing response: %w", err)
	}
	artifact := resp.artifact()
	if artifact == "" {
		return "", errors.New("gateway: pairing artifact missing from response")
	}
	return artifact, nil
}

// DeleteInstance removes the instance; a missing instance is not an error.
func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("gateway: instance name required")
	}
	_, err := c.invoke(ctx, http.MethodDelete, "/instance/delete/"+url.PathEscape(name), nil, nil)
	if errors.Is(err, ErrInstanceNotFound) {
		return nil
	}
	return err
}

// SendText sends a plain text message through the instance.
func (c *Client) SendText(ctx context.Context, name, to, text string) (string, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(to) == "" {
		return "", errors.New("gateway: instance name and recipient required")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gateway: text required")
	}
	body, err := json.Marshal(sendTextRequest{Number: to, Text: text})
	if err != nil {
		return "", fmt.Errorf("gateway: marshal send body: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/message/sendText/"+url.PathEscape(name), nil, body)
	if err != nil {
		return "", err
	}
	var resp sendTextResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("gateway: decode send response: %w", err)
	}
	return resp.Key.ID, nil
}

func (c *Client) invoke(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	fullURL := c.buildURL(path, query)
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("gateway: build request: %w", err)
		}
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("gateway: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("gateway: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("gateway: request failed without response")
}

func (c *Client) buildURL(path string, query url.Values) string {
	full := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		full = full + "?" + query.Encode()
	}
	return full
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	c.logger.Warn("gateway retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorText  string `json:"error,omitempty"`
	Message    any    `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.message()
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("gateway: status %d: %s", e.StatusCode, msg)
}

// Is lets errors.Is match ErrInstanceNotFound on 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrInstanceNotFound && e.StatusCode == http.StatusNotFound
}

func (e *APIError) message() string {
	switch m := e.Message.(type) {
	case string:
		return m
	case []any:
		parts := make([]string, 0, len(m))
		for _, p := range m {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, "; ")
	}
	return e.ErrorText
}

func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	if len(body) > 0 {
		var wrapper struct {
			Response *APIError `json:"response"`
			APIError
		}
		if err := json.Unmarshal(body, &wrapper); err == nil {
			if wrapper.Response != nil && wrapper.Response.Message != nil {
				apiErr.Message = wrapper.Response.Message
			} else {
				apiErr.Message = wrapper.Message
			}
			apiErr.ErrorText = wrapper.ErrorText
		} else {
			apiErr.ErrorText = strings.TrimSpace(string(body))
		}
	}
	return apiErr
}
