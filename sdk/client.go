package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pixelsort/taskwatch/internals/schemas"
	"github.com/pixelsort/taskwatch/internals/timeouts"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	cookie     *http.Cookie
}

var ErrAuthRequired = errors.New("auth required")

// APIError is a failure reported by the backend, either through a non-200
// envelope code or a non-2xx HTTP status. Message is meant for the user.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != 0 && e.Code != http.StatusOK {
		return fmt.Sprintf("request failed with code %d", e.Code)
	}
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

// MessageOf returns the user-facing message carried by err, or fallback when
// err is not an APIError with a message.
func MessageOf(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(err, ErrAuthRequired) {
		return "session expired, sign in again"
	}
	return fallback
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSessionCookie attaches the backend session cookie to every request and
// to the websocket handshake.
func WithSessionCookie(name string, value string) Option {
	return func(c *Client) {
		if name == "" || value == "" {
			return
		}
		c.cookie = &http.Cookie{Name: name, Value: value}
	}
}

func NewClient(opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: timeouts.SecondDefault,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// AuthHeader carries the session cookie for non-HTTP transports.
func (c *Client) AuthHeader() http.Header {
	header := http.Header{}
	if c.cookie != nil {
		header.Set("Cookie", c.cookie.String())
	}
	return header
}

// WebSocketURL maps the REST base URL onto the websocket endpoint at path,
// keeping scheme security (http -> ws, https -> wss) and the host.
func (c *Client) WebSocketURL(path string) (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http", "":
		parsed.Scheme = "ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	parsed.Path = path
	parsed.RawQuery = ""
	return parsed.String(), nil
}

func (c *Client) ListAnalyses(ctx context.Context, query schemas.ListQuery) ([]schemas.AnalysisTask, error) {
	if err := schemas.ValidateListQuery(&query); err != nil {
		return nil, err
	}
	values := url.Values{}
	if query.Status != "" {
		values.Set("status", query.Status.String())
	}
	if query.Search != "" {
		values.Set("search", query.Search)
	}
	path := "/analyses"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}

	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	tasks, err := decodeEnvelope[[]schemas.AnalysisTask](resp)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []schemas.AnalysisTask{}
	}
	return tasks, nil
}

func (c *Client) Stats(ctx context.Context) (*schemas.Stats, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/analyses/stats", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	stats, err := decodeEnvelope[schemas.Stats](resp)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) GetAnalysis(ctx context.Context, id int64) (*schemas.AnalysisTask, error) {
	return c.taskRequest(ctx, http.MethodGet, analysisPath(id, ""), nil)
}

func (c *Client) RetryAnalysis(ctx context.Context, id int64) (*schemas.AnalysisTask, error) {
	return c.taskRequest(ctx, http.MethodPost, analysisPath(id, "retry"), bytes.NewReader([]byte("{}")))
}

func (c *Client) CancelAnalysis(ctx context.Context, id int64) (*schemas.AnalysisTask, error) {
	return c.taskRequest(ctx, http.MethodPost, analysisPath(id, "cancel"), bytes.NewReader([]byte("{}")))
}

func (c *Client) SubmitAnalysis(ctx context.Context, request schemas.SubmitRequest) (*schemas.AnalysisTask, error) {
	if err := schemas.ValidateSubmitRequest(&request); err != nil {
		return nil, err
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	return c.taskRequest(ctx, http.MethodPost, "/analyses", bytes.NewReader(body))
}

func (c *Client) taskRequest(ctx context.Context, method, path string, body io.Reader) (*schemas.AnalysisTask, error) {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	task, err := decodeEnvelope[schemas.AnalysisTask](resp)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	return c.httpClient.Do(req)
}

func decodeEnvelope[T any](resp *http.Response) (T, error) {
	var zero T
	if resp.StatusCode == http.StatusUnauthorized {
		return zero, ErrAuthRequired
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, err
	}

	var payload schemas.Envelope[T]
	decodeErr := json.Unmarshal(body, &payload)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && payload.Message != "" {
			return zero, &APIError{StatusCode: resp.StatusCode, Code: payload.Code, Message: payload.Message}
		}
		return zero, &APIError{StatusCode: resp.StatusCode}
	}
	if decodeErr != nil {
		return zero, fmt.Errorf("decode response: %w", decodeErr)
	}
	if !payload.OK() {
		return zero, &APIError{StatusCode: resp.StatusCode, Code: payload.Code, Message: payload.Message}
	}
	return payload.Data, nil
}

func analysisPath(id int64, action string) string {
	path := "/analyses/" + strconv.FormatInt(id, 10)
	if action != "" {
		path += "/" + action
	}
	return path
}
