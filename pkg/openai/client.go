package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4.1-mini"
)

// Client calls the OpenAI Responses API.
type Client interface {
	CreateResponse(ctx context.Context, req ResponseRequest) (*Response, error)
}

// ResponseRequest is the request body for POST /responses.
type ResponseRequest struct {
	Model       string      `json:"model"`
	Input       string      `json:"input"`
	Text        *TextConfig `json:"text,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
}

// TextConfig selects the response text format.
type TextConfig struct {
	Format Format `json:"format"`
}

// Format is a response format, e.g. a strict JSON schema.
type Format struct {
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
	Strict bool           `json:"strict,omitempty"`
}

// Response is the response from POST /responses.
type Response struct {
	ID         string       `json:"id"`
	Status     string       `json:"status"`
	OutputText string       `json:"output_text,omitempty"`
	Output     []OutputItem `json:"output"`
	Usage      *Usage       `json:"usage,omitempty"`
	Error      *ErrorBody   `json:"error,omitempty"`
}

// OutputItem is one item of the response output list.
type OutputItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

// ContentPart is a typed content fragment of an output item.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorBody is the error object returned by the API.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Text returns output_text when present, else the concatenated text of
// every output content part.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	if r.OutputText != "" {
		return r.OutputText
	}
	var b strings.Builder
	for _, item := range r.Output {
		for _, part := range item.Content {
			if part.Text != "" {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String()
}

// APIError is a non-2xx response or a 2xx response carrying an error object.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai: HTTP %d %s %s: %s", e.StatusCode, e.Type, e.Code, e.Message)
}

// MalformedResponseError reports a 2xx response body that is not valid JSON.
type MalformedResponseError struct {
	Err  error
	Body string
}

func (e *MalformedResponseError) Error() string {
	return "openai: malformed response: " + e.Err.Error()
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		c.model = model
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewClient creates an OpenAI API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) CreateResponse(ctx context.Context, req ResponseRequest) (*Response, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "openai: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "openai: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "openai: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "openai: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}

	var result Response
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &MalformedResponseError{Err: err, Body: truncate(string(respBody), 500)}
	}
	if result.Error != nil && result.Error.Message != "" {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Type:       result.Error.Type,
			Code:       result.Error.Code,
			Message:    result.Error.Message,
		}
	}

	return &result, nil
}

func parseAPIError(statusCode int, body []byte) *APIError {
	var envelope struct {
		Error *ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return &APIError{
			StatusCode: statusCode,
			Type:       envelope.Error.Type,
			Code:       envelope.Error.Code,
			Message:    envelope.Error.Message,
		}
	}
	return &APIError{StatusCode: statusCode, Type: http.StatusText(statusCode), Message: truncate(string(body), 500)}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
