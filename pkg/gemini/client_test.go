package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateContent(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantText   string
		wantStatus int
		wantErr    string
		malformed  bool
	}{
		{
			name:     "success",
			status:   http.StatusOK,
			body:     `{"candidates":[{"content":{"parts":[{"text":"{\"headlineA\":"},{"text":"\"x\"}"}]}}]}`,
			wantText: `{"headlineA":"x"}`,
		},
		{
			name:       "rate_limit",
			status:     http.StatusTooManyRequests,
			body:       `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"Resource has been exhausted"}}`,
			wantStatus: 429,
			wantErr:    "RESOURCE_EXHAUSTED",
		},
		{
			name:       "server_error_plain_body",
			status:     http.StatusServiceUnavailable,
			body:       `upstream down`,
			wantStatus: 503,
			wantErr:    "upstream down",
		},
		{
			name:       "embedded_error",
			status:     http.StatusOK,
			body:       `{"error":{"status":"INVALID_ARGUMENT","message":"bad"}}`,
			wantStatus: 200,
			wantErr:    "INVALID_ARGUMENT",
		},
		{
			name:      "malformed_response",
			status:    http.StatusOK,
			body:      `{invalid json`,
			malformed: true,
			wantErr:   "malformed response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
				assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

				raw, _ := io.ReadAll(r.Body)
				var req GenerateContentRequest
				assert.NoError(t, json.Unmarshal(raw, &req))
				assert.Equal(t, "hello", req.Contents[0].Parts[0].Text)
				assert.Equal(t, "application/json", req.GenerationConfig.ResponseMIMEType)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient("test-key", WithBaseURL(srv.URL+"/"), WithModel("gemini-2.5-flash"))
			resp, err := client.GenerateContent(context.Background(), TextRequest("hello", 0.2))

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, resp)
				if tt.malformed {
					var me *MalformedResponseError
					assert.True(t, errors.As(err, &me))
				} else {
					var apiErr *APIError
					require.True(t, errors.As(err, &apiErr))
					assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantText, resp.Text())
		})
	}
}

func TestGenerateContent_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.GenerateContent(context.Background(), TextRequest("x", 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send request")
}

func TestResponseText_Empty(t *testing.T) {
	var r *GenerateContentResponse
	assert.Empty(t, r.Text())
	assert.Empty(t, (&GenerateContentResponse{}).Text())
}

func TestGenerateContent_ErrorBodyKeepsRunes(t *testing.T) {
	body := strings.Repeat("မြန်မာ", 200)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).GenerateContent(context.Background(), TextRequest("x", 0))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, utf8.ValidString(apiErr.Message))
	assert.LessOrEqual(t, len(apiErr.Message), 500)
	assert.True(t, strings.HasPrefix(body, apiErr.Message))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	// "日" is three bytes; a cut inside it backs off to the rune start.
	assert.Equal(t, "a", truncate("a日本", 3))
	assert.Equal(t, "a日", truncate("a日本", 4))
}
