package dispatch

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mna-news/translate-runner/internal/config"
	"github.com/mna-news/translate-runner/pkg/gemini"
	"github.com/mna-news/translate-runner/pkg/openai"
)

// ErrEmptyResponse is returned when a 2xx response carries no text.
var ErrEmptyResponse = eris.New("dispatch: empty response text")

// Provider makes one generation call with a resolved secret.
type Provider interface {
	Name() string
	Generate(ctx context.Context, apiKey, prompt string) (string, error)
}

// GeminiProvider is the primary tier.
type GeminiProvider struct {
	cfg     config.GeminiConfig
	http    *http.Client
	mu      sync.Mutex
	clients map[string]gemini.Client
}

// NewGeminiProvider creates the primary provider.
func NewGeminiProvider(cfg config.GeminiConfig) *GeminiProvider {
	return &GeminiProvider{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout(cfg.TimeoutSecs)},
		clients: make(map[string]gemini.Client),
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) client(apiKey string) gemini.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[apiKey]
	if !ok {
		opts := []gemini.Option{gemini.WithHTTPClient(p.http)}
		if p.cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(p.cfg.BaseURL))
		}
		if p.cfg.Model != "" {
			opts = append(opts, gemini.WithModel(p.cfg.Model))
		}
		c = gemini.NewClient(apiKey, opts...)
		p.clients[apiKey] = c
	}
	return c
}

func (p *GeminiProvider) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	resp, err := p.client(apiKey).GenerateContent(ctx, gemini.TextRequest(prompt, p.cfg.Temperature))
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// OpenAIProvider is the fallback tier.
type OpenAIProvider struct {
	cfg     config.OpenAIConfig
	http    *http.Client
	mu      sync.Mutex
	clients map[string]openai.Client
}

// NewOpenAIProvider creates the fallback provider.
func NewOpenAIProvider(cfg config.OpenAIConfig) *OpenAIProvider {
	return &OpenAIProvider{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout(cfg.TimeoutSecs)},
		clients: make(map[string]openai.Client),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) client(apiKey string) openai.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[apiKey]
	if !ok {
		opts := []openai.Option{openai.WithHTTPClient(p.http)}
		if p.cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.cfg.BaseURL))
		}
		if p.cfg.Model != "" {
			opts = append(opts, openai.WithModel(p.cfg.Model))
		}
		c = openai.NewClient(apiKey, opts...)
		p.clients[apiKey] = c
	}
	return c
}

func (p *OpenAIProvider) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	req := openai.ResponseRequest{Model: p.cfg.Model, Input: prompt}
	if p.cfg.StrictSchema {
		req.Text = &openai.TextConfig{Format: openai.RowResultsFormat()}
	}
	resp, err := p.client(apiKey).CreateResponse(ctx, req)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func timeout(secs int) time.Duration {
	if secs <= 0 {
		return 120 * time.Second
	}
	return time.Duration(secs) * time.Second
}
