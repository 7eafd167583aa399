package openai

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mikey/mail2cal/internal/config"
	"github.com/mikey/mail2cal/internal/core"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Factory creates new instances of OpenAIClient
type Factory struct {
	cfg     config.OpenAIConfig
	timeout time.Duration
	logger  *zap.Logger
}

// NewFactory creates a new factory for OpenAIClient instances
func NewFactory(cfg config.OpenAIConfig, timeout time.Duration, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:     cfg,
		timeout: timeout,
		logger:  logger,
	}
}

// CreateLLMClient creates a new OpenAIClient
func (f *Factory) CreateLLMClient() (core.LLMClient, error) {
	if f.cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	clientCfg := openai.DefaultConfig(f.cfg.APIKey)
	if f.cfg.BaseURL != "" {
		clientCfg.BaseURL = f.cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout: f.timeout,
		Transport: &headerTransport{
			base: http.DefaultTransport,
			headers: map[string]string{
				"HTTP-Referer": f.cfg.Referer,
				"X-Title":      f.cfg.AppTitle,
			},
		},
	}

	f.logger.Info("Using OpenAI-compatible model",
		zap.String("model", f.cfg.ModelName),
		zap.String("base_url", clientCfg.BaseURL))

	return NewOpenAIClient(
		openai.NewClientWithConfig(clientCfg),
		f.cfg.ModelName,
		f.cfg.MaxTokens,
		f.cfg.Temperature,
		f.cfg.TopP,
		f.logger,
	), nil
}

// headerTransport adds the attribution headers OpenRouter asks for
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}
