package factory

import (
	"github.com/mikey/mail2cal/internal/adapters/openai"
	"github.com/mikey/mail2cal/internal/config"
	"github.com/mikey/mail2cal/internal/core"
	"go.uber.org/zap"
)

// OpenAIFactory creates clients for OpenAI-compatible APIs such as OpenRouter
type OpenAIFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewOpenAIFactory creates a new OpenAI factory
func NewOpenAIFactory(cfg *config.Config, logger *zap.Logger) *OpenAIFactory {
	return &OpenAIFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateLLMClient creates an OpenAI LLM client
func (f *OpenAIFactory) CreateLLMClient() (core.LLMClient, error) {
	openaiCfg := f.cfg.GetOpenAI()
	f.logger.Info("Using OpenAI-compatible API",
		zap.String("base_url", openaiCfg.BaseURL),
		zap.String("model", openaiCfg.ModelName))
	return openai.NewFactory(openaiCfg, f.cfg.GetLLM().Timeout, f.logger).CreateLLMClient()
}
