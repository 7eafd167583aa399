package factory

import (
	"fmt"

	"github.com/mikey/mail2cal/internal/adapters/ratelimit"
	"github.com/mikey/mail2cal/internal/config"
	"github.com/mikey/mail2cal/internal/core"
	"go.uber.org/zap"
)

// LLMFactory creates the configured LLM client
type LLMFactory struct {
	cfg     *config.Config
	logger  *zap.Logger
	openai  *OpenAIFactory
	gemini  *GeminiFactory
	bedrock *BedrockFactory
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(
	cfg *config.Config,
	logger *zap.Logger,
	openai *OpenAIFactory,
	gemini *GeminiFactory,
	bedrock *BedrockFactory,
) *LLMFactory {
	return &LLMFactory{
		cfg:     cfg,
		logger:  logger,
		openai:  openai,
		gemini:  gemini,
		bedrock: bedrock,
	}
}

// CreateLLMClient creates a new LLM client based on the configuration,
// throttled when llm.requests_per_minute is set
func (f *LLMFactory) CreateLLMClient() (core.LLMClient, error) {
	llmConfig := f.cfg.GetLLM()

	var client core.LLMClient
	var err error
	switch llmConfig.Provider {
	case "openai":
		client, err = f.openai.CreateLLMClient()
	case "gemini":
		client, err = f.gemini.CreateLLMClient()
	case "bedrock":
		client, err = f.bedrock.CreateLLMClient()
	default:
		return nil, &core.FatalConfigError{Reason: fmt.Sprintf("unsupported LLM provider: %s", llmConfig.Provider)}
	}
	if err != nil {
		return nil, &core.FatalConfigError{Reason: "failed to create LLM client", Err: err}
	}

	if llmConfig.RequestsPerMinute > 0 {
		f.logger.Info("Throttling LLM requests", zap.Int("requests_per_minute", llmConfig.RequestsPerMinute))
	}
	return ratelimit.NewLLMClient(client, llmConfig.RequestsPerMinute), nil
}

// CreateExtractor creates the event extractor around an LLM client
func (f *LLMFactory) CreateExtractor(client core.LLMClient) *core.EventExtractor {
	extraction := f.cfg.GetExtraction()
	return core.NewEventExtractor(client, f.logger, core.ExtractorOptions{
		EventPrefix:   extraction.EventPrefix,
		MinConfidence: extraction.MinConfidence,
		Timeout:       f.cfg.GetLLM().Timeout,
	})
}
