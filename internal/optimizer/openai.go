package optimizer

import (
	"fmt"

	"github.com/tmc/langchaingo/llms/openai"
)

// NewOpenAIModel builds an OpenAI-compatible backend. baseURL may point at any
// compatible endpoint (Azure, GitHub Models, a local gateway); empty uses OpenAI.
func NewOpenAIModel(token, model, baseURL string) (Model, error) {
	if token == "" {
		return Model{}, fmt.Errorf("optimizer api key is required for model %s", model)
	}
	opts := []openai.Option{openai.WithToken(token), openai.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return Model{}, fmt.Errorf("create optimizer client %s: %w", model, err)
	}
	return Model{Name: model, LLM: llm}, nil
}
