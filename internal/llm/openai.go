package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	"github.com/feegate-io/feegate/internal/knowledge"
	feegateotel "github.com/feegate-io/feegate/internal/otel"
)

var tracer = feegateotel.Tracer("github.com/feegate-io/feegate/internal/llm")

const openAIModel = "gpt-4o-mini"

// OpenAIProvider implements Provider against the OpenAI chat API.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates an OpenAI provider with the given API key.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey)}
}

// NewOpenAIProviderWithBaseURL creates an OpenAI provider pointed at a custom
// base URL (e.g. an httptest mock server). baseURL is scheme+host without
// path; the client appends /v1.
func NewOpenAIProviderWithBaseURL(apiKey, baseURL string) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"
	return &OpenAIProvider{client: openai.NewClientWithConfig(config)}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// GenerateBullets sends a chat completion request and parses the reply into
// candidate bullets.
func (p *OpenAIProvider) GenerateBullets(ctx context.Context, pkt *knowledge.Packet, intent string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.generate",
		trace.WithAttributes(
			feegateotel.GenAISystem.String("openai"),
			feegateotel.GenAIRequestModel.String(openAIModel),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, TimeoutGenerate)
	defer cancel()

	system, user := buildPrompt(pkt, intent)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openAIModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("openai api call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api call: no choices returned")
	}

	span.SetAttributes(
		feegateotel.GenAIUsageInputTokens.Int(resp.Usage.PromptTokens),
		feegateotel.GenAIUsageOutputTokens.Int(resp.Usage.CompletionTokens),
	)

	return parseBullets(resp.Choices[0].Message.Content), nil
}
