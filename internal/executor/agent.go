package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/roach88/cascade/internal/pipeline"
)

// LLMClient generates a completion for an assembled prompt. The model
// name comes from the node's configuration so one document can mix
// models across agent nodes.
type LLMClient interface {
	Generate(ctx context.Context, model, systemPrompt, prompt string) (string, error)
}

// OpenAIClient is the production LLMClient backed by the OpenAI chat
// completion API.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	logger       *slog.Logger
}

// NewOpenAIClient reads the API key from OPENAI_API_KEY, falling back
// to the container secret mount used in deployed environments.
func NewOpenAIClient(defaultModel string, logger *slog.Logger) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		data, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, fmt.Errorf("OPENAI_API_KEY not set and secret %s not readable", secretPath)
		}
		apiKey = strings.TrimSpace(string(data))
		logger.Info("read OpenAI API key from secret mount")
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &OpenAIClient{
		client:       openai.NewClient(apiKey),
		defaultModel: defaultModel,
		logger:       logger,
	}, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, model, systemPrompt, prompt string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}
	if systemPrompt == "" {
		systemPrompt = "You are a helpful assistant."
	}
	c.logger.Debug("calling OpenAI", "model", model)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// AgentExecutor assembles the node's segments into a prompt and asks
// the model for a completion. The output carries the prompt alongside
// the completion so a changed prompt always changes the output hash,
// even when the model happens to answer identically.
type AgentExecutor struct {
	Client     LLMClient
	Frameworks FrameworkResolver
}

func (e *AgentExecutor) Execute(ctx context.Context, node pipeline.Node, deps map[string]any, _ string) (any, error) {
	prompt, err := assemble(ctx, node.Segments, deps, e.Frameworks)
	if err != nil {
		return nil, err
	}

	completion, err := e.Client.Generate(ctx, node.Config.Model, node.Config.SystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", node.ID, err)
	}

	return map[string]any{
		"prompt":     prompt,
		"completion": completion,
		"model":      node.Config.Model,
	}, nil
}
