// Package aitag suggests tags for memo content with an LLM. Suggestions
// are advisory: the caller decides which to attach, and tag records are
// only created when a memo actually uses them.
package aitag

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
)

// Completer produces a single completion for a system/user prompt pair
type Completer interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
}

// AnthropicCompleter implements Completer for Anthropic Claude
type AnthropicCompleter struct {
	client anthropic.Client
}

// NewAnthropicCompleter creates an Anthropic-backed completer
func NewAnthropicCompleter(apiKey string) *AnthropicCompleter {
	return &AnthropicCompleter{
		client: anthropic.NewClient(anthropicopt.WithAPIKey(apiKey)),
	}
}

func (c *AnthropicCompleter) Complete(ctx context.Context, model, system, user string) (string, error) {
	response, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", err
	}

	content := ""
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}
	return content, nil
}

// OpenAICompleter implements Completer for OpenAI
type OpenAICompleter struct {
	client openai.Client
}

// NewOpenAICompleter creates an OpenAI-backed completer
func NewOpenAICompleter(apiKey string) *OpenAICompleter {
	return &OpenAICompleter{
		client: openai.NewClient(openaiopt.WithAPIKey(apiKey)),
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, model, system, user string) (string, error) {
	response, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return response.Choices[0].Message.Content, nil
}

// NewCompleter selects a provider by name
func NewCompleter(provider, apiKey string) (Completer, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicCompleter(apiKey), nil
	case "openai":
		return NewOpenAICompleter(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown AI provider: %s", provider)
	}
}
