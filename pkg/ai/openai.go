package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nicobailon/surf-cli/pkg/retry"
)

const openAISystemPrompt = "You are a concise assistant analyzing web pages " +
	"for a command-line user. Answer directly, without preamble."

// openAIBackend answers prompts through the OpenAI chat completions API.
type openAIBackend struct {
	client openai.Client
	model  string
	ready  bool
}

func newOpenAIBackend(creds *Credentials, model string) *openAIBackend {
	b := &openAIBackend{model: model}
	if creds != nil && creds.OpenAIAPIKey != "" {
		b.client = openai.NewClient(option.WithAPIKey(creds.OpenAIAPIKey))
		b.ready = true
	}
	return b
}

func (b *openAIBackend) Name() string { return BackendOpenAI }

func (b *openAIBackend) Query(ctx context.Context, prompt string) (string, error) {
	if !b.ready {
		return "", fmt.Errorf("openai backend not configured")
	}

	completion, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(openAISystemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			// Preserve the status code so the retry classifier does not
			// have to scrape it out of message text.
			return "", &retry.StatusError{Code: apiErr.StatusCode, Message: apiErr.Message}
		}
		return "", fmt.Errorf("openai request: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
