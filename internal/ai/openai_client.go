package ai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Vovarama1992/chatcrm-relay/internal/logging"
)

const jsonGuard = `Reply with valid JSON only. No text outside the JSON object.`

type OpenAIClient struct {
	client *openai.Client
	model  string
	log    *logging.Logger
}

func NewOpenAIClient(apiKey, model string, log *logging.Logger) *OpenAIClient {
	return NewOpenAIClientWithConfig(openai.DefaultConfig(apiKey), model, log)
}

// NewOpenAIClientWithConfig allows a custom base URL.
func NewOpenAIClientWithConfig(cfg openai.ClientConfig, model string, log *logging.Logger) *OpenAIClient {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		log:    log.Sub("openai"),
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, input string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: input},
			// format guard goes last
			{Role: openai.ChatMessageRoleSystem, Content: jsonGuard},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("model", c.model).Msg("completion failed")
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}

	raw := resp.Choices[0].Message.Content
	c.log.Debug().Str("model", c.model).Str("reply", raw).Msg("completion")
	return raw, nil
}
