// Package llm wraps the optional structured-output LLM call used by the
// image auto-fixer (keyword extraction) and the transcript aligner (span
// splitting): a JSON-mode chat completion with truncated raw-response
// logging on parse failure. Every caller pairs this with its own
// deterministic validator/repairer, so the rest of the pipeline never
// depends on the LLM's output being well-formed on its own.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	openai "github.com/sashabaranov/go-openai"
)

type Client struct {
	client *openai.Client
	model  string
}

func New(apiKey, model string) *Client {
	return &Client{client: openai.NewClient(apiKey), model: model}
}

// Enabled reports whether a client was constructed (a nil *Client is
// disabled). The API key itself is not checked here.
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

const maxLogLen = 2000

// CallJSON issues a JSON-mode chat completion and unmarshals the response
// into out. Callers must validate out themselves — this function only
// guarantees valid JSON was returned, not that it satisfies the caller's
// schema.
func (c *Client) CallJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return fmt.Errorf("llm request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("llm returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		if len(raw) > maxLogLen {
			log.Printf("[llm] parse failed, raw response (truncated): %s...", raw[:maxLogLen])
		} else {
			log.Printf("[llm] parse failed, raw response: %s", raw)
		}
		return fmt.Errorf("failed to parse llm response: %w", err)
	}
	return nil
}
