package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	openai "github.com/sashabaranov/go-openai"
)

// Service wraps the model client behind guardrails. A Service built without an
// API key is valid and answers every call with the deterministic fallback.
type Service struct {
	client        *openai.Client
	model         string
	temperature   float32
	promptVersion string
}

func NewService(apiKey, model string, temperature float64, promptVersion string) *Service {
	svc := &Service{
		model:         model,
		temperature:   float32(temperature),
		promptVersion: promptVersion,
	}
	if apiKey == "" {
		log.Printf("assist: no API key configured, running in deterministic mode")
		return svc
	}
	svc.client = openai.NewClient(apiKey)
	log.Printf("assist: model client ready (model=%s)", model)
	return svc
}

// Enabled reports whether a model client is configured. Callers never need to
// check it before calling; every method degrades to its fallback on its own.
func (s *Service) Enabled() bool {
	return s != nil && s.client != nil
}

// callStructured runs one chat completion with a strict JSON schema response
// format and decodes the content into out.
func (s *Service) callStructured(ctx context.Context, system, user, schemaName string, schema json.RawMessage, out any) error {
	if !s.Enabled() {
		return fmt.Errorf("assist model client not configured")
	}
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: s.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Schema: schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("chat completion returned no choices")
	}
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("model returned non-JSON content: %w", err)
	}
	return nil
}
