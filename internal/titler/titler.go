// Package titler derives a short human-readable session title from the
// opening exchange of a conversation.
package titler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"chatkeep/internal/llm"
	"chatkeep/internal/session"
)

const prompt = `Summarize the conversation so far as a title of at most five words.
Reply with JSON of the form {"title": "..."} and nothing else.`

// Response is the title service's wire contract: a title on success, an
// error message on failure. A response carrying an error is a failure, not a
// degraded success.
type Response struct {
	Title string `json:"title"`
	Error string `json:"error,omitempty"`
}

// Titler asks the completion endpoint for a title.
type Titler struct {
	client llm.CompletionClient
	model  string
}

// New creates a titler that derives titles with the given model id.
func New(client llm.CompletionClient, model string) *Titler {
	return &Titler{client: client, model: model}
}

// DeriveTitle derives a title from up to the first two messages. An empty
// title with a nil error means the service omitted one; the caller decides
// the fallback.
func (t *Titler) DeriveTitle(ctx context.Context, messages []session.Message) (string, error) {
	if len(messages) > 2 {
		messages = messages[:2]
	}

	req := openai.ChatCompletionRequest{
		Model:    t.model,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: prompt}},
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := t.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("derive title: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("derive title: empty completion response")
	}

	var parsed Response
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return "", fmt.Errorf("derive title: malformed response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("derive title: service error: %s", parsed.Error)
	}
	return parsed.Title, nil
}
