package titler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"chatkeep/internal/session"
)

type mockLLM struct {
	resp    string
	err     error
	lastReq openai.ChatCompletionRequest
}

func (m *mockLLM) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.lastReq = req
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: m.resp}}},
	}, nil
}

func seedMessages() []session.Message {
	now := time.Now()
	return []session.Message{
		{Role: session.RoleUser, Content: "Hello", CreatedAt: now},
		{Role: session.RoleAssistant, Content: "Hi there", CreatedAt: now},
		{Role: session.RoleUser, Content: "later turn", CreatedAt: now},
	}
}

func TestDeriveTitle(t *testing.T) {
	client := &mockLLM{resp: `{"title": "Greeting"}`}
	tl := New(client, "gpt-4o-mini")

	title, err := tl.DeriveTitle(context.Background(), seedMessages())
	require.NoError(t, err)
	require.Equal(t, "Greeting", title)

	// Prompt plus the first two messages only.
	require.Len(t, client.lastReq.Messages, 3)
	require.Equal(t, openai.ChatMessageRoleSystem, client.lastReq.Messages[0].Role)
	require.Equal(t, "Hello", client.lastReq.Messages[1].Content)
	require.Equal(t, "Hi there", client.lastReq.Messages[2].Content)
}

func TestDeriveTitleServiceError(t *testing.T) {
	tl := New(&mockLLM{resp: `{"error": "rate limited"}`}, "gpt-4o-mini")

	_, err := tl.DeriveTitle(context.Background(), seedMessages())
	require.ErrorContains(t, err, "rate limited")
}

func TestDeriveTitleMalformedResponse(t *testing.T) {
	tl := New(&mockLLM{resp: "Sure! Here's a title: Greeting"}, "gpt-4o-mini")

	_, err := tl.DeriveTitle(context.Background(), seedMessages())
	require.ErrorContains(t, err, "malformed")
}

func TestDeriveTitleTransportError(t *testing.T) {
	tl := New(&mockLLM{err: errors.New("connection refused")}, "gpt-4o-mini")

	_, err := tl.DeriveTitle(context.Background(), seedMessages())
	require.ErrorContains(t, err, "connection refused")
}

func TestDeriveTitleOmittedTitle(t *testing.T) {
	tl := New(&mockLLM{resp: `{}`}, "gpt-4o-mini")

	title, err := tl.DeriveTitle(context.Background(), seedMessages())
	require.NoError(t, err)
	require.Empty(t, title)
}
