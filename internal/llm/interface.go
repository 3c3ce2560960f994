package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Stream is the minimal surface of an in-flight completion stream; Recv
// returns io.EOF when the assistant turn is complete.
type Stream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// StreamClient is the minimal subset of openai.Client used by the
// conversation controller; it is easy to mock in tests.
type StreamClient interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error)
}

// CompletionClient is the subset used for one-shot calls such as title
// derivation.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}
