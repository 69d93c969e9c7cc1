package core

import "context"

// Embedder is the embedding-client boundary. Embed fails on empty text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ToolCallDelta is one partial tool-call update from a completion stream.
// Index is assigned by the provider and keys accumulation; pointers are nil
// for fields absent from this delta.
type ToolCallDelta struct {
	Index     int
	ID        *string
	Name      *string
	Arguments *string
}

// StreamDelta is one unit of streamed model output: a content fragment, a
// partial tool call, or both.
type StreamDelta struct {
	Content  string
	ToolCall *ToolCallDelta
}

// CompletionStream produces deltas in order and returns io.EOF when the
// stream closes.
type CompletionStream interface {
	Recv() (StreamDelta, error)
	Close() error
}

// ChatProvider is the completion boundary, in both buffered and streamed
// forms.
type ChatProvider interface {
	Chat(ctx context.Context, msgs []ContextMessage, tools []Tool) (ContextMessage, error)
	ChatStream(ctx context.Context, msgs []ContextMessage, tools []Tool) (CompletionStream, error)
}

// ToolExecutor runs a completed tool call and returns its textual result.
type ToolExecutor interface {
	Tools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, userID int64, name string, args string) (string, error)
}
