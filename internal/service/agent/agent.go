package agent

import (
	"context"
	"errors"
	"io"

	"github.com/mnemo-agent/mnemo/internal/core"
	"github.com/mnemo-agent/mnemo/internal/service/stream"
	"github.com/mnemo-agent/mnemo/internal/service/window"
	"github.com/mnemo-agent/mnemo/internal/service/worker"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

// maxToolRounds caps assistant/tool iterations within one turn so a model
// stuck calling tools cannot loop forever.
const maxToolRounds = 8

const apologyReply = "I'm sorry, something went wrong on my side and I had to drop our recent context. Could you repeat that?"

// MemorySource is the slice of the memory repository the agent drives
// directly: per-turn recall and background memory formation.
type MemorySource interface {
	Recall(ctx context.Context, userID int64, msgs []core.ContextMessage) (*core.ContextMessage, error)
	FormulateFromContext(ctx context.Context, userID int64) error
}

// Agent drives one conversational turn: refresh check, recall, completion
// loop with tool execution, and the protocol-error recovery ladder.
type Agent struct {
	window   *window.Window
	memories MemorySource
	chat     core.ChatProvider
	tools    core.ToolExecutor
	pool     *worker.Pool
}

func New(w *window.Window, memories MemorySource, chat core.ChatProvider, tools core.ToolExecutor, pool *worker.Pool) *Agent {
	a := &Agent{window: w, memories: memories, chat: chat, tools: tools, pool: pool}
	w.OnMemoryDue = func(ctx context.Context, userID int64) {
		// Detach from the request context: formation outlives the turn that
		// triggered it.
		pool.Go(context.WithoutCancel(ctx), userID, "formulate-memory", func(ctx context.Context) error {
			return memories.FormulateFromContext(ctx, userID)
		})
	}
	return a
}

// Respond handles one user message and returns the assistant's reply.
// onDelta, when non-nil, receives content fragments as they stream. The
// whole turn runs on the user's queue so background maintenance never
// interleaves with it.
func (a *Agent) Respond(ctx context.Context, userID int64, text string, onDelta func(string)) (string, error) {
	var reply string
	err := a.pool.RunSync(userID, func() error {
		var err error
		reply, err = a.respond(ctx, userID, text, onDelta)
		return err
	})
	return reply, err
}

func (a *Agent) respond(ctx context.Context, userID int64, text string, onDelta func(string)) (string, error) {
	logger := log.FromCtx(ctx)

	due, err := a.window.IsRefreshDue(ctx, userID)
	if err != nil {
		return "", err
	}
	if due {
		if err := a.window.Refresh(ctx, userID); err != nil {
			logger.Warn().Err(err).Int64("user_id", userID).Msg("context refresh failed, continuing with stale window")
		}
	}

	if err := a.appendUserTurn(ctx, userID, text); err != nil {
		return "", err
	}

	reply, err := a.completionLoop(ctx, userID, onDelta)
	if err == nil {
		return reply, nil
	}
	if !core.IsProtocolError(err) {
		return "", err
	}

	// Recovery ladder, rung one: refresh and retry. A refresh rebuilds the
	// window and often clears a malformed assistant/tool pairing.
	logger.Warn().Err(err).Int64("user_id", userID).Msg("protocol error, refreshing window and retrying")
	if err := a.window.Refresh(ctx, userID); err != nil {
		return "", err
	}
	reply, err = a.completionLoop(ctx, userID, onDelta)
	if err == nil {
		return reply, nil
	}
	if !core.IsProtocolError(err) {
		return "", err
	}

	// Rung two: drop everything but the system message and replay the user
	// message.
	logger.Error().Err(err).Int64("user_id", userID).Msg("protocol error persisted, resetting window and retrying")
	if err := a.window.ResetToSystemOnly(ctx, userID); err != nil {
		return "", err
	}
	if err := a.window.Append(ctx, userID, []core.ContextMessage{{Role: core.RoleUser, Content: text}}); err != nil {
		return "", err
	}
	reply, err = a.completionLoop(ctx, userID, onDelta)
	if err == nil {
		return reply, nil
	}
	if !core.IsProtocolError(err) {
		return "", err
	}

	// Rung three: give up on this turn gracefully.
	logger.Error().Err(err).Int64("user_id", userID).Msg("protocol error survived reset, apologizing")
	if onDelta != nil {
		onDelta(apologyReply)
	}
	return apologyReply, nil
}

// appendUserTurn appends the recall message (when recall surfaces anything)
// and the user message as one batch, so the tracker advances once.
func (a *Agent) appendUserTurn(ctx context.Context, userID int64, text string) error {
	msgs, err := a.window.ActiveMessages(ctx, userID)
	if err != nil {
		return err
	}

	userMsg := core.ContextMessage{Role: core.RoleUser, Content: text}
	pending := []core.ContextMessage{userMsg}

	recalled, err := a.memories.Recall(ctx, userID, append(msgs, userMsg))
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Int64("user_id", userID).Msg("recall failed, continuing without it")
	} else if recalled != nil {
		pending = []core.ContextMessage{*recalled, userMsg}
	}

	return a.window.Append(ctx, userID, pending)
}

func (a *Agent) completionLoop(ctx context.Context, userID int64, onDelta func(string)) (string, error) {
	tools, err := a.tools.Tools(ctx)
	if err != nil {
		return "", err
	}

	for round := 0; round < maxToolRounds; round++ {
		msgs, err := a.window.ActiveMessages(ctx, userID)
		if err != nil {
			return "", err
		}

		assistant, err := a.streamCompletion(ctx, msgs, tools, onDelta)
		if err != nil {
			return "", err
		}
		if err := a.window.Append(ctx, userID, []core.ContextMessage{assistant}); err != nil {
			return "", err
		}

		if len(assistant.ToolCalls) == 0 {
			return assistant.Content, nil
		}

		results := make([]core.ContextMessage, 0, len(assistant.ToolCalls))
		for _, call := range assistant.ToolCalls {
			output, err := a.tools.CallTool(ctx, userID, call.Function.Name, call.Function.Arguments)
			if err != nil {
				// The model sees the failure and may recover on its own.
				output = "tool error: " + err.Error()
			}
			results = append(results, core.ContextMessage{
				Role:       core.RoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
		if err := a.window.Append(ctx, userID, results); err != nil {
			return "", err
		}
	}
	return "", core.NewProtocolError("tool-call rounds exhausted without a final answer")
}

func (a *Agent) streamCompletion(ctx context.Context, msgs []core.ContextMessage, tools []core.Tool, onDelta func(string)) (core.ContextMessage, error) {
	s, err := a.chat.ChatStream(ctx, msgs, tools)
	if err != nil {
		return core.ContextMessage{}, err
	}
	defer s.Close()

	acc := stream.NewAccumulator()
	for {
		delta, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return core.ContextMessage{}, err
		}
		if err := acc.Feed(delta); err != nil {
			return core.ContextMessage{}, err
		}
		if onDelta != nil && delta.Content != "" {
			onDelta(delta.Content)
		}
	}
	return acc.Message()
}
