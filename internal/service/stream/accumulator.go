package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mnemo-agent/mnemo/internal/core"
)

// Accumulator folds a completion stream into one assistant message. Content
// deltas accumulate freely in arrival order, interleaved with tool calls;
// tool-call indexes must arrive contiguously and monotonically, and a new
// index may only begin once the prior call is complete. Violations surface
// as core.ProtocolError and poison the accumulator; Message returns the same
// error afterwards.
type Accumulator struct {
	content strings.Builder
	calls   []pendingCall
	failed  error
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// complete reports whether the call can be executed: id and name are known
// and the argument buffer is either empty (a no-argument call) or closed
// valid JSON.
func (c *pendingCall) complete() bool {
	if c.id == "" || c.name == "" {
		return false
	}
	args := c.args.String()
	return args == "" || json.Valid([]byte(args))
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Feed applies one stream delta.
func (a *Accumulator) Feed(d core.StreamDelta) error {
	if a.failed != nil {
		return a.failed
	}
	if d.Content != "" {
		a.content.WriteString(d.Content)
	}
	if d.ToolCall != nil {
		if err := a.feedToolCall(*d.ToolCall); err != nil {
			return err
		}
	}
	return nil
}

func (a *Accumulator) feedToolCall(d core.ToolCallDelta) error {
	switch {
	case d.Index < 0:
		return a.fail(fmt.Sprintf("negative tool-call index %d", d.Index))
	case d.Index > len(a.calls):
		return a.fail(fmt.Sprintf("tool-call index %d skips ahead of %d accumulated calls", d.Index, len(a.calls)))
	case d.Index < len(a.calls)-1:
		return a.fail(fmt.Sprintf("tool-call index %d after index %d already started", d.Index, len(a.calls)-1))
	case d.Index == len(a.calls):
		// One call streams to completion before the next begins; two open
		// calls would corrupt each other's argument buffer.
		if len(a.calls) > 0 && !a.calls[len(a.calls)-1].complete() {
			return a.fail(fmt.Sprintf("tool-call index %d started before call %d completed", d.Index, len(a.calls)-1))
		}
		a.calls = append(a.calls, pendingCall{})
	}

	call := &a.calls[d.Index]
	if d.ID != nil && *d.ID != "" {
		if call.id != "" && call.id != *d.ID {
			return a.fail(fmt.Sprintf("conflicting ids %q and %q for tool call %d", call.id, *d.ID, d.Index))
		}
		call.id = *d.ID
	}
	if d.Name != nil && *d.Name != "" {
		if call.name != "" && call.name != *d.Name {
			return a.fail(fmt.Sprintf("conflicting names %q and %q for tool call %d", call.name, *d.Name, d.Index))
		}
		call.name = *d.Name
	}
	if d.Arguments != nil {
		call.args.WriteString(*d.Arguments)
	}
	return nil
}

// Message finalizes the accumulated assistant message. Every started tool
// call must have received an id and a function name by stream end.
func (a *Accumulator) Message() (core.ContextMessage, error) {
	if a.failed != nil {
		return core.ContextMessage{}, a.failed
	}

	msg := core.ContextMessage{
		Role:    core.RoleAssistant,
		Content: a.content.String(),
	}
	for i := range a.calls {
		call := &a.calls[i]
		if call.id == "" {
			return core.ContextMessage{}, a.fail(fmt.Sprintf("tool call %d ended without an id", i))
		}
		if call.name == "" {
			return core.ContextMessage{}, a.fail(fmt.Sprintf("tool call %d ended without a function name", i))
		}
		if args := call.args.String(); args != "" && !json.Valid([]byte(args)) {
			return core.ContextMessage{}, a.fail(fmt.Sprintf("tool call %d ended with malformed arguments", i))
		}
		msg.ToolCalls = append(msg.ToolCalls, core.ToolCall{
			ID:   call.id,
			Type: "function",
			Function: core.FunctionCall{
				Name:      call.name,
				Arguments: call.args.String(),
			},
		})
	}
	return msg, nil
}

func (a *Accumulator) fail(reason string) error {
	a.failed = core.NewProtocolError(reason)
	return a.failed
}
