package llm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mnemo-agent/mnemo/internal/core"
)

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int     `json:"index"`
				ID       *string `json:"id"`
				Function struct {
					Name      *string `json:"name"`
					Arguments *string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
}

// sseStream parses an OpenAI-style server-sent-event completion stream into
// core.StreamDelta values. One wire chunk may carry several tool-call
// fragments; they are buffered and drained one Recv at a time.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	pending []core.StreamDelta
	done    bool
}

var _ core.CompletionStream = (*sseStream)(nil)

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{body: body, scanner: scanner}
}

func (s *sseStream) Recv() (core.StreamDelta, error) {
	for {
		if len(s.pending) > 0 {
			d := s.pending[0]
			s.pending = s.pending[1:]
			return d, nil
		}
		if s.done {
			return core.StreamDelta{}, io.EOF
		}
		if err := s.readChunk(); err != nil {
			return core.StreamDelta{}, err
		}
	}
}

func (s *sseStream) readChunk() error {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("failed to parse stream chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" && len(delta.ToolCalls) == 0 {
			s.pending = append(s.pending, core.StreamDelta{Content: delta.Content})
		}
		for i, tc := range delta.ToolCalls {
			d := core.StreamDelta{
				ToolCall: &core.ToolCallDelta{
					Index:     tc.Index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
			// Content arriving in the same chunk as a tool call rides on
			// the first fragment so ordering is preserved for the
			// accumulator's interleaving check.
			if i == 0 {
				d.Content = delta.Content
			}
			s.pending = append(s.pending, d)
		}
		return nil
	}
	if err := s.scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	s.done = true
	return nil
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
