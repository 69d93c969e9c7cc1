package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo-agent/mnemo/internal/core"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

type chatCompletionRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
}

type chatCompletionChoice struct {
	Index        int            `json:"index"`
	Message      *choiceMessage `json:"message,omitempty"`
	Delta        *choiceMessage `json:"delta,omitempty"`
	FinishReason *string        `json:"finish_reason"`
}

type choiceMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

func (s *Server) handleChatCompletions(appCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := log.FromCtx(appCtx).WithContext(r.Context())

		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if len(req.Messages) == 0 {
			writeError(w, http.StatusBadRequest, "messages must not be empty")
			return
		}
		last := req.Messages[len(req.Messages)-1]
		if last.Role != core.RoleUser {
			writeError(w, http.StatusBadRequest, "last message must have role user")
			return
		}

		userID := s.cfg.DefaultUserID
		if v := r.Header.Get("X-User-Id"); v != "" {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "X-User-Id must be an integer")
				return
			}
			userID = parsed
		}

		// Everything before the final user message is the client's view of
		// the history; reconcile it before running the turn.
		history := make([]core.ContextMessage, 0, len(req.Messages)-1)
		for _, m := range req.Messages[:len(req.Messages)-1] {
			history = append(history, core.ContextMessage{Role: m.Role, Content: m.Content})
		}
		if err := s.tracker.Reconcile(ctx, userID, history); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to reconcile conversation: "+err.Error())
			return
		}

		if req.Stream {
			s.streamCompletion(ctx, w, userID, last.Content, req.Model)
			return
		}

		reply, err := s.agent.Respond(ctx, userID, last.Content, nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		stop := "stop"
		writeJSON(w, http.StatusOK, chatCompletionResponse{
			ID:      "chatcmpl-" + uuid.NewString(),
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []chatCompletionChoice{{
				Message:      &choiceMessage{Role: core.RoleAssistant, Content: reply},
				FinishReason: &stop,
			}},
		})
	}
}

func (s *Server) streamCompletion(ctx context.Context, w http.ResponseWriter, userID int64, text, model string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	writeChunk := func(delta *choiceMessage, finish *string) {
		chunk := chatCompletionResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []chatCompletionChoice{{Delta: delta, FinishReason: finish}},
		}
		payload, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	writeChunk(&choiceMessage{Role: core.RoleAssistant}, nil)

	_, err := s.agent.Respond(ctx, userID, text, func(fragment string) {
		writeChunk(&choiceMessage{Content: fragment}, nil)
	})
	if err != nil {
		log.FromCtx(ctx).Error().Err(err).Int64("user_id", userID).Msg("streamed turn failed")
		writeChunk(&choiceMessage{Content: "error: " + err.Error()}, nil)
	}

	stop := "stop"
	writeChunk(nil, &stop)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": msg},
	})
}
