package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mnemo-agent/mnemo/internal/core"
	"github.com/mnemo-agent/mnemo/internal/service/memory"
)

// Registry exposes the built-in memory tools to the model. It implements
// core.ToolExecutor; the same definitions back the MCP server.
type Registry struct {
	memories *memory.Repository
}

var _ core.ToolExecutor = (*Registry)(nil)

func NewRegistry(memories *memory.Repository) *Registry {
	return &Registry{memories: memories}
}

type handler func(ctx context.Context, userID int64, args json.RawMessage) (string, error)

type definition struct {
	tool    core.Tool
	handler handler
}

func (r *Registry) definitions() []definition {
	return []definition{
		{
			tool:    toolDef("create_memory", "Store a durable fact about the user for future conversations.", createMemorySchema),
			handler: r.createMemory,
		},
		{
			tool:    toolDef("search_memories", "Search stored memories by semantic similarity.", searchSchema),
			handler: r.searchMemories,
		},
		{
			tool:    toolDef("list_memories", "List every active stored memory.", emptySchema),
			handler: r.listMemories,
		},
		{
			tool:    toolDef("forget_memory", "Deactivate a stored memory that is wrong or no longer wanted.", forgetSchema),
			handler: r.forgetMemory,
		},
		{
			tool:    toolDef("create_goal", "Record a goal the user is working toward.", createGoalSchema),
			handler: r.createGoal,
		},
		{
			tool:    toolDef("list_goals", "List the user's active goals.", emptySchema),
			handler: r.listGoals,
		},
		{
			tool:    toolDef("create_reminder", "Schedule a reminder for the user.", createReminderSchema),
			handler: r.createReminder,
		},
		{
			tool:    toolDef("list_reminders", "List the user's active reminders.", emptySchema),
			handler: r.listReminders,
		},
	}
}

func (r *Registry) Tools(_ context.Context) ([]core.Tool, error) {
	defs := r.definitions()
	out := make([]core.Tool, len(defs))
	for i, d := range defs {
		out[i] = d.tool
	}
	return out, nil
}

func (r *Registry) CallTool(ctx context.Context, userID int64, name string, args string) (string, error) {
	for _, d := range r.definitions() {
		if d.tool.Function.Name != name {
			continue
		}
		raw := json.RawMessage(args)
		if strings.TrimSpace(args) == "" {
			raw = json.RawMessage("{}")
		}
		return d.handler(ctx, userID, raw)
	}
	return "", fmt.Errorf("unknown tool %q", name)
}

func toolDef(name, description, schema string) core.Tool {
	return core.Tool{
		Type: "function",
		Function: core.Function{
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(schema),
		},
	}
}

func (r *Registry) createMemory(ctx context.Context, userID int64, args json.RawMessage) (string, error) {
	var in struct {
		Name string `json:"name"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid create_memory arguments: %w", err)
	}
	if in.Name == "" || in.Text == "" {
		return "", fmt.Errorf("create_memory requires name and text")
	}
	id, err := r.memories.CreateMemory(ctx, userID, in.Name, in.Text)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Memory %q stored (id %d).", in.Name, id), nil
}

func (r *Registry) searchMemories(ctx context.Context, userID int64, args json.RawMessage) (string, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid search_memories arguments: %w", err)
	}
	if in.Query == "" {
		return "", fmt.Errorf("search_memories requires a query")
	}
	results, err := r.memories.Search(ctx, userID, core.EntityMemory, in.Query, 5)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No matching memories.", nil
	}
	var b strings.Builder
	for _, e := range results {
		fmt.Fprintf(&b, "- [%d] %s\n", e.EntityID(), e.Fact())
	}
	return b.String(), nil
}

func (r *Registry) listMemories(ctx context.Context, userID int64, _ json.RawMessage) (string, error) {
	return r.listActive(ctx, userID, core.EntityMemory, "No memories stored yet.")
}

func (r *Registry) forgetMemory(ctx context.Context, userID int64, args json.RawMessage) (string, error) {
	var in struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid forget_memory arguments: %w", err)
	}
	if err := r.memories.Deactivate(ctx, userID, core.EntityMemory, in.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Memory %d forgotten.", in.ID), nil
}

func (r *Registry) createGoal(ctx context.Context, userID int64, args json.RawMessage) (string, error) {
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		TargetDate  string `json:"target_date"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid create_goal arguments: %w", err)
	}
	if in.Name == "" {
		return "", fmt.Errorf("create_goal requires a name")
	}
	var target *time.Time
	if in.TargetDate != "" {
		t, err := time.Parse(time.DateOnly, in.TargetDate)
		if err != nil {
			return "", fmt.Errorf("target_date must be YYYY-MM-DD: %w", err)
		}
		target = &t
	}
	id, err := r.memories.CreateGoal(ctx, userID, in.Name, in.Description, target)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Goal %q recorded (id %d).", in.Name, id), nil
}

func (r *Registry) listGoals(ctx context.Context, userID int64, _ json.RawMessage) (string, error) {
	return r.listActive(ctx, userID, core.EntityGoal, "No active goals.")
}

func (r *Registry) createReminder(ctx context.Context, userID int64, args json.RawMessage) (string, error) {
	var in struct {
		Name      string `json:"name"`
		Text      string `json:"text"`
		TriggerAt string `json:"trigger_at"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid create_reminder arguments: %w", err)
	}
	if in.Name == "" || in.TriggerAt == "" {
		return "", fmt.Errorf("create_reminder requires name and trigger_at")
	}
	at, err := time.Parse(time.RFC3339, in.TriggerAt)
	if err != nil {
		return "", fmt.Errorf("trigger_at must be RFC 3339: %w", err)
	}
	id, err := r.memories.CreateReminder(ctx, userID, in.Name, in.Text, at)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Reminder %q scheduled for %s (id %d).", in.Name, at.Format(time.RFC3339), id), nil
}

func (r *Registry) listReminders(ctx context.Context, userID int64, _ json.RawMessage) (string, error) {
	return r.listActive(ctx, userID, core.EntityReminder, "No active reminders.")
}

func (r *Registry) listActive(ctx context.Context, userID int64, t core.EntityType, empty string) (string, error) {
	entities, err := r.memories.GetActive(ctx, userID, t)
	if err != nil {
		return "", err
	}
	if len(entities) == 0 {
		return empty, nil
	}
	var b strings.Builder
	for _, e := range entities {
		fmt.Fprintf(&b, "- [%d] %s\n", e.EntityID(), e.Fact())
	}
	return b.String(), nil
}
