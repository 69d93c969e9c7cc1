package tools

const emptySchema = `{"type":"object","properties":{}}`

const createMemorySchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string", "description": "Short title for the memory"},
    "text": {"type": "string", "description": "The fact to remember"}
  },
  "required": ["name", "text"]
}`

const searchSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "What to search for"}
  },
  "required": ["query"]
}`

const forgetSchema = `{
  "type": "object",
  "properties": {
    "id": {"type": "integer", "description": "Id of the memory to forget"}
  },
  "required": ["id"]
}`

const createGoalSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string", "description": "Short title for the goal"},
    "description": {"type": "string", "description": "What achieving the goal looks like"},
    "target_date": {"type": "string", "description": "Optional target date, YYYY-MM-DD"}
  },
  "required": ["name"]
}`

const createReminderSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string", "description": "Short title for the reminder"},
    "text": {"type": "string", "description": "What to remind the user about"},
    "trigger_at": {"type": "string", "description": "When to trigger, RFC 3339 timestamp"}
  },
  "required": ["name", "trigger_at"]
}`
