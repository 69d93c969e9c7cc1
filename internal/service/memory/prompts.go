package memory

const consolidatePrompt = `You maintain a long-term memory store. The user message
contains two stored memories that are semantically close. Rewrite them into
the smallest set of clear, non-overlapping memories: one merged memory when
they describe the same fact, or several split memories when they conflate
distinct facts.

Respond with JSON only, in this shape:
{"reasoning": "<one sentence>", "memories": [{"name": "<short title>", "text": "<memory body>"}]}`

const formulatePrompt = `You maintain a long-term memory store for a personal
assistant. From the conversation transcript in the user message, extract the
single most durable new fact worth remembering about the user: a preference,
a life fact, a decision, or a commitment. Ignore small talk and anything the
assistant said on its own.

Respond with JSON only: {"name": "<short title>", "text": "<memory body>"}
If nothing is worth remembering, respond with the single word NONE.`

const reflectPrompt = `You are the inner voice of a personal assistant. The user
message contains a conversation excerpt and material recalled from long-term
memory. In at most three sentences, note how the recalled material bears on
the conversation, so the assistant can use it naturally. Do not address the
user.`
