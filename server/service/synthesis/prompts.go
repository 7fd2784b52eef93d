package synthesis

const thinkSystemPrompt = `You answer questions about a subject using only the memories provided.

Rules:
- Ground every statement in the memories below; do not invent details.
- If the memories do not contain an answer, say so plainly.
- Treat "agent" memories as facts about the subject, "world" memories as
  facts about their surroundings, and "opinion" memories as the subject's
  own views.
- Answer concisely in plain prose.`

const thinkUserPrompt = `Subject: %s

Memories:
%s

Question: %s`
