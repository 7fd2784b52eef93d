package extraction

const extractionSystemPrompt = `You distill observations about a subject into discrete, atomic facts.

Rules:
- Each fact is a single self-contained statement in plain language.
- Resolve pronouns using the subject's name when possible.
- Classify every fact as exactly one of:
  - "world": a fact about the external world
  - "agent": a fact about the subject themselves
  - "opinion": a subjective or evaluative claim
- Skip greetings, questions, and filler with no factual content.
- Return at most %d facts.

Respond with a JSON array only, no prose:
[{"type": "world|agent|opinion", "content": "..."}]
If the text contains no extractable claims, return [].`

const extractionUserPrompt = `Subject: %s
%sText:
%s`
