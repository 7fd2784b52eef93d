// Package extraction turns raw ingested text into typed candidate facts.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memora-ai/memora/internal/profile"
	"github.com/memora-ai/memora/plugin/ai"
	"github.com/memora-ai/memora/plugin/markdown"
	engineerrors "github.com/memora-ai/memora/server/internal/errors"
	"github.com/memora-ai/memora/server/service/knowledge"
	"github.com/memora-ai/memora/store"
)

// Extractor partitions input text into atomic claims via the generation
// capability and embeds each claim for storage and matching.
type Extractor struct {
	llm       ai.LLMService
	embedding ai.EmbeddingService

	embeddingModel string
	maxFacts       int
}

// NewExtractor creates a fact extractor.
func NewExtractor(llm ai.LLMService, embedding ai.EmbeddingService, p *profile.Profile) *Extractor {
	return &Extractor{
		llm:            llm,
		embedding:      embedding,
		embeddingModel: p.EmbeddingModel,
		maxFacts:       p.MaxFactsPerExtract,
	}
}

type extractedClaim struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Extract returns zero or more unsaved candidate facts for the given text.
// Empty or blank input yields an empty slice, not an error. A provider
// failure surfaces as EXTRACTION_UNAVAILABLE so the ingestion coordinator
// can retry async jobs.
func (e *Extractor) Extract(ctx context.Context, agentID, text, sourceContext string) ([]*knowledge.Candidate, error) {
	plain := strings.TrimSpace(markdown.ToPlainText(text))
	if plain == "" {
		return nil, nil
	}

	contextLine := ""
	if sourceContext != "" {
		contextLine = fmt.Sprintf("Context: %s\n", sourceContext)
	}
	messages := []ai.Message{
		{Role: "system", Content: fmt.Sprintf(extractionSystemPrompt, e.maxFacts)},
		{Role: "user", Content: fmt.Sprintf(extractionUserPrompt, agentID, contextLine, plain)},
	}

	raw, err := e.llm.Chat(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			return nil, engineerrors.Timeout(ctx.Err())
		}
		return nil, engineerrors.ExtractionUnavailable(err)
	}

	claims, err := parseClaims(raw)
	if err != nil {
		// A malformed model response is a capability failure, not caller error.
		return nil, engineerrors.ExtractionUnavailable(err)
	}
	if len(claims) > e.maxFacts {
		claims = claims[:e.maxFacts]
	}
	if len(claims) == 0 {
		slog.Debug("no extractable claims", "agent_id", agentID, "text_len", len(plain))
		return nil, nil
	}

	texts := make([]string, len(claims))
	for i, c := range claims {
		texts[i] = c.Content
	}
	vectors, err := e.embedding.EmbedBatch(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, engineerrors.Timeout(ctx.Err())
		}
		return nil, engineerrors.ExtractionUnavailable(err)
	}
	if len(vectors) != len(claims) {
		return nil, engineerrors.ExtractionUnavailable(
			fmt.Errorf("embedding count mismatch: %d claims, %d vectors", len(claims), len(vectors)))
	}

	candidates := make([]*knowledge.Candidate, 0, len(claims))
	for i, c := range claims {
		candidates = append(candidates, &knowledge.Candidate{
			AgentID:       agentID,
			Type:          store.FactType(c.Type),
			Content:       c.Content,
			Embedding:     vectors[i],
			Model:         e.embeddingModel,
			SourceContext: sourceContext,
		})
	}
	return candidates, nil
}

// parseClaims decodes the model's JSON array, tolerating markdown code
// fences around it.
func parseClaims(raw string) ([]extractedClaim, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	if trimmed == "" || trimmed == "[]" {
		return nil, nil
	}

	var claims []extractedClaim
	if err := json.Unmarshal([]byte(trimmed), &claims); err != nil {
		return nil, fmt.Errorf("malformed extraction response: %w", err)
	}

	valid := claims[:0]
	for _, c := range claims {
		c.Content = strings.TrimSpace(c.Content)
		if c.Content == "" {
			continue
		}
		if !store.FactType(c.Type).Valid() {
			// Unknown labels degrade to world facts rather than dropping
			// the claim.
			c.Type = string(store.FactTypeWorld)
		}
		valid = append(valid, c)
	}
	return valid, nil
}
