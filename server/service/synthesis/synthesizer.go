// Package synthesis composes retrieved facts and a query into a generated
// answer with auditable provenance.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memora-ai/memora/internal/profile"
	"github.com/memora-ai/memora/plugin/ai"
	engineerrors "github.com/memora-ai/memora/server/internal/errors"
	"github.com/memora-ai/memora/server/service/retrieval"
)

// Answer is a generated response plus the exact fact set passed to
// generation.
type Answer struct {
	Text string
	// BasedOn is the provenance: every fact whose content was visible to
	// the generation call, and nothing else.
	BasedOn []*retrieval.ScoredFact
}

// Synthesizer implements the "think" operation.
type Synthesizer struct {
	planner *retrieval.Planner
	llm     ai.LLMService

	defaultBudget retrieval.Budget
}

// NewSynthesizer creates an answer synthesizer.
func NewSynthesizer(planner *retrieval.Planner, llm ai.LLMService, p *profile.Profile) *Synthesizer {
	return &Synthesizer{
		planner: planner,
		llm:     llm,
		defaultBudget: retrieval.Budget{
			MaxFacts:  p.DefaultSearchFacts,
			MaxTokens: p.DefaultSearchTokens,
		},
	}
}

// Think retrieves the facts most relevant to the query and asks the
// generation capability to answer with them. When generation fails, the
// retrieved facts are still returned alongside SYNTHESIS_UNAVAILABLE so the
// caller can degrade to raw retrieval.
func (s *Synthesizer) Think(ctx context.Context, agentID, query string, asOf time.Time) (*Answer, error) {
	result, err := s.planner.Search(ctx, retrieval.SearchRequest{
		AgentID: agentID,
		Query:   query,
		AsOf:    asOf,
		Budget:  s.defaultBudget,
	})
	if err != nil {
		return nil, err
	}

	answer := &Answer{BasedOn: result.Facts}

	messages := []ai.Message{
		{Role: "system", Content: thinkSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(thinkUserPrompt, agentID, formatFacts(result.Facts), query)},
	}
	text, err := s.llm.Chat(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			return answer, engineerrors.Timeout(ctx.Err())
		}
		slog.Warn("generation failed, returning retrieved facts only",
			"agent_id", agentID, "facts", len(result.Facts), "error", err)
		return answer, engineerrors.SynthesisUnavailable(err)
	}

	answer.Text = text
	return answer, nil
}

func formatFacts(facts []*retrieval.ScoredFact) string {
	if len(facts) == 0 {
		return "(no stored memories matched)"
	}
	var sb strings.Builder
	for _, sf := range facts {
		fmt.Fprintf(&sb, "- [%s] %s", sf.Fact.Type, sf.Fact.Content)
		if sf.Fact.SourceContext != "" {
			fmt.Fprintf(&sb, " (context: %s)", sf.Fact.SourceContext)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
