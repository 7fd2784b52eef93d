// Package retrieval selects and orders the stored facts most relevant to a
// query under a strict resource budget.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/memora-ai/memora/internal/profile"
	"github.com/memora-ai/memora/plugin/ai"
	engineerrors "github.com/memora-ai/memora/server/internal/errors"
	"github.com/memora-ai/memora/server/service/knowledge"
	"github.com/memora-ai/memora/store"
)

// Stop reasons recorded in the trace.
const (
	StopReasonBudgetExhausted     = "budget_exhausted"
	StopReasonCandidatesExhausted = "candidates_exhausted"
	StopReasonZeroBudget          = "zero_budget"
)

// Budget caps what a retrieval may return. A positive MaxFacts bounds the
// fact count; a positive MaxTokens bounds the estimated token cost of the
// concatenated contents. A budget with neither constraint set is a zero
// budget and selects nothing.
type Budget struct {
	MaxFacts  int
	MaxTokens int
}

// IsZero reports whether the budget admits no facts at all.
func (b Budget) IsZero() bool {
	return b.MaxFacts <= 0 && b.MaxTokens <= 0
}

// SearchRequest describes one retrieval call.
type SearchRequest struct {
	AgentID   string
	Query     string
	Types     []store.FactType // empty means all types
	AsOf      time.Time        // zero means now
	Budget    Budget
	WithTrace bool
}

// ScoredFact is a selected fact with its scoring breakdown.
type ScoredFact struct {
	Fact       *store.Fact
	Similarity float64
	Recency    float64
	Score      float64
	Tokens     int
}

// TraceEntry records how one candidate scored and whether it was selected.
type TraceEntry struct {
	FactUID    string  `json:"factUid"`
	Similarity float64 `json:"similarity"`
	Recency    float64 `json:"recency"`
	Score      float64 `json:"score"`
	Selected   bool    `json:"selected"`
}

// Trace is the optional diagnostic record of a retrieval.
type Trace struct {
	Candidates      []TraceEntry `json:"candidates"`
	StopReason      string       `json:"stopReason"`
	SearchTimeMs    int64        `json:"searchTimeMs"`
	TotalActivated  int          `json:"totalActivated"`
	ResultsReturned int          `json:"resultsReturned"`
}

// SearchResult is the ordered selection plus the optional trace.
type SearchResult struct {
	Facts []*ScoredFact
	Trace *Trace
}

// Planner scores an agent's current facts against a query and greedily
// selects the best within the budget.
type Planner struct {
	knowledge *knowledge.Service
	embedding ai.EmbeddingService

	recencyWeight       float64
	recencyHalfLifeDays float64
}

// NewPlanner creates a retrieval planner.
func NewPlanner(ks *knowledge.Service, embedding ai.EmbeddingService, p *profile.Profile) *Planner {
	return &Planner{
		knowledge:           ks,
		embedding:           embedding,
		recencyWeight:       p.RecencyWeight,
		recencyHalfLifeDays: p.RecencyHalfLifeDays,
	}
}

// Search runs the retrieval pipeline: embed query, fetch current facts,
// score, and greedily select within budget. An empty store yields an empty
// result, not an error.
func (p *Planner) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.AgentID == "" {
		return nil, engineerrors.InvalidArgument("agent id is empty")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, engineerrors.InvalidArgument("query is empty")
	}
	if req.Budget.MaxFacts < 0 || req.Budget.MaxTokens < 0 {
		return nil, engineerrors.InvalidArgument("budget must not be negative")
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	started := time.Now()

	if req.Budget.IsZero() {
		result := &SearchResult{Facts: []*ScoredFact{}}
		if req.WithTrace {
			result.Trace = &Trace{
				Candidates:   []TraceEntry{},
				StopReason:   StopReasonZeroBudget,
				SearchTimeMs: time.Since(started).Milliseconds(),
			}
		}
		return result, nil
	}

	queryVector, err := p.embedding.Embed(ctx, req.Query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, engineerrors.Timeout(ctx.Err())
		}
		return nil, engineerrors.ExtractionUnavailable(err)
	}

	candidates, err := p.fetchCandidates(ctx, req.AgentID, asOf, req.Types)
	if err != nil {
		return nil, err
	}

	scored := make([]*ScoredFact, 0, len(candidates))
	for _, fact := range candidates {
		similarity := CosineSimilarity(queryVector, fact.Embedding)
		recency := recencyScore(fact.ValidFromTs, asOf, p.recencyHalfLifeDays)
		scored = append(scored, &ScoredFact{
			Fact:       fact,
			Similarity: similarity,
			Recency:    recency,
			Score:      combinedScore(similarity, recency, p.recencyWeight),
			Tokens:     estimateTokens(fact.Content),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Fact.ValidFromTs > scored[j].Fact.ValidFromTs
	})

	selected, stopReason := selectWithinBudget(scored, req.Budget)

	result := &SearchResult{Facts: selected}
	if req.WithTrace {
		entries := make([]TraceEntry, len(scored))
		selectedSet := make(map[string]bool, len(selected))
		for _, sf := range selected {
			selectedSet[sf.Fact.UID] = true
		}
		for i, sf := range scored {
			entries[i] = TraceEntry{
				FactUID:    sf.Fact.UID,
				Similarity: sf.Similarity,
				Recency:    sf.Recency,
				Score:      sf.Score,
				Selected:   selectedSet[sf.Fact.UID],
			}
		}
		result.Trace = &Trace{
			Candidates:      entries,
			StopReason:      stopReason,
			SearchTimeMs:    time.Since(started).Milliseconds(),
			TotalActivated:  len(scored),
			ResultsReturned: len(selected),
		}
	}
	return result, nil
}

func (p *Planner) fetchCandidates(ctx context.Context, agentID string, asOf time.Time, types []store.FactType) ([]*store.Fact, error) {
	if len(types) == 1 {
		return p.knowledge.QueryCurrent(ctx, agentID, asOf, &types[0])
	}

	facts, err := p.knowledge.QueryCurrent(ctx, agentID, asOf, nil)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return facts, nil
	}

	allowed := make(map[store.FactType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	filtered := facts[:0]
	for _, f := range facts {
		if allowed[f.Type] {
			filtered = append(filtered, f)
		}
	}
	return filtered, nil
}

// selectWithinBudget greedily takes facts in score order until a constraint
// would be exceeded. A fact that does not fit ends selection; facts are never
// truncated to fit.
func selectWithinBudget(scored []*ScoredFact, budget Budget) ([]*ScoredFact, string) {
	selected := make([]*ScoredFact, 0, len(scored))
	tokensUsed := 0
	for _, sf := range scored {
		if budget.MaxFacts > 0 && len(selected) >= budget.MaxFacts {
			return selected, StopReasonBudgetExhausted
		}
		if budget.MaxTokens > 0 && tokensUsed+sf.Tokens > budget.MaxTokens {
			return selected, StopReasonBudgetExhausted
		}
		selected = append(selected, sf)
		tokensUsed += sf.Tokens
	}
	return selected, StopReasonCandidatesExhausted
}
