// Package knowledge implements the temporal knowledge store: per-agent fact
// collections with validity intervals, supersede chains, and idempotent
// ingestion.
package knowledge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/memora-ai/memora/internal/profile"
	engineerrors "github.com/memora-ai/memora/server/internal/errors"
	"github.com/memora-ai/memora/store"
)

// matchCandidateLimit bounds how many current facts are considered when
// looking for the claim a new candidate updates.
const matchCandidateLimit = 5

// maxChainLength bounds history traversal against corrupted supersede links.
const maxChainLength = 1000

// Candidate is an extracted, not yet stored fact.
type Candidate struct {
	AgentID       string
	Type          store.FactType
	Content       string
	Embedding     []float32
	Model         string
	SourceContext string
	// ValidFromTs defaults to the ingestion time when zero.
	ValidFromTs int64
}

// UpsertResult reports what an upsert did.
type UpsertResult struct {
	Fact *Fact
	// Superseded is the closed predecessor, nil for brand-new claims.
	Superseded *Fact
	// Noop is true when the candidate matched an existing fact with
	// identical content and nothing was written.
	Noop bool
}

// Fact aliases the store row; the service returns store rows directly.
type Fact = store.Fact

// Service owns all mutation of the fact table and serializes same-agent
// writes so the close-old/open-new pair of a supersede is indivisible.
type Service struct {
	store      *store.Store
	agentLocks *keyedMutex

	similarityThreshold float64
	duplicateThreshold  float64
}

// NewService creates a knowledge service.
func NewService(st *store.Store, p *profile.Profile) *Service {
	return &Service{
		store:               st,
		agentLocks:          newKeyedMutex(),
		similarityThreshold: p.SimilarityThreshold,
		duplicateThreshold:  p.DuplicateThreshold,
	}
}

// Upsert stores a candidate fact, superseding the current fact for the same
// claim when one exists. Ingesting semantically identical content twice is a
// no-op returning the existing fact.
func (s *Service) Upsert(ctx context.Context, candidate *Candidate) (*UpsertResult, error) {
	if candidate.AgentID == "" {
		return nil, engineerrors.InvalidArgument("candidate agent id is empty")
	}
	if !candidate.Type.Valid() {
		return nil, engineerrors.InvalidArgument("unknown fact type %q", candidate.Type)
	}
	if strings.TrimSpace(candidate.Content) == "" {
		return nil, engineerrors.InvalidArgument("candidate content is empty")
	}
	if candidate.ValidFromTs == 0 {
		candidate.ValidFromTs = time.Now().Unix()
	}

	unlock := s.agentLocks.Lock(candidate.AgentID)
	defer unlock()

	match, score, err := s.findSameClaim(ctx, candidate)
	if err != nil {
		return nil, engineerrors.StoreUnavailable(err)
	}

	if match != nil && s.isIdentical(candidate, match, score) {
		slog.Debug("idempotent upsert, content already current",
			"agent_id", candidate.AgentID, "fact_uid", match.UID, "similarity", score)
		return &UpsertResult{Fact: match, Noop: true}, nil
	}

	newFact := &store.Fact{
		UID:           shortuuid.New(),
		AgentID:       candidate.AgentID,
		Type:          candidate.Type,
		Content:       strings.TrimSpace(candidate.Content),
		Embedding:     candidate.Embedding,
		Model:         candidate.Model,
		ValidFromTs:   candidate.ValidFromTs,
		SourceContext: candidate.SourceContext,
	}

	if match == nil {
		created, err := s.store.CreateFact(ctx, newFact)
		if err != nil {
			return nil, engineerrors.StoreUnavailable(err)
		}
		return &UpsertResult{Fact: created}, nil
	}

	// A superseding fact may not begin before the fact it replaces.
	if newFact.ValidFromTs < match.ValidFromTs {
		newFact.ValidFromTs = match.ValidFromTs
	}

	created, err := s.store.SupersedeFact(ctx, match.ID, newFact)
	if err != nil {
		return nil, engineerrors.StoreUnavailable(err)
	}
	slog.Info("fact superseded",
		"agent_id", candidate.AgentID, "old_uid", match.UID, "new_uid", created.UID, "similarity", score)
	return &UpsertResult{Fact: created, Superseded: match}, nil
}

// QueryCurrent returns the facts whose validity interval contains asOf.
// An unknown agent behaves like an agent with no facts.
func (s *Service) QueryCurrent(ctx context.Context, agentID string, asOf time.Time, typeFilter *store.FactType) ([]*Fact, error) {
	if agentID == "" {
		return nil, engineerrors.InvalidArgument("agent id is empty")
	}
	asOfTs := asOf.Unix()
	facts, err := s.store.ListFacts(ctx, &store.FindFact{
		AgentID:     &agentID,
		Type:        typeFilter,
		CurrentAsOf: &asOfTs,
	})
	if err != nil {
		return nil, engineerrors.StoreUnavailable(err)
	}
	return facts, nil
}

// History returns the supersede chain containing the given fact, oldest
// first. Traversal is iterative and bounded by the chain length.
func (s *Service) History(ctx context.Context, agentID, factUID string) ([]*Fact, error) {
	if agentID == "" {
		return nil, engineerrors.InvalidArgument("agent id is empty")
	}

	fact, err := s.store.GetFact(ctx, &store.FindFact{AgentID: &agentID, UID: &factUID})
	if err != nil {
		return nil, engineerrors.StoreUnavailable(err)
	}
	if fact == nil {
		return nil, engineerrors.NotFound("fact %q not found for agent %q", factUID, agentID)
	}

	// Walk forward to the newest fact in the chain.
	head := fact
	for i := 0; i < maxChainLength; i++ {
		next, err := s.store.GetFact(ctx, &store.FindFact{AgentID: &agentID, SupersedesID: &head.ID})
		if err != nil {
			return nil, engineerrors.StoreUnavailable(err)
		}
		if next == nil {
			break
		}
		head = next
	}

	// Walk backward collecting the chain, then reverse to oldest-first.
	chain := []*Fact{head}
	cursor := head
	for i := 0; i < maxChainLength && cursor.SupersedesID != nil; i++ {
		prev, err := s.store.GetFact(ctx, &store.FindFact{AgentID: &agentID, ID: cursor.SupersedesID})
		if err != nil {
			return nil, engineerrors.StoreUnavailable(err)
		}
		if prev == nil {
			break
		}
		chain = append(chain, prev)
		cursor = prev
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// ListAgentIDs returns the known agent namespaces.
func (s *Service) ListAgentIDs(ctx context.Context) ([]string, error) {
	ids, err := s.store.ListAgentIDs(ctx)
	if err != nil {
		return nil, engineerrors.StoreUnavailable(err)
	}
	return ids, nil
}

// findSameClaim looks for the current fact the candidate updates: the most
// similar same-type current fact above the similarity threshold, ties broken
// by most recent ValidFromTs (the driver orders equal scores that way).
// Matching uses the later of now and the candidate's ValidFromTs so a
// backdated candidate still finds the fact whose interval is open.
func (s *Service) findSameClaim(ctx context.Context, candidate *Candidate) (*Fact, float64, error) {
	asOf := time.Now().Unix()
	if candidate.ValidFromTs > asOf {
		asOf = candidate.ValidFromTs
	}
	matches, err := s.store.VectorSearchFacts(ctx, &store.VectorSearchFactsOptions{
		AgentID:     candidate.AgentID,
		Vector:      candidate.Embedding,
		Type:        &candidate.Type,
		CurrentAsOf: asOf,
		Limit:       matchCandidateLimit,
	})
	if err != nil {
		return nil, 0, err
	}
	for _, m := range matches {
		if m.Score >= s.similarityThreshold {
			return m.Fact, m.Score, nil
		}
	}
	return nil, 0, nil
}

func (s *Service) isIdentical(candidate *Candidate, match *Fact, score float64) bool {
	if normalizeContent(candidate.Content) == normalizeContent(match.Content) {
		return true
	}
	return score >= s.duplicateThreshold
}

func normalizeContent(content string) string {
	return strings.ToLower(strings.Join(strings.Fields(content), " "))
}
