package store

// FactType classifies a stored fact.
type FactType string

const (
	// FactTypeWorld is a fact about the external world.
	FactTypeWorld FactType = "world"
	// FactTypeAgent is a fact about the subject agent itself.
	FactTypeAgent FactType = "agent"
	// FactTypeOpinion is a subjective or evaluative claim.
	FactTypeOpinion FactType = "opinion"
)

// Valid reports whether t is a known fact type.
func (t FactType) Valid() bool {
	switch t {
	case FactTypeWorld, FactTypeAgent, FactTypeOpinion:
		return true
	}
	return false
}

// Fact is the atomic unit of memory. A fact is immutable after creation
// except for the single ValidUntilTs closure performed when a newer fact
// supersedes it, so the rows for one claim form an append-only chain.
type Fact struct {
	ID           int32
	UID          string // stable public identifier
	AgentID      string
	Type         FactType
	Content      string
	Embedding    []float32
	Model        string // embedding model identifier
	ValidFromTs  int64
	ValidUntilTs *int64 // nil while the fact is current
	SupersedesID *int32 // back-reference to the fact this one updates
	SourceContext string
	CreatedTs    int64
}

// IsCurrentAt reports whether the fact's validity interval contains ts.
func (f *Fact) IsCurrentAt(ts int64) bool {
	if f.ValidFromTs > ts {
		return false
	}
	return f.ValidUntilTs == nil || *f.ValidUntilTs > ts
}

// FindFact is the find condition for facts.
type FindFact struct {
	ID           *int32
	UID          *string
	AgentID      *string
	Type         *FactType
	SupersedesID *int32
	// CurrentAsOf restricts results to facts whose validity interval
	// contains the given unix timestamp.
	CurrentAsOf *int64
	Limit       int
	Offset      int
}

// FactWithScore is a vector search result with its similarity score.
type FactWithScore struct {
	Fact  *Fact
	Score float64 // cosine similarity, higher is more similar
}

// VectorSearchFactsOptions are the options for fact vector search.
type VectorSearchFactsOptions struct {
	AgentID string
	Vector  []float32
	Type    *FactType
	// CurrentAsOf restricts candidates to facts current at this timestamp.
	CurrentAsOf int64
	Limit       int
}
