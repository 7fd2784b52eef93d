package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that a store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	Migrate(ctx context.Context) error

	// Fact model related methods.
	CreateFact(ctx context.Context, create *Fact) (*Fact, error)
	ListFacts(ctx context.Context, find *FindFact) ([]*Fact, error)

	// SupersedeFact atomically closes the old fact's validity interval at
	// create.ValidFromTs and inserts create with SupersedesID pointing at
	// oldID. The pair commits in a single transaction so a reader never
	// observes two current facts for the same claim.
	SupersedeFact(ctx context.Context, oldID int32, create *Fact) (*Fact, error)

	// VectorSearchFacts returns current facts ordered by cosine similarity
	// to the query vector, most similar first.
	VectorSearchFacts(ctx context.Context, opts *VectorSearchFactsOptions) ([]*FactWithScore, error)

	// ListAgentIDs returns the distinct agent namespaces that own facts.
	ListAgentIDs(ctx context.Context) ([]string, error)

	// IngestionJob model related methods.
	CreateIngestionJob(ctx context.Context, create *IngestionJob) (*IngestionJob, error)
	UpdateIngestionJob(ctx context.Context, update *UpdateIngestionJob) (*IngestionJob, error)
	ListIngestionJobs(ctx context.Context, find *FindIngestionJob) ([]*IngestionJob, error)
}
