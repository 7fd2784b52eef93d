package store

import (
	"context"
	"time"

	"github.com/memora-ai/memora/internal/profile"
	"github.com/memora-ai/memora/store/cache"
)

const agentListCacheKey = "agent_ids"

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// agentCache caches the distinct agent id list, which is read on every
	// GET /agents call but changes only when a new namespace appears.
	agentCache *cache.Cache
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		agentCache: cache.New(cache.Config{
			DefaultTTL:      time.Minute,
			CleanupInterval: 5 * time.Minute,
			MaxItems:        16,
		}),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	s.agentCache.Close()
	return s.driver.Close()
}

func (s *Store) CreateFact(ctx context.Context, create *Fact) (*Fact, error) {
	s.agentCache.Delete(agentListCacheKey)
	return s.driver.CreateFact(ctx, create)
}

func (s *Store) ListFacts(ctx context.Context, find *FindFact) ([]*Fact, error) {
	return s.driver.ListFacts(ctx, find)
}

// GetFact returns the single fact matching find, or nil when absent.
func (s *Store) GetFact(ctx context.Context, find *FindFact) (*Fact, error) {
	find.Limit = 1
	list, err := s.driver.ListFacts(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) SupersedeFact(ctx context.Context, oldID int32, create *Fact) (*Fact, error) {
	return s.driver.SupersedeFact(ctx, oldID, create)
}

func (s *Store) VectorSearchFacts(ctx context.Context, opts *VectorSearchFactsOptions) ([]*FactWithScore, error) {
	return s.driver.VectorSearchFacts(ctx, opts)
}

func (s *Store) ListAgentIDs(ctx context.Context) ([]string, error) {
	if cached, ok := s.agentCache.Get(agentListCacheKey); ok {
		if ids, ok := cached.([]string); ok {
			return ids, nil
		}
	}
	ids, err := s.driver.ListAgentIDs(ctx)
	if err != nil {
		return nil, err
	}
	s.agentCache.Set(agentListCacheKey, ids)
	return ids, nil
}

func (s *Store) CreateIngestionJob(ctx context.Context, create *IngestionJob) (*IngestionJob, error) {
	return s.driver.CreateIngestionJob(ctx, create)
}

func (s *Store) UpdateIngestionJob(ctx context.Context, update *UpdateIngestionJob) (*IngestionJob, error) {
	return s.driver.UpdateIngestionJob(ctx, update)
}

// GetIngestionJob returns the job with the given id, or nil when absent.
func (s *Store) GetIngestionJob(ctx context.Context, id string) (*IngestionJob, error) {
	list, err := s.driver.ListIngestionJobs(ctx, &FindIngestionJob{ID: &id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListIngestionJobs(ctx context.Context, find *FindIngestionJob) ([]*IngestionJob, error) {
	return s.driver.ListIngestionJobs(ctx, find)
}
