// Package test provides store fixtures backed by in-memory SQLite.
package test

import (
	"context"
	"testing"
	"time"

	"github.com/memora-ai/memora/internal/profile"
	"github.com/memora-ai/memora/store"
	"github.com/memora-ai/memora/store/db/sqlite"
)

// NewTestingProfile returns a profile with the engine defaults and an
// in-memory SQLite database.
func NewTestingProfile() *profile.Profile {
	return &profile.Profile{
		Mode:   "test",
		Driver: "sqlite",
		DSN:    "file::memory:",

		EmbeddingProvider:   "mock",
		EmbeddingModel:      "mock-embedding",
		EmbeddingDimensions: 8,
		LLMModel:            "mock-llm",
		ProviderTimeout:     5 * time.Second,

		SimilarityThreshold: 0.85,
		DuplicateThreshold:  0.97,
		RecencyWeight:       0.15,
		RecencyHalfLifeDays: 30,
		DefaultSearchFacts:  10,
		DefaultSearchTokens: 2048,
		MaxFactsPerExtract:  12,

		WorkerConcurrency: 4,
		RetryLimit:        3,
	}
}

// NewTestingStore opens a fresh in-memory store with the schema applied.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()

	p := NewTestingProfile()
	driver, err := sqlite.NewDB(p)
	if err != nil {
		t.Fatalf("failed to open sqlite driver: %v", err)
	}
	if err := driver.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	st := store.New(driver, p)
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Logf("failed to close store: %v", err)
		}
	})
	return st
}
