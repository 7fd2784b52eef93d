package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/memora-ai/memora/internal/profile"
	"github.com/memora-ai/memora/store"
)

// ============================================================================
// POSTGRESQL SUPPORT (Production - Full Support)
// ============================================================================
// PostgreSQL is the primary database for production use. Vector search runs
// in SQL through the pgvector extension, so same-claim matching and retrieval
// stay index-backed as an agent's fact set grows.
// ============================================================================

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL-backed store driver.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the schema when missing. The embedding column dimension
// follows the configured embedding model.
func (d *DB) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(schemaDDL, d.profile.EmbeddingDimensions)
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, "failed to migrate postgres schema")
	}
	return nil
}

const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_fact (
	id SERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	agent_id TEXT NOT NULL,
	fact_type TEXT NOT NULL CHECK (fact_type IN ('world', 'agent', 'opinion')),
	content TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	valid_from_ts BIGINT NOT NULL,
	valid_until_ts BIGINT,
	supersedes_id INTEGER,
	source_context TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fact_agent_current ON memory_fact (agent_id, valid_until_ts);
CREATE INDEX IF NOT EXISTS idx_fact_supersedes ON memory_fact (supersedes_id);
CREATE INDEX IF NOT EXISTS idx_fact_embedding ON memory_fact
	USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS ingestion_job (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	agent_id TEXT NOT NULL,
	content TEXT NOT NULL,
	source_context TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	fact_uids JSONB NOT NULL DEFAULT '[]',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_agent ON ingestion_job (agent_id, status);
`
