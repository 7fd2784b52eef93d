package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/memora-ai/memora/internal/profile"
	"github.com/memora-ai/memora/store"
)

// ============================================================================
// SQLITE SUPPORT (Development & Embedded Use)
// ============================================================================
// SQLite is the default driver for development and single-node deployments.
// Embeddings are stored as JSON and similarity is computed in process, so
// vector search is a linear scan over an agent's current facts. For large
// fact sets, use PostgreSQL with pgvector.
// ============================================================================

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a SQLite-backed store driver.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	// WAL allows readers to proceed while an ingestion write is in flight.
	db, err := sql.Open("sqlite", profile.DSN+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	// modernc sqlite serializes writes internally; a single connection
	// avoids SQLITE_BUSY churn under concurrent ingestion workers.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0 * time.Second)

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the schema when missing.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schemaDDL); err != nil {
		return errors.Wrap(err, "failed to migrate sqlite schema")
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS memory_fact (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	agent_id TEXT NOT NULL,
	fact_type TEXT NOT NULL CHECK (fact_type IN ('world', 'agent', 'opinion')),
	content TEXT NOT NULL,
	embedding TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	valid_from_ts BIGINT NOT NULL,
	valid_until_ts BIGINT,
	supersedes_id INTEGER,
	source_context TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fact_agent_current ON memory_fact (agent_id, valid_until_ts);
CREATE INDEX IF NOT EXISTS idx_fact_supersedes ON memory_fact (supersedes_id);

CREATE TABLE IF NOT EXISTS ingestion_job (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	agent_id TEXT NOT NULL,
	content TEXT NOT NULL,
	source_context TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	fact_uids TEXT NOT NULL DEFAULT '[]',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_agent ON ingestion_job (agent_id, status);
`
