package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/memora-ai/memora/store"
)

func (d *DB) CreateFact(ctx context.Context, create *store.Fact) (*store.Fact, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	embedding, err := json.Marshal(create.Embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode embedding")
	}

	fields := []string{"uid", "agent_id", "fact_type", "content", "embedding", "model", "valid_from_ts", "valid_until_ts", "supersedes_id", "source_context", "created_ts"}
	args := []any{
		create.UID,
		create.AgentID,
		string(create.Type),
		create.Content,
		string(embedding),
		create.Model,
		create.ValidFromTs,
		create.ValidUntilTs,
		create.SupersedesID,
		create.SourceContext,
		create.CreatedTs,
	}

	stmt := `INSERT INTO memory_fact (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create memory_fact")
	}

	return create, nil
}

func (d *DB) ListFacts(ctx context.Context, find *store.FindFact) ([]*store.Fact, error) {
	if find == nil {
		return nil, errors.New("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.AgentID != nil {
		where, args = append(where, "agent_id = ?"), append(args, *find.AgentID)
	}
	if find.Type != nil {
		where, args = append(where, "fact_type = ?"), append(args, string(*find.Type))
	}
	if find.SupersedesID != nil {
		where, args = append(where, "supersedes_id = ?"), append(args, *find.SupersedesID)
	}
	if find.CurrentAsOf != nil {
		where = append(where, "valid_from_ts <= ?", "(valid_until_ts IS NULL OR valid_until_ts > ?)")
		args = append(args, *find.CurrentAsOf, *find.CurrentAsOf)
	}

	query := `SELECT id, uid, agent_id, fact_type, content, embedding, model,
			valid_from_ts, valid_until_ts, supersedes_id, source_context, created_ts
		FROM memory_fact
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY valid_from_ts DESC, id DESC`
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
		if find.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory_facts")
	}
	defer rows.Close()

	list := make([]*store.Fact, 0)
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate memory_facts")
	}

	return list, nil
}

func (d *DB) SupersedeFact(ctx context.Context, oldID int32, create *store.Fact) (*store.Fact, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	// Close only a still-current fact. A zero row count means another write
	// already closed it, which the per-agent serialization upstream should
	// have prevented.
	result, err := tx.ExecContext(ctx,
		`UPDATE memory_fact SET valid_until_ts = ? WHERE id = ? AND valid_until_ts IS NULL`,
		create.ValidFromTs, oldID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to close superseded fact")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read rows affected")
	}
	if affected != 1 {
		return nil, errors.Errorf("fact %d is no longer current", oldID)
	}

	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	create.SupersedesID = &oldID

	embedding, err := json.Marshal(create.Embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode embedding")
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO memory_fact (uid, agent_id, fact_type, content, embedding, model, valid_from_ts, valid_until_ts, supersedes_id, source_context, created_ts)
		VALUES (`+placeholders(11)+`)
		RETURNING id`,
		create.UID, create.AgentID, string(create.Type), create.Content, string(embedding), create.Model,
		create.ValidFromTs, create.ValidUntilTs, create.SupersedesID, create.SourceContext, create.CreatedTs,
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert superseding fact")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit supersede")
	}
	return create, nil
}

// VectorSearchFacts scans the agent's current facts and ranks them by cosine
// similarity in process. SQLite has no vector index, so this is a linear
// scan bounded by the agent's current fact count.
func (d *DB) VectorSearchFacts(ctx context.Context, opts *store.VectorSearchFactsOptions) ([]*store.FactWithScore, error) {
	find := &store.FindFact{
		AgentID:     &opts.AgentID,
		Type:        opts.Type,
		CurrentAsOf: &opts.CurrentAsOf,
	}
	facts, err := d.ListFacts(ctx, find)
	if err != nil {
		return nil, err
	}

	results := make([]*store.FactWithScore, 0, len(facts))
	for _, fact := range facts {
		results = append(results, &store.FactWithScore{
			Fact:  fact,
			Score: cosineSimilarity(opts.Vector, fact.Embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Fact.ValidFromTs > results[j].Fact.ValidFromTs
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (d *DB) ListAgentIDs(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT DISTINCT agent_id FROM memory_fact ORDER BY agent_id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list agent ids")
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan agent id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate agent ids")
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(row rowScanner) (*store.Fact, error) {
	var fact store.Fact
	var factType, embedding string
	var validUntil sql.NullInt64
	var supersedes sql.NullInt32

	if err := row.Scan(
		&fact.ID,
		&fact.UID,
		&fact.AgentID,
		&factType,
		&fact.Content,
		&embedding,
		&fact.Model,
		&fact.ValidFromTs,
		&validUntil,
		&supersedes,
		&fact.SourceContext,
		&fact.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan memory_fact")
	}

	fact.Type = store.FactType(factType)
	if validUntil.Valid {
		ts := validUntil.Int64
		fact.ValidUntilTs = &ts
	}
	if supersedes.Valid {
		id := supersedes.Int32
		fact.SupersedesID = &id
	}
	if err := json.Unmarshal([]byte(embedding), &fact.Embedding); err != nil {
		return nil, errors.Wrap(err, "failed to decode embedding")
	}
	return &fact, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
