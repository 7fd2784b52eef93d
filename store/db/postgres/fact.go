package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/memora-ai/memora/store"
)

func (d *DB) CreateFact(ctx context.Context, create *store.Fact) (*store.Fact, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	fields := []string{"uid", "agent_id", "fact_type", "content", "embedding", "model", "valid_from_ts", "valid_until_ts", "supersedes_id", "source_context", "created_ts"}
	args := []any{
		create.UID,
		create.AgentID,
		string(create.Type),
		create.Content,
		pgvector.NewVector(create.Embedding),
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
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.AgentID != nil {
		where, args = append(where, "agent_id = "+placeholder(len(args)+1)), append(args, *find.AgentID)
	}
	if find.Type != nil {
		where, args = append(where, "fact_type = "+placeholder(len(args)+1)), append(args, string(*find.Type))
	}
	if find.SupersedesID != nil {
		where, args = append(where, "supersedes_id = "+placeholder(len(args)+1)), append(args, *find.SupersedesID)
	}
	if find.CurrentAsOf != nil {
		where = append(where, "valid_from_ts <= "+placeholder(len(args)+1))
		args = append(args, *find.CurrentAsOf)
		where = append(where, "(valid_until_ts IS NULL OR valid_until_ts > "+placeholder(len(args)+1)+")")
		args = append(args, *find.CurrentAsOf)
	}

	query := `SELECT id, uid, agent_id, fact_type, content, embedding, model,
			valid_from_ts, valid_until_ts, supersedes_id, source_context, created_ts
		FROM memory_fact
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY valid_from_ts DESC, id DESC`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
		if find.Offset > 0 {
			query += " OFFSET " + placeholder(len(args)+1)
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

	result, err := tx.ExecContext(ctx,
		`UPDATE memory_fact SET valid_until_ts = $1 WHERE id = $2 AND valid_until_ts IS NULL`,
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

	err = tx.QueryRowContext(ctx,
		`INSERT INTO memory_fact (uid, agent_id, fact_type, content, embedding, model, valid_from_ts, valid_until_ts, supersedes_id, source_context, created_ts)
		VALUES (`+placeholders(11)+`)
		RETURNING id`,
		create.UID, create.AgentID, string(create.Type), create.Content, pgvector.NewVector(create.Embedding), create.Model,
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

// VectorSearchFacts performs similarity search with pgvector. The <=>
// operator computes cosine distance, so similarity is 1 - distance.
func (d *DB) VectorSearchFacts(ctx context.Context, opts *store.VectorSearchFactsOptions) ([]*store.FactWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	vector := pgvector.NewVector(opts.Vector)
	where := []string{
		"agent_id = $2",
		"valid_from_ts <= $3",
		"(valid_until_ts IS NULL OR valid_until_ts > $3)",
	}
	args := []any{vector, opts.AgentID, opts.CurrentAsOf}
	if opts.Type != nil {
		where = append(where, "fact_type = $4")
		args = append(args, string(*opts.Type))
	}

	query := `SELECT id, uid, agent_id, fact_type, content, embedding, model,
			valid_from_ts, valid_until_ts, supersedes_id, source_context, created_ts,
			1 - (embedding <=> $1) AS score
		FROM memory_fact
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY embedding <=> $1, valid_from_ts DESC
		LIMIT ` + placeholder(len(args)+1)
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search memory_facts")
	}
	defer rows.Close()

	results := make([]*store.FactWithScore, 0, limit)
	for rows.Next() {
		fact, score, err := scanFactWithScore(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, &store.FactWithScore{Fact: fact, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate vector search results")
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

func scanFact(rows *sql.Rows) (*store.Fact, error) {
	fact, _, err := scanFactColumns(rows, false)
	return fact, err
}

func scanFactWithScore(rows *sql.Rows) (*store.Fact, float64, error) {
	return scanFactColumns(rows, true)
}

func scanFactColumns(rows *sql.Rows, withScore bool) (*store.Fact, float64, error) {
	var fact store.Fact
	var factType string
	var vector pgvector.Vector
	var validUntil sql.NullInt64
	var supersedes sql.NullInt32
	var score float64

	dest := []any{
		&fact.ID,
		&fact.UID,
		&fact.AgentID,
		&factType,
		&fact.Content,
		&vector,
		&fact.Model,
		&fact.ValidFromTs,
		&validUntil,
		&supersedes,
		&fact.SourceContext,
		&fact.CreatedTs,
	}
	if withScore {
		dest = append(dest, &score)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, 0, errors.Wrap(err, "failed to scan memory_fact")
	}

	fact.Type = store.FactType(factType)
	fact.Embedding = vector.Slice()
	if validUntil.Valid {
		ts := validUntil.Int64
		fact.ValidUntilTs = &ts
	}
	if supersedes.Valid {
		id := supersedes.Int32
		fact.SupersedesID = &id
	}
	return &fact, score, nil
}
