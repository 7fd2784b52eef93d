package postgres

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/memora-ai/memora/store"
)

func (d *DB) CreateIngestionJob(ctx context.Context, create *store.IngestionJob) (*store.IngestionJob, error) {
	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	create.UpdatedTs = now
	if create.Status == "" {
		create.Status = store.JobStatusPending
	}

	factUIDs := []byte("[]")
	if create.FactUIDs != nil {
		encoded, err := json.Marshal(create.FactUIDs)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode fact uids")
		}
		factUIDs = encoded
	}

	stmt := `INSERT INTO ingestion_job (id, agent_id, content, source_context, status, attempts, error, fact_uids, created_ts, updated_ts)
		VALUES (` + placeholders(10) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.AgentID, create.Content, create.SourceContext,
		string(create.Status), create.Attempts, create.Error, string(factUIDs),
		create.CreatedTs, create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create ingestion_job")
	}
	return create, nil
}

func (d *DB) UpdateIngestionJob(ctx context.Context, update *store.UpdateIngestionJob) (*store.IngestionJob, error) {
	set, args := []string{"updated_ts = $1"}, []any{time.Now().Unix()}

	if update.Status != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, string(*update.Status))
	}
	if update.Attempts != nil {
		set, args = append(set, "attempts = "+placeholder(len(args)+1)), append(args, *update.Attempts)
	}
	if update.Error != nil {
		set, args = append(set, "error = "+placeholder(len(args)+1)), append(args, *update.Error)
	}
	if update.FactUIDs != nil {
		encoded, err := json.Marshal(update.FactUIDs)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode fact uids")
		}
		set, args = append(set, "fact_uids = "+placeholder(len(args)+1)), append(args, string(encoded))
	}
	args = append(args, update.ID)

	stmt := `UPDATE ingestion_job SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to update ingestion_job")
	}

	list, err := d.ListIngestionJobs(ctx, &store.FindIngestionJob{ID: &update.ID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Errorf("ingestion_job %s not found", update.ID)
	}
	return list[0], nil
}

func (d *DB) ListIngestionJobs(ctx context.Context, find *store.FindIngestionJob) ([]*store.IngestionJob, error) {
	if find == nil {
		return nil, errors.New("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.AgentID != nil {
		where, args = append(where, "agent_id = "+placeholder(len(args)+1)), append(args, *find.AgentID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, string(*find.Status))
	}

	// seq is the insertion order; created_ts has second granularity and
	// cannot order same-second submissions.
	query := `SELECT seq, id, agent_id, content, source_context, status, attempts, error, fact_uids, created_ts, updated_ts
		FROM ingestion_job
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY seq DESC`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list ingestion_jobs")
	}
	defer rows.Close()

	list := make([]*store.IngestionJob, 0)
	for rows.Next() {
		var job store.IngestionJob
		var status, factUIDs string
		if err := rows.Scan(
			&job.Seq, &job.ID, &job.AgentID, &job.Content, &job.SourceContext,
			&status, &job.Attempts, &job.Error, &factUIDs,
			&job.CreatedTs, &job.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan ingestion_job")
		}
		job.Status = store.JobStatus(status)
		if err := json.Unmarshal([]byte(factUIDs), &job.FactUIDs); err != nil {
			return nil, errors.Wrap(err, "failed to decode fact uids")
		}
		list = append(list, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate ingestion_jobs")
	}
	return list, nil
}
