package store

// JobStatus is the lifecycle state of an async ingestion job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// IngestionJob records one async ingestion request so that failures can be
// inspected after the fact instead of being silently dropped.
type IngestionJob struct {
	// Seq is the driver-assigned insertion sequence. Recovery replays jobs
	// in Seq order, which preserves per-agent submission order even when
	// several jobs share a creation timestamp.
	Seq           int64
	ID            string // uuid
	AgentID       string
	Content       string
	SourceContext string
	Status        JobStatus
	Attempts      int
	Error         string
	FactUIDs      []string // uids of facts produced on success
	CreatedTs     int64
	UpdatedTs     int64
}

// FindIngestionJob is the find condition for ingestion jobs.
type FindIngestionJob struct {
	ID      *string
	AgentID *string
	Status  *JobStatus
	Limit   int
}

// UpdateIngestionJob updates the mutable fields of a job row.
type UpdateIngestionJob struct {
	ID       string
	Status   *JobStatus
	Attempts *int
	Error    *string
	FactUIDs []string
}
