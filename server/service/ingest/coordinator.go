// Package ingest sequences synchronous and asynchronous ingestion while
// preserving per-agent submission order.
package ingest

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/memora-ai/memora/internal/profile"
	engineerrors "github.com/memora-ai/memora/server/internal/errors"
	"github.com/memora-ai/memora/server/service/extraction"
	"github.com/memora-ai/memora/server/service/knowledge"
	"github.com/memora-ai/memora/store"
)

// Mode selects synchronous or asynchronous ingestion.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// agentQueueSize bounds how many jobs a single agent can have waiting
// before submissions start to block.
const agentQueueSize = 128

// PutRequest is one ingestion call.
type PutRequest struct {
	AgentID       string
	Content       string
	SourceContext string
	Mode          Mode
}

// PutResult reports the outcome of a Put.
type PutResult struct {
	// FactUIDs are the stored facts for sync ingestion.
	FactUIDs []string
	// JobID identifies the accepted job for async ingestion.
	JobID string
}

// Coordinator runs extraction and knowledge upserts. Async jobs flow through
// per-agent FIFO sub-queues multiplexed into a semaphore-bounded worker pool,
// so one agent's jobs apply in submission order while agents proceed
// concurrently.
type Coordinator struct {
	store     *store.Store
	extractor *extraction.Extractor
	knowledge *knowledge.Service

	providerTimeout time.Duration
	retryLimit      int
	retryBackoff    time.Duration

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queues map[string]chan *store.IngestionJob
	closed bool
	wg     sync.WaitGroup
}

// NewCoordinator creates an ingestion coordinator.
func NewCoordinator(st *store.Store, ex *extraction.Extractor, ks *knowledge.Service, p *profile.Profile) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:           st,
		extractor:       ex,
		knowledge:       ks,
		providerTimeout: p.ProviderTimeout,
		retryLimit:      p.RetryLimit,
		retryBackoff:    time.Second,
		sem:             semaphore.NewWeighted(int64(p.WorkerConcurrency)),
		ctx:             ctx,
		cancel:          cancel,
		queues:          make(map[string]chan *store.IngestionJob),
	}
}

// Put ingests text for an agent. Sync mode returns after the extracted facts
// are durably stored; async mode records a job and returns its id
// immediately.
func (c *Coordinator) Put(ctx context.Context, req PutRequest) (*PutResult, error) {
	if strings.TrimSpace(req.AgentID) == "" {
		return nil, engineerrors.InvalidArgument("agent id is empty")
	}
	switch req.Mode {
	case "", ModeSync:
		uids, err := c.ingestOnce(ctx, req.AgentID, req.Content, req.SourceContext)
		if err != nil {
			return nil, err
		}
		return &PutResult{FactUIDs: uids}, nil
	case ModeAsync:
		return c.enqueue(ctx, req)
	default:
		return nil, engineerrors.InvalidArgument("unknown ingestion mode %q", req.Mode)
	}
}

// JobStatus returns the job row for inspection.
func (c *Coordinator) JobStatus(ctx context.Context, jobID string) (*store.IngestionJob, error) {
	job, err := c.store.GetIngestionJob(ctx, jobID)
	if err != nil {
		return nil, engineerrors.StoreUnavailable(err)
	}
	if job == nil {
		return nil, engineerrors.NotFound("ingestion job %q not found", jobID)
	}
	return job, nil
}

// Recover re-enqueues jobs left pending or processing by a previous run.
// Call once at startup before serving traffic.
func (c *Coordinator) Recover(ctx context.Context) error {
	for _, status := range []store.JobStatus{store.JobStatusProcessing, store.JobStatusPending} {
		status := status
		jobs, err := c.store.ListIngestionJobs(ctx, &store.FindIngestionJob{Status: &status})
		if err != nil {
			return engineerrors.StoreUnavailable(err)
		}
		// ListIngestionJobs returns newest first; replay oldest first to
		// keep per-agent order.
		for i := len(jobs) - 1; i >= 0; i-- {
			if err := c.submit(ctx, jobs[i]); err != nil {
				return err
			}
		}
		if len(jobs) > 0 {
			slog.Info("recovered ingestion jobs", "status", status, "count", len(jobs))
		}
	}
	return nil
}

// Close stops accepting work and waits for queued jobs to drain.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, q := range c.queues {
		close(q)
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.cancel()
}

func (c *Coordinator) enqueue(ctx context.Context, req PutRequest) (*PutResult, error) {
	job := &store.IngestionJob{
		ID:            uuid.New().String(),
		AgentID:       req.AgentID,
		Content:       req.Content,
		SourceContext: req.SourceContext,
		Status:        store.JobStatusPending,
	}
	job, err := c.store.CreateIngestionJob(ctx, job)
	if err != nil {
		return nil, engineerrors.StoreUnavailable(err)
	}
	if err := c.submit(ctx, job); err != nil {
		// The caller sees the rejection, so the job must not run on a
		// later Recover. Failing the row keeps it out of replay.
		c.markJob(job.ID, store.JobStatusFailed, 0, err.Error(), nil)
		return nil, err
	}
	return &PutResult{JobID: job.ID}, nil
}

func (c *Coordinator) submit(ctx context.Context, job *store.IngestionJob) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return engineerrors.InvalidArgument("ingestion coordinator is shut down")
	}
	q, ok := c.queues[job.AgentID]
	if !ok {
		q = make(chan *store.IngestionJob, agentQueueSize)
		c.queues[job.AgentID] = q
		c.wg.Add(1)
		go c.runAgentQueue(job.AgentID, q)
	}
	c.mu.Unlock()

	select {
	case q <- job:
		return nil
	case <-ctx.Done():
		return engineerrors.Timeout(ctx.Err())
	}
}

// runAgentQueue drains one agent's jobs in FIFO order. The goroutine holds a
// worker slot only while processing, so idle agents cost nothing.
func (c *Coordinator) runAgentQueue(agentID string, q chan *store.IngestionJob) {
	defer c.wg.Done()
	for job := range q {
		if err := c.sem.Acquire(c.ctx, 1); err != nil {
			return
		}
		c.processJob(job)
		c.sem.Release(1)
	}
	slog.Debug("agent ingestion queue drained", "agent_id", agentID)
}

func (c *Coordinator) processJob(job *store.IngestionJob) {
	for attempt := 1; attempt <= c.retryLimit; attempt++ {
		c.markJob(job.ID, store.JobStatusProcessing, attempt, "", nil)

		ctx, cancel := context.WithTimeout(c.ctx, 2*c.providerTimeout)
		uids, err := c.ingestOnce(ctx, job.AgentID, job.Content, job.SourceContext)
		cancel()

		if err == nil {
			c.markJob(job.ID, store.JobStatusDone, attempt, "", uids)
			return
		}

		if !engineerrors.IsRetryable(err) || attempt == c.retryLimit {
			slog.Error("ingestion job failed permanently",
				"job_id", job.ID, "agent_id", job.AgentID, "attempts", attempt, "error", err)
			c.markJob(job.ID, store.JobStatusFailed, attempt, err.Error(), nil)
			return
		}

		slog.Warn("ingestion job failed, retrying",
			"job_id", job.ID, "agent_id", job.AgentID, "attempt", attempt, "error", err)
		select {
		case <-time.After(c.retryBackoff << (attempt - 1)):
		case <-c.ctx.Done():
			// Shutdown mid-retry: leave the job pending so Recover picks
			// it up on the next run.
			c.markJob(job.ID, store.JobStatusPending, attempt, err.Error(), nil)
			return
		}
	}
}

// ingestOnce runs the extract-then-upsert sequence shared by sync calls and
// async workers. Upserts apply in extraction order so updates within one
// text land as a coherent supersede chain.
func (c *Coordinator) ingestOnce(ctx context.Context, agentID, content, sourceContext string) ([]string, error) {
	candidates, err := c.extractor.Extract(ctx, agentID, content, sourceContext)
	if err != nil {
		return nil, err
	}

	uids := make([]string, 0, len(candidates))
	now := time.Now().Unix()
	for _, candidate := range candidates {
		candidate.ValidFromTs = now
		result, err := c.knowledge.Upsert(ctx, candidate)
		if err != nil {
			return nil, err
		}
		uids = append(uids, result.Fact.UID)
	}
	return uids, nil
}

func (c *Coordinator) markJob(jobID string, status store.JobStatus, attempts int, errMsg string, factUIDs []string) {
	update := &store.UpdateIngestionJob{
		ID:       jobID,
		Status:   &status,
		Attempts: &attempts,
		Error:    &errMsg,
		FactUIDs: factUIDs,
	}
	// Status writes use the coordinator's own context: a job outcome must be
	// recorded even when the triggering request has gone away.
	if _, err := c.store.UpdateIngestionJob(context.WithoutCancel(c.ctx), update); err != nil {
		slog.Error("failed to update ingestion job status", "job_id", jobID, "status", status, "error", err)
	}
}
