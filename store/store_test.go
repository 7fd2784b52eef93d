package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memora-ai/memora/store"
	"github.com/memora-ai/memora/store/test"
)

func newFact(agentID, uid, content string, validFrom int64, embedding []float32) *store.Fact {
	return &store.Fact{
		UID:         uid,
		AgentID:     agentID,
		Type:        store.FactTypeWorld,
		Content:     content,
		Embedding:   embedding,
		Model:       "mock-embedding",
		ValidFromTs: validFrom,
	}
}

func TestCreateAndListFacts(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)

	created, err := ts.CreateFact(ctx, newFact("alice", "f1", "Bob works at Acme.", 100, []float32{1, 0}))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "f1", created.UID)
	assert.Nil(t, created.ValidUntilTs)
	assert.NotZero(t, created.CreatedTs)

	agentID := "alice"
	facts, err := ts.ListFacts(ctx, &store.FindFact{AgentID: &agentID})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Bob works at Acme.", facts[0].Content)
	assert.Equal(t, []float32{1, 0}, facts[0].Embedding)
}

func TestListFactsCurrentAsOf(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)

	old, err := ts.CreateFact(ctx, newFact("alice", "f1", "Bob works at Acme.", 100, []float32{1, 0}))
	require.NoError(t, err)

	_, err = ts.SupersedeFact(ctx, old.ID, newFact("alice", "f2", "Bob works at Globex.", 200, []float32{1, 0}))
	require.NoError(t, err)

	agentID := "alice"
	for _, tc := range []struct {
		name    string
		asOf    int64
		content string
	}{
		{"before the update", 150, "Bob works at Acme."},
		{"at the update boundary", 200, "Bob works at Globex."},
		{"after the update", 300, "Bob works at Globex."},
	} {
		t.Run(tc.name, func(t *testing.T) {
			asOf := tc.asOf
			facts, err := ts.ListFacts(ctx, &store.FindFact{AgentID: &agentID, CurrentAsOf: &asOf})
			require.NoError(t, err)
			require.Len(t, facts, 1)
			assert.Equal(t, tc.content, facts[0].Content)
		})
	}

	// Before the first fact existed there is nothing.
	asOf := int64(50)
	facts, err := ts.ListFacts(ctx, &store.FindFact{AgentID: &agentID, CurrentAsOf: &asOf})
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestSupersedeFactClosesOldRow(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)

	old, err := ts.CreateFact(ctx, newFact("alice", "f1", "Bob works at Acme.", 100, []float32{1, 0}))
	require.NoError(t, err)

	created, err := ts.SupersedeFact(ctx, old.ID, newFact("alice", "f2", "Bob works at Globex.", 200, []float32{1, 0}))
	require.NoError(t, err)
	require.NotNil(t, created.SupersedesID)
	assert.Equal(t, old.ID, *created.SupersedesID)

	uid := "f1"
	closed, err := ts.GetFact(ctx, &store.FindFact{UID: &uid})
	require.NoError(t, err)
	require.NotNil(t, closed.ValidUntilTs)
	assert.Equal(t, int64(200), *closed.ValidUntilTs)
}

func TestSupersedeFactRejectsClosedPredecessor(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)

	old, err := ts.CreateFact(ctx, newFact("alice", "f1", "Bob works at Acme.", 100, []float32{1, 0}))
	require.NoError(t, err)
	_, err = ts.SupersedeFact(ctx, old.ID, newFact("alice", "f2", "Bob works at Globex.", 200, []float32{1, 0}))
	require.NoError(t, err)

	// The first supersede closed f1; a second supersede of the same row
	// must fail instead of forking the chain.
	_, err = ts.SupersedeFact(ctx, old.ID, newFact("alice", "f3", "Bob works at Initech.", 300, []float32{1, 0}))
	require.Error(t, err)

	agentID := "alice"
	now := time.Now().Unix()
	facts, err := ts.ListFacts(ctx, &store.FindFact{AgentID: &agentID, CurrentAsOf: &now})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "f2", facts[0].UID)
}

func TestVectorSearchFactsOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)

	_, err := ts.CreateFact(ctx, newFact("alice", "f1", "close match", 100, []float32{1, 0, 0}))
	require.NoError(t, err)
	_, err = ts.CreateFact(ctx, newFact("alice", "f2", "far match", 100, []float32{0, 1, 0}))
	require.NoError(t, err)
	_, err = ts.CreateFact(ctx, newFact("bob", "f3", "other agent", 100, []float32{1, 0, 0}))
	require.NoError(t, err)

	results, err := ts.VectorSearchFacts(ctx, &store.VectorSearchFactsOptions{
		AgentID:     "alice",
		Vector:      []float32{1, 0, 0},
		CurrentAsOf: 200,
		Limit:       10,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "f1", results[0].Fact.UID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "f2", results[1].Fact.UID)
	assert.InDelta(t, 0.0, results[1].Score, 1e-6)
}

func TestVectorSearchFactsExcludesClosedRows(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)

	old, err := ts.CreateFact(ctx, newFact("alice", "f1", "Bob works at Acme.", 100, []float32{1, 0}))
	require.NoError(t, err)
	_, err = ts.SupersedeFact(ctx, old.ID, newFact("alice", "f2", "Bob works at Globex.", 200, []float32{1, 0}))
	require.NoError(t, err)

	results, err := ts.VectorSearchFacts(ctx, &store.VectorSearchFactsOptions{
		AgentID:     "alice",
		Vector:      []float32{1, 0},
		CurrentAsOf: 300,
		Limit:       10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "f2", results[0].Fact.UID)
}

func TestListAgentIDs(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)

	ids, err := ts.ListAgentIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = ts.CreateFact(ctx, newFact("alice", "f1", "a", 100, []float32{1}))
	require.NoError(t, err)
	_, err = ts.CreateFact(ctx, newFact("bob", "f2", "b", 100, []float32{1}))
	require.NoError(t, err)
	_, err = ts.CreateFact(ctx, newFact("alice", "f3", "c", 100, []float32{1}))
	require.NoError(t, err)

	// CreateFact invalidates the cached (empty) agent list.
	ids, err = ts.ListAgentIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)
}

func TestIngestionJobLifecycle(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)

	job, err := ts.CreateIngestionJob(ctx, &store.IngestionJob{
		ID:      "job-1",
		AgentID: "alice",
		Content: "Bob works at Acme.",
		Status:  store.JobStatusPending,
	})
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusPending, job.Status)
	assert.NotZero(t, job.CreatedTs)

	status := store.JobStatusDone
	attempts := 1
	errMsg := ""
	updated, err := ts.UpdateIngestionJob(ctx, &store.UpdateIngestionJob{
		ID:       "job-1",
		Status:   &status,
		Attempts: &attempts,
		Error:    &errMsg,
		FactUIDs: []string{"f1", "f2"},
	})
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusDone, updated.Status)
	assert.Equal(t, 1, updated.Attempts)
	assert.Equal(t, []string{"f1", "f2"}, updated.FactUIDs)

	got, err := ts.GetIngestionJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, store.JobStatusDone, got.Status)

	missing, err := ts.GetIngestionJob(ctx, "no-such-job")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindIngestionJobByStatus(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)

	for _, j := range []*store.IngestionJob{
		{ID: "j1", AgentID: "alice", Content: "a", Status: store.JobStatusPending},
		{ID: "j2", AgentID: "alice", Content: "b", Status: store.JobStatusDone},
		{ID: "j3", AgentID: "bob", Content: "c", Status: store.JobStatusPending},
	} {
		_, err := ts.CreateIngestionJob(ctx, j)
		require.NoError(t, err)
	}

	pending := store.JobStatusPending
	jobs, err := ts.ListIngestionJobs(ctx, &store.FindIngestionJob{Status: &pending})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestListIngestionJobsOrdersByInsertion(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)

	// Same creation second, ids chosen so lexical order inverts submission
	// order. The listing must still be newest-insertion first.
	createdTs := time.Now().Unix()
	for _, j := range []*store.IngestionJob{
		{ID: "zz-first", AgentID: "alice", Content: "Bob joined Acme.", Status: store.JobStatusPending, CreatedTs: createdTs},
		{ID: "aa-second", AgentID: "alice", Content: "Bob moved to Globex.", Status: store.JobStatusPending, CreatedTs: createdTs},
	} {
		_, err := ts.CreateIngestionJob(ctx, j)
		require.NoError(t, err)
	}

	agentID := "alice"
	jobs, err := ts.ListIngestionJobs(ctx, &store.FindIngestionJob{AgentID: &agentID})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "aa-second", jobs[0].ID)
	assert.Equal(t, "zz-first", jobs[1].ID)
	assert.Greater(t, jobs[0].Seq, jobs[1].Seq)
}
