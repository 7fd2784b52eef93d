package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memora-ai/memora/plugin/ai"
	"github.com/memora-ai/memora/server/service/extraction"
	"github.com/memora-ai/memora/server/service/ingest"
	"github.com/memora-ai/memora/server/service/knowledge"
	"github.com/memora-ai/memora/server/service/retrieval"
	"github.com/memora-ai/memora/server/service/synthesis"
	"github.com/memora-ai/memora/store/test"
)

type apiFixture struct {
	echo      *echo.Echo
	embedding *ai.MockEmbeddingService
	llm       *ai.MockLLMService
}

func newAPIFixture(ctx context.Context, t *testing.T) *apiFixture {
	t.Helper()
	p := test.NewTestingProfile()
	st := test.NewTestingStore(ctx, t)
	ks := knowledge.NewService(st, p)
	embedding := ai.NewMockEmbeddingService(3)
	llm := &ai.MockLLMService{}
	planner := retrieval.NewPlanner(ks, embedding, p)
	syn := synthesis.NewSynthesizer(planner, llm, p)
	coord := ingest.NewCoordinator(st, extraction.NewExtractor(llm, embedding, p), ks, p)
	t.Cleanup(coord.Close)

	e := echo.New()
	NewAPIV1Service(p, ks, planner, syn, coord).Register(e)
	return &apiFixture{echo: e, embedding: embedding, llm: llm}
}

func (f *apiFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestPutMemorySync(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(ctx, t)
	f.llm.Responses = []string{`[{"type": "world", "content": "Bob works at Acme."}]`}

	rec := f.do(t, http.MethodPut, "/api/v1/agents/alice/memories",
		`{"content": "Bob works at Acme.", "context": "journal"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[PutMemoryResponse](t, rec)
	assert.Len(t, resp.FactIDs, 1)
	assert.Empty(t, resp.JobID)
}

func TestPutMemoryAsync(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(ctx, t)
	f.llm.Responses = []string{`[{"type": "world", "content": "Bob works at Acme."}]`}

	rec := f.do(t, http.MethodPut, "/api/v1/agents/alice/memories",
		`{"content": "Bob works at Acme.", "mode": "async"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode[PutMemoryResponse](t, rec)
	require.NotEmpty(t, resp.JobID)

	// The job is eventually visible as done.
	deadline := time.Now().Add(10 * time.Second)
	for {
		jobRec := f.do(t, http.MethodGet, "/api/v1/jobs/"+resp.JobID, "")
		require.Equal(t, http.StatusOK, jobRec.Code)
		job := decode[JobPayload](t, jobRec)
		if job.Status == "done" {
			assert.Len(t, job.FactIDs, 1)
			break
		}
		require.NotEqual(t, "failed", job.Status, "job failed: %s", job.Error)
		require.True(t, time.Now().Before(deadline), "job did not complete")
		time.Sleep(100 * time.Millisecond)
	}
}

func TestPutMemoryUnknownMode(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(ctx, t)

	rec := f.do(t, http.MethodPut, "/api/v1/agents/alice/memories",
		`{"content": "x", "mode": "batch"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorPayload](t, rec)
	assert.Equal(t, "INVALID_ARGUMENT", resp.Code)
}

func TestSearchMemory(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(ctx, t)
	f.llm.Responses = []string{
		`[{"type": "world", "content": "Bob works at Acme."}, {"type": "world", "content": "Carol lives in Lisbon."}]`,
	}
	f.embedding.Register("Bob works at Acme.", []float32{1, 0, 0})
	f.embedding.Register("Carol lives in Lisbon.", []float32{0, 1, 0})
	f.embedding.Register("where does Bob work", []float32{1, 0, 0})

	rec := f.do(t, http.MethodPut, "/api/v1/agents/alice/memories", `{"content": "journal entry"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/agents/alice/search?q=where+does+Bob+work&trace=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[SearchMemoryResponse](t, rec)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "Bob works at Acme.", resp.Results[0].Content)
	assert.Greater(t, resp.Results[0].Score, resp.Results[1].Score)
	require.NotNil(t, resp.Trace)
	assert.Equal(t, retrieval.StopReasonCandidatesExhausted, resp.Trace.StopReason)
	assert.Equal(t, 2, resp.Trace.TotalActivated)
}

func TestSearchMemoryExplicitZeroBudget(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(ctx, t)

	rec := f.do(t, http.MethodGet, "/api/v1/agents/alice/search?q=x&limit=0&maxTokens=0&trace=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[SearchMemoryResponse](t, rec)
	assert.Empty(t, resp.Results)
	require.NotNil(t, resp.Trace)
	assert.Equal(t, retrieval.StopReasonZeroBudget, resp.Trace.StopReason)
}

func TestSearchMemoryBadParams(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(ctx, t)

	tests := []struct {
		name   string
		target string
	}{
		{"missing query", "/api/v1/agents/alice/search"},
		{"bad limit", "/api/v1/agents/alice/search?q=x&limit=many"},
		{"negative limit", "/api/v1/agents/alice/search?q=x&limit=-1"},
		{"bad type", "/api/v1/agents/alice/search?q=x&type=belief"},
		{"bad asOf", "/api/v1/agents/alice/search?q=x&asOf=yesterday"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tc.target, "")
			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorPayload](t, rec)
			assert.Equal(t, "INVALID_ARGUMENT", resp.Code)
		})
	}
}

func TestThink(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(ctx, t)
	f.llm.Responses = []string{
		`[{"type": "world", "content": "Bob works at Acme."}]`,
		"Bob works at Acme.",
	}
	f.embedding.Register("Bob works at Acme.", []float32{1, 0, 0})
	f.embedding.Register("where does Bob work", []float32{1, 0, 0})

	rec := f.do(t, http.MethodPut, "/api/v1/agents/alice/memories", `{"content": "journal"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/agents/alice/think?q=where+does+Bob+work", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ThinkResponse](t, rec)
	assert.Equal(t, "Bob works at Acme.", resp.Text)
	require.NotNil(t, resp.BasedOn)
	require.Len(t, resp.BasedOn.World, 1)
	assert.Equal(t, "Bob works at Acme.", resp.BasedOn.World[0].Content)
	// Empty groups are present, not null.
	assert.NotNil(t, resp.BasedOn.Agent)
	assert.NotNil(t, resp.BasedOn.Opinion)
	assert.Empty(t, resp.BasedOn.Agent)
	assert.Empty(t, resp.BasedOn.Opinion)
}

func TestThinkGroupsProvenanceByType(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(ctx, t)
	f.llm.Responses = []string{
		`[{"type": "world", "content": "Bob works at Acme."},
		  {"type": "agent", "content": "I report to Bob."},
		  {"type": "opinion", "content": "Bob is a fair manager."}]`,
		"Bob manages the agent at Acme.",
	}
	f.embedding.Register("Bob works at Acme.", []float32{1, 0, 0})
	f.embedding.Register("I report to Bob.", []float32{0, 1, 0})
	f.embedding.Register("Bob is a fair manager.", []float32{0, 0, 1})
	f.embedding.Register("tell me about Bob", []float32{0.577, 0.577, 0.577})

	rec := f.do(t, http.MethodPut, "/api/v1/agents/alice/memories", `{"content": "journal"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/agents/alice/think?q=tell+me+about+Bob", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ThinkResponse](t, rec)
	require.NotNil(t, resp.BasedOn)
	require.Len(t, resp.BasedOn.World, 1)
	require.Len(t, resp.BasedOn.Agent, 1)
	require.Len(t, resp.BasedOn.Opinion, 1)
	assert.Equal(t, "Bob works at Acme.", resp.BasedOn.World[0].Content)
	assert.Equal(t, "I report to Bob.", resp.BasedOn.Agent[0].Content)
	assert.Equal(t, "Bob is a fair manager.", resp.BasedOn.Opinion[0].Content)
}

func TestThinkDegradedOnGenerationFailure(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(ctx, t)
	f.llm.Responses = []string{`[{"type": "world", "content": "Bob works at Acme."}]`}
	f.embedding.Register("Bob works at Acme.", []float32{1, 0, 0})
	f.embedding.Register("where does Bob work", []float32{1, 0, 0})

	rec := f.do(t, http.MethodPut, "/api/v1/agents/alice/memories", `{"content": "journal"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.llm.Err = assert.AnError
	rec = f.do(t, http.MethodGet, "/api/v1/agents/alice/think?q=where+does+Bob+work", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := decode[ErrorPayload](t, rec)
	assert.Equal(t, "SYNTHESIS_UNAVAILABLE", resp.Code)
	// Retrieved facts travel with the error so the caller can degrade.
	require.Len(t, resp.BasedOn, 1)
	assert.Equal(t, "Bob works at Acme.", resp.BasedOn[0].Content)
}

func TestListAgents(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(ctx, t)
	f.llm.Responses = []string{`[{"type": "world", "content": "a fact"}]`}

	rec := f.do(t, http.MethodGet, "/api/v1/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string][]string](t, rec)
	assert.Empty(t, resp["agents"])

	rec = f.do(t, http.MethodPut, "/api/v1/agents/alice/memories", `{"content": "x"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[map[string][]string](t, rec)
	assert.Equal(t, []string{"alice"}, resp["agents"])
}

func TestGetJobNotFound(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(ctx, t)

	rec := f.do(t, http.MethodGet, "/api/v1/jobs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[ErrorPayload](t, rec)
	assert.Equal(t, "NOT_FOUND", resp.Code)
}

func TestFactHistory(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(ctx, t)
	f.embedding.Register("Bob works at Acme.", []float32{1, 0, 0})
	f.embedding.Register("Bob works at Globex.", []float32{0.9, 0.436, 0})
	f.llm.Responses = []string{
		`[{"type": "world", "content": "Bob works at Acme."}]`,
		`[{"type": "world", "content": "Bob works at Globex."}]`,
	}

	rec := f.do(t, http.MethodPut, "/api/v1/agents/alice/memories", `{"content": "first"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPut, "/api/v1/agents/alice/memories", `{"content": "second"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	latest := decode[PutMemoryResponse](t, rec)
	require.Len(t, latest.FactIDs, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/agents/alice/facts/"+latest.FactIDs[0]+"/history", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	chain := decode[[]*FactPayload](t, rec)
	require.Len(t, chain, 2)
	assert.Equal(t, "Bob works at Acme.", chain[0].Content)
	assert.Equal(t, "Bob works at Globex.", chain[1].Content)
	assert.NotNil(t, chain[0].ValidUntil)
	assert.Nil(t, chain[1].ValidUntil)
}

func TestFactHistoryNotFound(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(ctx, t)

	rec := f.do(t, http.MethodGet, "/api/v1/agents/alice/facts/missing/history", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
