package synthesis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memora-ai/memora/plugin/ai"
	engineerrors "github.com/memora-ai/memora/server/internal/errors"
	"github.com/memora-ai/memora/server/service/knowledge"
	"github.com/memora-ai/memora/server/service/retrieval"
	"github.com/memora-ai/memora/server/service/synthesis"
	"github.com/memora-ai/memora/store"
	"github.com/memora-ai/memora/store/test"
)

type synthesisFixture struct {
	knowledge *knowledge.Service
	embedding *ai.MockEmbeddingService
	llm       *ai.MockLLMService
	syn       *synthesis.Synthesizer
}

func newSynthesisFixture(ctx context.Context, t *testing.T) *synthesisFixture {
	t.Helper()
	p := test.NewTestingProfile()
	ks := knowledge.NewService(test.NewTestingStore(ctx, t), p)
	embedding := ai.NewMockEmbeddingService(3)
	llm := &ai.MockLLMService{}
	planner := retrieval.NewPlanner(ks, embedding, p)
	return &synthesisFixture{
		knowledge: ks,
		embedding: embedding,
		llm:       llm,
		syn:       synthesis.NewSynthesizer(planner, llm, p),
	}
}

func (f *synthesisFixture) addFact(ctx context.Context, t *testing.T, content string, embedding []float32) {
	t.Helper()
	_, err := f.knowledge.Upsert(ctx, &knowledge.Candidate{
		AgentID:     "alice",
		Type:        store.FactTypeWorld,
		Content:     content,
		Embedding:   embedding,
		Model:       "mock-embedding",
		ValidFromTs: time.Now().Unix(),
	})
	require.NoError(t, err)
}

func TestThinkAnswersFromRetrievedFacts(t *testing.T) {
	ctx := context.Background()
	f := newSynthesisFixture(ctx, t)
	f.llm.Responses = []string{"Bob works at Acme."}

	f.embedding.Register("where does Bob work", []float32{1, 0, 0})
	f.addFact(ctx, t, "Bob works at Acme.", []float32{1, 0, 0})
	f.addFact(ctx, t, "Carol lives in Lisbon.", []float32{0, 1, 0})

	answer, err := f.syn.Think(ctx, "alice", "where does Bob work", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "Bob works at Acme.", answer.Text)
	require.Len(t, answer.BasedOn, 2)

	// The prompt must contain exactly the facts reported as provenance.
	calls := f.llm.Calls()
	require.Len(t, calls, 1)
	prompt := calls[0][1].Content
	for _, sf := range answer.BasedOn {
		assert.Contains(t, prompt, sf.Fact.Content)
	}
}

func TestThinkEmptyStore(t *testing.T) {
	ctx := context.Background()
	f := newSynthesisFixture(ctx, t)
	f.llm.Responses = []string{"I have no memories about that."}

	answer, err := f.syn.Think(ctx, "alice", "anything", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, answer.BasedOn)
	assert.NotEmpty(t, answer.Text)

	calls := f.llm.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0][1].Content, "no stored memories matched")
}

func TestThinkGenerationFailureReturnsFacts(t *testing.T) {
	ctx := context.Background()
	f := newSynthesisFixture(ctx, t)

	f.embedding.Register("where does Bob work", []float32{1, 0, 0})
	f.addFact(ctx, t, "Bob works at Acme.", []float32{1, 0, 0})
	f.llm.Err = assert.AnError

	answer, err := f.syn.Think(ctx, "alice", "where does Bob work", time.Time{})
	require.Error(t, err)
	assert.Equal(t, engineerrors.ErrCodeSynthesisUnavailable, engineerrors.CodeOf(err))

	// The caller can still degrade to raw retrieval.
	require.NotNil(t, answer)
	require.Len(t, answer.BasedOn, 1)
	assert.Equal(t, "Bob works at Acme.", answer.BasedOn[0].Fact.Content)
	assert.Empty(t, answer.Text)
}

func TestThinkEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	f := newSynthesisFixture(ctx, t)
	f.embedding.Err = assert.AnError

	answer, err := f.syn.Think(ctx, "alice", "anything", time.Time{})
	require.Error(t, err)
	assert.Nil(t, answer)
	// Retrieval failed before generation was attempted.
	assert.Empty(t, f.llm.Calls())
}
