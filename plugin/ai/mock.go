package ai

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
)

var errTransient = errors.New("transient provider error")

// MockEmbeddingService is a deterministic in-memory EmbeddingService for
// tests. Identical texts always map to identical vectors; unrelated texts map
// to pseudo-random near-orthogonal vectors. Tests can register explicit
// vectors to model semantically close statements.
type MockEmbeddingService struct {
	Err error

	dims    int
	mu      sync.Mutex
	vectors map[string][]float32
}

// NewMockEmbeddingService creates a mock with the given dimension.
func NewMockEmbeddingService(dims int) *MockEmbeddingService {
	if dims <= 0 {
		dims = 8
	}
	return &MockEmbeddingService{
		dims:    dims,
		vectors: make(map[string][]float32),
	}
}

// Register pins the vector returned for a text.
func (m *MockEmbeddingService) Register(text string, vector []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = normalize(vector)
}

func (m *MockEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	v := pseudoVector(text, m.dims)
	m.vectors[text] = v
	return v, nil
}

func (m *MockEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (m *MockEmbeddingService) Dimensions() int {
	return m.dims
}

func pseudoVector(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return normalize(v)
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// MockLLMService is a scripted LLMService for tests.
type MockLLMService struct {
	Err error
	// FailuresBeforeSuccess makes the first N calls fail with a transient
	// error, for exercising retry paths.
	FailuresBeforeSuccess int
	// Responses are returned in order; the last one repeats.
	Responses []string

	mu    sync.Mutex
	calls [][]Message
	next  int
}

func (m *MockLLMService) Chat(ctx context.Context, messages []Message) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailuresBeforeSuccess > 0 {
		m.FailuresBeforeSuccess--
		m.calls = append(m.calls, messages)
		return "", errTransient
	}
	m.calls = append(m.calls, messages)
	if len(m.Responses) == 0 {
		return "", nil
	}
	i := m.next
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	m.next++
	return m.Responses[i], nil
}

// Calls returns the recorded chat invocations.
func (m *MockLLMService) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}
