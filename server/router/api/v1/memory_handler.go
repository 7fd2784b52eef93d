package v1

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	engineerrors "github.com/memora-ai/memora/server/internal/errors"
	"github.com/memora-ai/memora/server/internal/observability"
	"github.com/memora-ai/memora/server/service/ingest"
	"github.com/memora-ai/memora/server/service/retrieval"
	"github.com/memora-ai/memora/store"
)

// PutMemoryRequest is the body of PUT /agents/:agent/memories.
type PutMemoryRequest struct {
	Content string `json:"content"`
	Context string `json:"context"`
	Mode    string `json:"mode"`
}

// PutMemoryResponse reports sync fact ids or the accepted async job id.
type PutMemoryResponse struct {
	FactIDs []string `json:"factIds,omitempty"`
	JobID   string   `json:"jobId,omitempty"`
}

// FactPayload is the wire form of a stored fact.
type FactPayload struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Context    string  `json:"context,omitempty"`
	ValidFrom  string  `json:"validFrom"`
	ValidUntil *string `json:"validUntil,omitempty"`
	CreatedAt  string  `json:"createdAt"`
}

// ScoredFactPayload extends FactPayload with the retrieval scores.
type ScoredFactPayload struct {
	FactPayload
	Similarity float64 `json:"similarity"`
	Recency    float64 `json:"recency"`
	Score      float64 `json:"score"`
	Tokens     int     `json:"tokens"`
}

// SearchMemoryResponse is the body of GET /agents/:agent/search.
type SearchMemoryResponse struct {
	Results []*ScoredFactPayload `json:"results"`
	Trace   *retrieval.Trace     `json:"trace,omitempty"`
}

// ThinkBasedOn groups an answer's supporting facts by fact type. Groups are
// always present so clients can iterate without nil checks.
type ThinkBasedOn struct {
	World   []*ScoredFactPayload `json:"world"`
	Agent   []*ScoredFactPayload `json:"agent"`
	Opinion []*ScoredFactPayload `json:"opinion"`
}

// ThinkResponse is the body of GET /agents/:agent/think.
type ThinkResponse struct {
	Text    string        `json:"text"`
	BasedOn *ThinkBasedOn `json:"basedOn"`
}

// JobPayload is the wire form of an ingestion job.
type JobPayload struct {
	ID        string   `json:"id"`
	AgentID   string   `json:"agentId"`
	Status    string   `json:"status"`
	Attempts  int      `json:"attempts"`
	Error     string   `json:"error,omitempty"`
	FactIDs   []string `json:"factIds,omitempty"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
}

// ErrorPayload is the uniform error body.
type ErrorPayload struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	BasedOn []*ScoredFactPayload `json:"basedOn,omitempty"`
}

// PutMemory ingests free text for an agent.
func (s *APIV1Service) PutMemory(c echo.Context) error {
	agentID := c.Param("agent")
	reqCtx := observability.NewRequestContext(nil, "put_memory", agentID)
	ctx := observability.WithRequestContext(c.Request().Context(), reqCtx)

	req := &PutMemoryRequest{}
	if err := c.Bind(req); err != nil {
		return writeError(c, engineerrors.InvalidArgument("malformed request body: %v", err))
	}

	result, err := s.Coordinator.Put(ctx, ingest.PutRequest{
		AgentID:       agentID,
		Content:       req.Content,
		SourceContext: req.Context,
		Mode:          ingest.Mode(req.Mode),
	})
	if err != nil {
		reqCtx.Error("ingestion failed", err,
			slog.String(observability.LogFieldErrorCode, string(engineerrors.CodeOf(err))),
			slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
		return writeError(c, err)
	}
	if result.JobID != "" {
		reqCtx.Info("ingestion job accepted", slog.String("job_id", result.JobID))
		return c.JSON(http.StatusAccepted, &PutMemoryResponse{JobID: result.JobID})
	}
	reqCtx.Info("memories stored",
		slog.Int("facts", len(result.FactUIDs)),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	return c.JSON(http.StatusOK, &PutMemoryResponse{FactIDs: result.FactUIDs})
}

// SearchMemory runs budgeted retrieval over an agent's current facts.
func (s *APIV1Service) SearchMemory(c echo.Context) error {
	agentID := c.Param("agent")
	reqCtx := observability.NewRequestContext(nil, "search_memory", agentID)
	ctx := observability.WithRequestContext(c.Request().Context(), reqCtx)

	req := retrieval.SearchRequest{
		AgentID:   agentID,
		Query:     c.QueryParam("q"),
		WithTrace: parseBool(c.QueryParam("trace")),
	}

	types, err := parseTypes(c.QueryParam("type"))
	if err != nil {
		return writeError(c, err)
	}
	req.Types = types

	asOf, err := parseAsOf(c.QueryParam("asOf"))
	if err != nil {
		return writeError(c, err)
	}
	req.AsOf = asOf

	budget, err := s.parseBudget(c.QueryParam("limit"), c.QueryParam("maxTokens"))
	if err != nil {
		return writeError(c, err)
	}
	req.Budget = budget

	result, err := s.Retrieval.Search(ctx, req)
	if err != nil {
		return writeError(c, err)
	}
	reqCtx.Debug("search completed",
		slog.Int("results", len(result.Facts)),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	return c.JSON(http.StatusOK, &SearchMemoryResponse{
		Results: convertScoredFacts(result.Facts),
		Trace:   result.Trace,
	})
}

// Think retrieves relevant facts and synthesizes an answer from them.
func (s *APIV1Service) Think(c echo.Context) error {
	agentID := c.Param("agent")
	reqCtx := observability.NewRequestContext(nil, "think", agentID)
	ctx := observability.WithRequestContext(c.Request().Context(), reqCtx)

	asOf, err := parseAsOf(c.QueryParam("asOf"))
	if err != nil {
		return writeError(c, err)
	}

	answer, err := s.Synthesis.Think(ctx, agentID, c.QueryParam("q"), asOf)
	if err != nil {
		// Synthesis failures still carry the retrieved facts so the
		// caller can degrade to raw memories.
		payload := &ErrorPayload{
			Code:    string(engineerrors.CodeOf(err)),
			Message: err.Error(),
		}
		if answer != nil {
			payload.BasedOn = convertScoredFacts(answer.BasedOn)
		}
		return c.JSON(statusOf(err), payload)
	}
	return c.JSON(http.StatusOK, &ThinkResponse{
		Text:    answer.Text,
		BasedOn: groupScoredFacts(answer.BasedOn),
	})
}

// FactHistory returns a fact's supersede chain, oldest first.
func (s *APIV1Service) FactHistory(c echo.Context) error {
	ctx := c.Request().Context()

	facts, err := s.Knowledge.History(ctx, c.Param("agent"), c.Param("fact"))
	if err != nil {
		return writeError(c, err)
	}
	payload := make([]*FactPayload, 0, len(facts))
	for _, fact := range facts {
		payload = append(payload, convertFact(fact))
	}
	return c.JSON(http.StatusOK, payload)
}

// ListAgents returns the ids of all agents with stored facts.
func (s *APIV1Service) ListAgents(c echo.Context) error {
	agentIDs, err := s.Knowledge.ListAgentIDs(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string][]string{"agents": agentIDs})
}

// GetJob returns the state of an async ingestion job.
func (s *APIV1Service) GetJob(c echo.Context) error {
	job, err := s.Coordinator.JobStatus(c.Request().Context(), c.Param("job"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, convertJob(job))
}

func (s *APIV1Service) parseBudget(limitParam, maxTokensParam string) (retrieval.Budget, error) {
	budget := retrieval.Budget{}
	if limitParam == "" && maxTokensParam == "" {
		budget.MaxFacts = s.Profile.DefaultSearchFacts
		budget.MaxTokens = s.Profile.DefaultSearchTokens
		return budget, nil
	}
	if limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n < 0 {
			return budget, engineerrors.InvalidArgument("limit must be a non-negative integer, got %q", limitParam)
		}
		budget.MaxFacts = n
	}
	if maxTokensParam != "" {
		n, err := strconv.Atoi(maxTokensParam)
		if err != nil || n < 0 {
			return budget, engineerrors.InvalidArgument("maxTokens must be a non-negative integer, got %q", maxTokensParam)
		}
		budget.MaxTokens = n
	}
	return budget, nil
}

func parseTypes(param string) ([]store.FactType, error) {
	if param == "" {
		return nil, nil
	}
	var types []store.FactType
	for _, raw := range strings.Split(param, ",") {
		factType := store.FactType(strings.TrimSpace(raw))
		if !factType.Valid() {
			return nil, engineerrors.InvalidArgument("unknown fact type %q", raw)
		}
		types = append(types, factType)
	}
	return types, nil
}

func parseAsOf(param string) (time.Time, error) {
	if param == "" {
		return time.Time{}, nil
	}
	asOf, err := time.Parse(time.RFC3339, param)
	if err != nil {
		return time.Time{}, engineerrors.InvalidArgument("asOf must be RFC 3339, got %q", param)
	}
	return asOf, nil
}

func parseBool(param string) bool {
	v, err := strconv.ParseBool(param)
	return err == nil && v
}

func convertFact(fact *store.Fact) *FactPayload {
	payload := &FactPayload{
		ID:        fact.UID,
		Type:      string(fact.Type),
		Content:   fact.Content,
		Context:   fact.SourceContext,
		ValidFrom: time.Unix(fact.ValidFromTs, 0).UTC().Format(time.RFC3339),
		CreatedAt: time.Unix(fact.CreatedTs, 0).UTC().Format(time.RFC3339),
	}
	if fact.ValidUntilTs != nil {
		until := time.Unix(*fact.ValidUntilTs, 0).UTC().Format(time.RFC3339)
		payload.ValidUntil = &until
	}
	return payload
}

func convertScoredFacts(facts []*retrieval.ScoredFact) []*ScoredFactPayload {
	payload := make([]*ScoredFactPayload, 0, len(facts))
	for _, scored := range facts {
		payload = append(payload, &ScoredFactPayload{
			FactPayload: *convertFact(scored.Fact),
			Similarity:  scored.Similarity,
			Recency:     scored.Recency,
			Score:       scored.Score,
			Tokens:      scored.Tokens,
		})
	}
	return payload
}

func groupScoredFacts(facts []*retrieval.ScoredFact) *ThinkBasedOn {
	grouped := &ThinkBasedOn{
		World:   []*ScoredFactPayload{},
		Agent:   []*ScoredFactPayload{},
		Opinion: []*ScoredFactPayload{},
	}
	for _, scored := range facts {
		payload := &ScoredFactPayload{
			FactPayload: *convertFact(scored.Fact),
			Similarity:  scored.Similarity,
			Recency:     scored.Recency,
			Score:       scored.Score,
			Tokens:      scored.Tokens,
		}
		switch scored.Fact.Type {
		case store.FactTypeAgent:
			grouped.Agent = append(grouped.Agent, payload)
		case store.FactTypeOpinion:
			grouped.Opinion = append(grouped.Opinion, payload)
		default:
			grouped.World = append(grouped.World, payload)
		}
	}
	return grouped
}

func convertJob(job *store.IngestionJob) *JobPayload {
	return &JobPayload{
		ID:        job.ID,
		AgentID:   job.AgentID,
		Status:    string(job.Status),
		Attempts:  job.Attempts,
		Error:     job.Error,
		FactIDs:   job.FactUIDs,
		CreatedAt: time.Unix(job.CreatedTs, 0).UTC().Format(time.RFC3339),
		UpdatedAt: time.Unix(job.UpdatedTs, 0).UTC().Format(time.RFC3339),
	}
}

func statusOf(err error) int {
	switch engineerrors.CodeOf(err) {
	case engineerrors.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case engineerrors.ErrCodeNotFound:
		return http.StatusNotFound
	case engineerrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case engineerrors.ErrCodeExtractionUnavailable, engineerrors.ErrCodeSynthesisUnavailable, engineerrors.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	return c.JSON(statusOf(err), &ErrorPayload{
		Code:    string(engineerrors.CodeOf(err)),
		Message: err.Error(),
	})
}
