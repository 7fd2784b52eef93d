// Package v1 exposes the memory engine over a JSON HTTP API.
package v1

import (
	"github.com/labstack/echo/v4"

	"github.com/memora-ai/memora/internal/profile"
	"github.com/memora-ai/memora/server/middleware"
	"github.com/memora-ai/memora/server/service/ingest"
	"github.com/memora-ai/memora/server/service/knowledge"
	"github.com/memora-ai/memora/server/service/retrieval"
	"github.com/memora-ai/memora/server/service/synthesis"
)

// APIV1Service wires the engine services into HTTP handlers.
type APIV1Service struct {
	Profile     *profile.Profile
	Knowledge   *knowledge.Service
	Retrieval   *retrieval.Planner
	Synthesis   *synthesis.Synthesizer
	Coordinator *ingest.Coordinator
}

// NewAPIV1Service creates the v1 API service.
func NewAPIV1Service(p *profile.Profile, ks *knowledge.Service, planner *retrieval.Planner, syn *synthesis.Synthesizer, coord *ingest.Coordinator) *APIV1Service {
	return &APIV1Service{
		Profile:     p,
		Knowledge:   ks,
		Retrieval:   planner,
		Synthesis:   syn,
		Coordinator: coord,
	}
}

// Register attaches the v1 routes to the Echo instance.
func (s *APIV1Service) Register(e *echo.Echo) {
	limiter := middleware.NewRateLimiter(20, 40)

	g := e.Group("/api/v1", limiter.Middleware())
	g.PUT("/agents/:agent/memories", s.PutMemory)
	g.GET("/agents/:agent/search", s.SearchMemory)
	g.GET("/agents/:agent/think", s.Think)
	g.GET("/agents/:agent/facts/:fact/history", s.FactHistory)
	g.GET("/agents", s.ListAgents)
	g.GET("/jobs/:job", s.GetJob)
}
