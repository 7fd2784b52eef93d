// Package server assembles the engine services behind an HTTP server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/memora-ai/memora/internal/profile"
	"github.com/memora-ai/memora/plugin/ai"
	apiv1 "github.com/memora-ai/memora/server/router/api/v1"
	"github.com/memora-ai/memora/server/service/extraction"
	"github.com/memora-ai/memora/server/service/ingest"
	"github.com/memora-ai/memora/server/service/knowledge"
	"github.com/memora-ai/memora/server/service/retrieval"
	"github.com/memora-ai/memora/server/service/synthesis"
	"github.com/memora-ai/memora/store"
)

// Server owns the HTTP listener and the ingestion coordinator lifecycle.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer  *echo.Echo
	coordinator *ingest.Coordinator
}

// NewServer builds the service graph and registers the API routes.
func NewServer(ctx context.Context, p *profile.Profile, st *store.Store) (*Server, error) {
	aiConfig := ai.NewConfigFromProfile(p)
	if err := aiConfig.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid provider configuration")
	}
	embeddingService, err := ai.NewEmbeddingService(&aiConfig.Embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedding service")
	}
	llmService, err := ai.NewLLMService(&aiConfig.LLM)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create llm service")
	}

	knowledgeService := knowledge.NewService(st, p)
	extractor := extraction.NewExtractor(llmService, embeddingService, p)
	planner := retrieval.NewPlanner(knowledgeService, embeddingService, p)
	synthesizer := synthesis.NewSynthesizer(planner, llmService, p)
	coordinator := ingest.NewCoordinator(st, extractor, knowledgeService, p)

	if err := coordinator.Recover(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to recover pending ingestion jobs")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			slog.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
			)
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})

	apiService := apiv1.NewAPIV1Service(p, knowledgeService, planner, synthesizer, coordinator)
	apiService.Register(e)

	return &Server{
		Profile:     p,
		Store:       st,
		echoServer:  e,
		coordinator: coordinator,
	}, nil
}

// Start begins serving. It returns when the listener stops.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server started", "address", address, "mode", s.Profile.Mode, "driver", s.Profile.Driver)
	if err := s.echoServer.Start(address); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "failed to start echo server")
	}
	return nil
}

// Shutdown drains in-flight ingestion work and stops the listener.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	s.coordinator.Close()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}
	slog.Info("server shutdown complete")
}
