// Package server exposes every orchestro operation as an MCP tool over the
// stdio transport. Handlers decode their arguments into typed input
// structs, call the domain services, and return JSON result records;
// domain errors become {success:false, error} tool results, never
// transport errors.
package server

import (
	"context"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"orchestro/internal/agents"
	"orchestro/internal/cache"
	"orchestro/internal/config"
	"orchestro/internal/graph"
	"orchestro/internal/learning"
	"orchestro/internal/logging"
	"orchestro/internal/store"
	"orchestro/internal/story"
	"orchestro/internal/suggest"
	"orchestro/internal/task"
	"orchestro/internal/workflow"
)

// Version is stamped at build time.
var Version = "dev"

const (
	purgeInterval = time.Hour
	sweepInterval = time.Minute
)

// Server wires the domain services behind the MCP tool surface.
type Server struct {
	cfg         *config.Config
	store       *store.Store
	cache       *cache.Cache
	tasks       *task.Engine
	graph       *graph.Service
	learning    *learning.Service
	suggest     *suggest.Engine
	coordinator *workflow.Coordinator
	decomposer  *story.Decomposer
	syncer      *agents.Syncer
	watcher     *agents.Watcher
	projectID   string
	mcp         *server.MCPServer
}

// New builds the server: opens nothing itself, it composes the already
// constructed store and configuration into services and registers every
// tool.
func New(cfg *config.Config, st *store.Store) (*Server, error) {
	project, err := st.EnsureDefaultProject(cfg.ProjectName)
	if err != nil {
		return nil, err
	}

	c, err := cache.New(cache.DefaultSize)
	if err != nil {
		return nil, err
	}
	sg := suggest.NewEngine()

	var completer story.TextCompleter
	if key := completerAPIKey(cfg); key != "" {
		gc, err := story.NewGeminiCompleter(key, cfg.Decomposer.Model)
		if err != nil {
			logging.Get(logging.CategoryBoot).Warn("Gemini completer unavailable: %v", err)
		} else {
			completer = gc
		}
	}

	s := &Server{
		cfg:         cfg,
		store:       st,
		cache:       c,
		tasks:       task.NewEngine(st, c, cfg.Story.DoneThreshold),
		graph:       graph.NewService(st, c),
		learning:    learning.NewService(st, c),
		suggest:     sg,
		coordinator: workflow.NewCoordinator(st, project.ID),
		decomposer: story.NewDecomposer(st, sg, completer, project.ID,
			time.Duration(cfg.Decomposer.TimeoutSeconds)*time.Second),
		syncer:    agents.NewSyncer(st, project.ID, cfg.Agents.Dir),
		projectID: project.ID,
	}

	if cfg.Agents.Watch {
		w, err := agents.NewWatcher(s.syncer)
		if err != nil {
			logging.Get(logging.CategoryBoot).Warn("Agents watcher unavailable: %v", err)
		} else {
			s.watcher = w
		}
	}

	s.mcp = server.NewMCPServer(
		"orchestro",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.registerTaskTools()
	s.registerStoryTools()
	s.registerWorkflowTools()
	s.registerGraphTools()
	s.registerKnowledgeTools()
	s.registerSuggestionTools()
	s.registerConfigurationTools()
	return s, nil
}

func completerAPIKey(cfg *config.Config) string {
	if cfg.Decomposer.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(cfg.Decomposer.APIKeyEnv)
}

// MCP exposes the underlying MCP server, mainly for tests.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Serve runs the stdio transport plus the background jobs until stdin
// closes or the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logging.Server("orchestro %s serving on stdio (project %s)", Version, s.projectID)

	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			logging.Get(logging.CategoryServer).Warn("Agents watcher failed to start: %v", err)
		} else {
			defer s.watcher.Stop()
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.purgeLoop(ctx)
		return nil
	})
	g.Go(func() error {
		s.sweepLoop(ctx)
		return nil
	})
	g.Go(func() error {
		// stdin EOF ends the session; cancel stops the loops
		defer cancel()
		return server.ServeStdio(s.mcp)
	})
	return g.Wait()
}

// purgeLoop drops processed events past the retention window every hour.
func (s *Server) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.store.PurgeOldProcessed(store.DefaultPurgeAge); err != nil {
				logging.Get(logging.CategoryServer).Error("Event purge failed: %v", err)
			} else if n > 0 {
				logging.Server("Purged %d processed events", n)
			}
		}
	}
}

// sweepLoop evicts expired cache entries so they do not pin memory until
// their next read.
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cache.Sweep()
		}
	}
}
