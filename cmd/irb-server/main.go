// Package main provides the IRB compliance server entry point.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bull/irb-compliance/internal/app"
	"github.com/bull/irb-compliance/internal/config"
	"github.com/bull/irb-compliance/internal/httpapi"
	mcpserver "github.com/bull/irb-compliance/internal/mcp"
)

var errNotReady = errors.New("system is still initializing")

// readiness reports unhealthy and serves 503 until the app is built.
type readiness struct {
	app atomic.Pointer[app.App]
	mcp atomic.Pointer[http.Handler]
}

func (r *readiness) Health(ctx context.Context) error {
	a := r.app.Load()
	if a == nil {
		return errNotReady
	}
	return a.Health(ctx)
}

func (r *readiness) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h := r.mcp.Load()
	if h == nil {
		http.Error(w, errNotReady.Error(), http.StatusServiceUnavailable)
		return
	}
	(*h).ServeHTTP(w, req)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	ready := &readiness{}
	api := httpapi.New(cfg.RequestTimeout, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(ready))
	mux.Handle("/mcp", ready)
	mux.Handle("/api/", api)
	mux.HandleFunc("/", mcpserver.NewLandingHandler())

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.ServerMode {
		log.Printf("Starting HTTP server on %s (API at /api, MCP at /mcp, health at /health)", httpServer.Addr)
	} else {
		log.Printf("Starting health server on %s", httpServer.Addr)
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if cfg.ServerMode {
				log.Fatalf("HTTP server error: %v", err)
			}
			log.Printf("Health server error: %v", err)
		}
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer a.Close()

	server := mcpserver.NewServer(&mcpserver.Config{
		Evaluator: a.Evaluator,
		Ingest:    a.Ingest,
		Index:     a.Index,
		Limiter:   a.Limiter,
		Backend:   cfg.IndexBackend,
	})
	mcpHandler := mcpserver.NewHTTPHandler(server, nil)

	ready.mcp.Store(&mcpHandler)
	ready.app.Store(a)
	api.SetBackend(&httpapi.Backend{Evaluator: a.Evaluator, Ingest: a.Ingest})

	go func() {
		res, err := a.IngestDefaults(ctx)
		if err != nil {
			logger.Error("Default document ingestion failed", "error", err)
			return
		}
		if res.Skipped {
			logger.Info("Default documents already processed")
			return
		}
		logger.Info("Default documents ingested",
			"docs", res.SuccessfulDocs, "failed", len(res.FailedDocs), "chunks", res.TotalChunks)
	}()

	if cfg.ServerMode {
		<-ctx.Done()
	} else {
		log.Println("Starting IRB Compliance MCP Server (stdio mode)...")
		if err := server.Run(ctx); err != nil {
			log.Printf("server error: %v", err)
			shutdown(httpServer)
			a.Close()
			os.Exit(1)
		}
	}

	shutdown(httpServer)
}

func shutdown(s *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
