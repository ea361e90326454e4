package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SeraKah-1/neuronotespro/internal/api"
	"github.com/SeraKah-1/neuronotespro/internal/config"
	"github.com/SeraKah-1/neuronotespro/internal/engine"
	"github.com/SeraKah-1/neuronotespro/internal/provider"
	"github.com/SeraKah-1/neuronotespro/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	// Open SQLite.
	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	// Initialize store (runs migrations).
	st, err := store.New(db)
	if err != nil {
		log.Fatalf("init store: %v", err)
	}

	// Build the provider registry. The configured provider becomes the
	// default; the rest stay available as per-phase overrides.
	registry := buildRegistry(cfg)

	eng, err := engine.New(st, engine.NewModelGenerator(registry),
		engine.WithPolicy(engine.Policy{
			MaxAttempts:      cfg.MaxAttempts,
			BaseDelay:        cfg.RetryBaseDelay,
			BreakerThreshold: cfg.BreakerThreshold,
		}),
		engine.WithCooldown(cfg.Cooldown),
	)
	if err != nil {
		log.Fatalf("init engine: %v", err)
	}

	srv := api.New(eng, st, cfg.CORSOrigin)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Printf("server listening on http://localhost:%s\n", cfg.Port)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		eng.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// buildRegistry wires every configured backend into a registry and picks the
// default from config. Without an API key for the selected provider the
// registry falls back to the stub so the pipeline stays usable offline.
func buildRegistry(cfg config.Config) *provider.Registry {
	r := provider.NewRegistry()

	if cfg.UseStubs() {
		slog.Info("no API key for selected provider, using stub backend", "provider", cfg.Provider)
		r.Register("stub", &provider.Stub{})
		return r
	}

	if cfg.OpenAIKey != "" {
		r.Register("openai", provider.NewOpenAI(cfg.OpenAIKey,
			provider.WithOpenAIModel(cfg.OpenAIModel),
			provider.WithOpenAIBaseURL(cfg.OpenAIBaseURL)))
	}
	if cfg.AnthropicKey != "" {
		r.Register("claude", provider.NewClaude(cfg.AnthropicKey,
			provider.WithClaudeModel(cfg.AnthropicModel)))
	}
	if cfg.GeminiKey != "" {
		r.Register("gemini", provider.NewGemini(cfg.GeminiKey,
			provider.WithGeminiModel(cfg.GeminiModel)))
	}
	r.Register("ollama", provider.NewOllama(cfg.OllamaURL,
		provider.WithOllamaModel(cfg.OllamaModel)))

	if err := r.SetDefault(cfg.Provider); err != nil {
		slog.Warn("configured provider not registered, keeping first registered default",
			"provider", cfg.Provider)
	}
	slog.Info("provider registry ready", "backends", r.Names(), "default", cfg.Provider)
	return r
}
