package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"tradeline/internal/assistant"
	"tradeline/internal/config"
	"tradeline/internal/db"
	"tradeline/internal/engine"
	"tradeline/internal/extract"
	"tradeline/internal/logger"
	"tradeline/internal/migrate"
	"tradeline/internal/repo"
)

// App holds the wired services for one workspace.
type App struct {
	Workspace string
	Config    *config.Config
	Logger    *zap.Logger
	DB        *sql.DB
	Repo      repo.Repo
	Engine    engine.Engine
	// Extractor and Assistant are nil when no language model is configured.
	Extractor *extract.Adapter
	Assistant *assistant.Store
}

type Options struct {
	// Config overrides tradeline.yml in the workspace.
	Config *config.Config
	Logger *zap.Logger
	// LLM overrides the configured provider client.
	LLM extract.Client
}

// Open loads configuration, opens and migrates the workspace database and
// builds the engine and assistant.
func Open(ctx context.Context, workspace string, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOptional(workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	log := opts.Logger
	if log == nil {
		built, err := logger.New(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		log = built
	}

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &App{
		Workspace: workspace,
		Config:    cfg,
		Logger:    log,
		DB:        conn,
		Repo:      repo.Repo{DB: conn},
		Engine:    engine.New(conn, log),
	}

	client := opts.LLM
	if client == nil {
		client, err = extract.NewClient(cfg.LLM)
		if err != nil {
			log.Warn("trade assistant disabled", zap.Error(err))
			return a, nil
		}
	}
	a.Extractor = extract.NewAdapter(client, extract.Options{
		Timeout:           cfg.LLM.Timeout(),
		MinConfidence:     cfg.LLM.MinConfidence,
		MaxTokens:         cfg.LLM.MaxTokens,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		Logger:            log.Named("extract"),
	})
	a.Assistant = assistant.NewStore(cfg.Assistant.SessionTTL(), a.Extractor, a.Engine, log.Named("assistant"))
	return a, nil
}

func (a *App) Close() error {
	_ = a.Logger.Sync()
	return a.DB.Close()
}
