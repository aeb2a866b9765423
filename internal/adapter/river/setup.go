package river

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/neomorfeo/vendoriq/internal/adapter/mail"
	"github.com/neomorfeo/vendoriq/internal/domain"
)

// Config wires the notification worker.
type Config struct {
	Sealer   domain.Sealer
	Renderer *mail.Renderer
	Sender   mail.Sender
	Logger   *slog.Logger

	// MaxAttempts bounds delivery retries. Zero uses River's default.
	MaxAttempts int
	// MaxWorkers defaults to 2.
	MaxWorkers int
}

// Setup creates a River client with the notification worker registered and
// runs River's internal migrations. The caller must call client.Start() to
// begin processing jobs and client.Stop() for graceful shutdown.
func Setup(ctx context.Context, db *sql.DB, cfg Config) (*Client, error) {
	if cfg.Sealer == nil || cfg.Sender == nil {
		return nil, errors.New("river setup: sealer and sender are required")
	}
	if cfg.Renderer == nil {
		cfg.Renderer = mail.NewRenderer()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 2
	}

	driver := riversqlite.New(db)

	// Run River's own migrations (creates river_job, river_leader, etc.).
	// These are separate from the app's goose migrations.
	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		return nil, fmt.Errorf("creating river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, fmt.Errorf("running river migrations: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &NotificationWorker{
		sealer:   cfg.Sealer,
		renderer: cfg.Renderer,
		sender:   cfg.Sender,
		logger:   cfg.Logger,
	})

	client, err := river.NewClient(driver, &river.Config{
		Logger:      cfg.Logger,
		MaxAttempts: cfg.MaxAttempts,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}

	return client, nil
}
