package river

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/vendoriq/internal/adapter/mail"
	"github.com/neomorfeo/vendoriq/internal/domain"
)

// NotificationWorker opens, renders and delivers notification jobs.
// Transport errors are returned so River retries them; jobs that can never
// render are cancelled.
type NotificationWorker struct {
	river.WorkerDefaults[NotificationArgs]

	sealer   domain.Sealer
	renderer *mail.Renderer
	sender   mail.Sender
	logger   *slog.Logger
}

// Work processes a single notification job.
func (w *NotificationWorker) Work(ctx context.Context, job *river.Job[NotificationArgs]) error {
	raw, err := w.sealer.Open(job.Args.SealedVariables)
	if err != nil {
		return river.JobCancel(fmt.Errorf("opening variables: %w", err))
	}

	var vars map[string]string
	if err := json.Unmarshal([]byte(raw), &vars); err != nil {
		return river.JobCancel(fmt.Errorf("decoding variables: %w", err))
	}

	msg, err := w.renderer.Render(domain.NotificationKind(job.Args.Template), job.Args.To, vars)
	if err != nil {
		return river.JobCancel(err)
	}

	if err := w.sender.Send(ctx, msg); err != nil {
		w.logger.WarnContext(ctx, "notification delivery failed",
			"kind", job.Args.Template,
			"application_id", job.Args.ApplicationID,
			"job_id", job.ID,
			"attempt", job.Attempt,
			"error", err,
		)
		return fmt.Errorf("delivering %s notification: %w", job.Args.Template, err)
	}

	w.logger.InfoContext(ctx, "notification delivered",
		"kind", job.Args.Template,
		"application_id", job.Args.ApplicationID,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return nil
}
