package river

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/vendoriq/internal/domain"
)

// Compile-time check: Notifier implements domain.Notifier.
var _ domain.Notifier = (*Notifier)(nil)

// NotificationArgs carries one templated email through the job queue.
// River serializes this as JSON into its job table, so the template
// variables (which include credentials) are stored sealed.
type NotificationArgs struct {
	Template        string `json:"template" river:"unique"`
	ApplicationID   string `json:"application_id" river:"unique"`
	IdempotencyKey  string `json:"idempotency_key" river:"unique"`
	To              string `json:"to"`
	SealedVariables string `json:"sealed_variables"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (NotificationArgs) Kind() string { return "notification.send" }

// InsertOpts makes a repeated enqueue of the same logical message a no-op.
func (NotificationArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		UniqueOpts: river.UniqueOpts{ByArgs: true},
	}
}

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Notifier implements domain.Notifier by enqueuing River jobs. A nil error
// means the message is durably queued; delivery happens in NotificationWorker.
type Notifier struct {
	client *Client
	sealer domain.Sealer
}

// NewNotifier creates a notifier backed by the given River client.
func NewNotifier(client *Client, sealer domain.Sealer) *Notifier {
	return &Notifier{client: client, sealer: sealer}
}

// Send enqueues msg as a notification job.
func (n *Notifier) Send(ctx context.Context, msg domain.Notification) (domain.Delivery, error) {
	raw, err := json.Marshal(msg.Variables)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("encoding variables: %w", err)
	}
	sealed, err := n.sealer.Seal(string(raw))
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("sealing variables: %w", err)
	}

	res, err := n.client.Insert(ctx, NotificationArgs{
		Template:        string(msg.Kind),
		ApplicationID:   msg.ApplicationID,
		IdempotencyKey:  msg.IdempotencyKey,
		To:              msg.To,
		SealedVariables: sealed,
	}, nil)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("enqueuing notification job: %w", err)
	}

	return domain.Delivery{
		ID:        strconv.FormatInt(res.Job.ID, 10),
		Duplicate: res.UniqueSkippedAsDuplicate,
	}, nil
}
