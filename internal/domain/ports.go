package domain

import "context"

// ApplicationRepository defines the persistence contract for vendor applications.
type ApplicationRepository interface {
	Insert(ctx context.Context, app Application) error
	Get(ctx context.Context, id string) (Application, error)
	Find(ctx context.Context, filter Filter) ([]Application, error)
	// UpdateIfStatus applies patch only while the stored status equals
	// expected. It returns the updated record, ErrApplicationNotFound, or a
	// *ConflictError when another writer got there first.
	UpdateIfStatus(ctx context.Context, id string, expected Status, patch Patch) (Application, error)
}

// Filter holds optional equality criteria for finding applications.
// Zero-valued fields are ignored.
type Filter struct {
	Status      *Status
	Email       string
	Username    string
	TokenDigest string
	Limit       int
	Offset      int
}

// TransitionValidator checks an event against the lifecycle and returns the
// destination status.
type TransitionValidator interface {
	Apply(ctx context.Context, current Status, event Event) (Status, error)
}

// NotificationKind selects the message template.
type NotificationKind string

const (
	KindCredentialsIssued NotificationKind = "credentials-issued"
	KindAccountActive     NotificationKind = "account-active"
)

// Template variable names.
const (
	VarName       = "name"
	VarUsername   = "username"
	VarPassword   = "password"
	VarToken      = "token"
	VarDetailsURL = "details_url"
)

// Notification is a templated message request.
type Notification struct {
	Kind          NotificationKind
	ApplicationID string
	To            string
	Variables     map[string]string
	// IdempotencyKey distinguishes deliberate re-sends from duplicated
	// requests for the same logical message.
	IdempotencyKey string
}

// Delivery describes what the gateway did with a notification.
type Delivery struct {
	ID        string
	Duplicate bool
}

// Notifier defines the contract for the notification gateway.
type Notifier interface {
	Send(ctx context.Context, n Notification) (Delivery, error)
}

// PasswordHasher derives and verifies password hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// Sealer encrypts values that must be recoverable later.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}
