package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/neomorfeo/vendoriq/internal/domain"
)

// DefaultTokenTTL is how long an issued secure token stays redeemable.
const DefaultTokenTTL = 72 * time.Hour

const minPasswordLength = 10

// Outcome is the result of a lifecycle operation.
type Outcome struct {
	Application domain.Application
	// Notified reports whether the notification for this operation was
	// accepted by the gateway.
	Notified bool
	// AlreadyApplied is set when the application was already in the state the
	// operation leads to. Nothing was written or sent.
	AlreadyApplied bool
	// Warning carries a *domain.NotificationError when the transition
	// committed but its notification could not be sent.
	Warning error
}

// FinalizeInput holds the optional credential overrides for Finalize.
type FinalizeInput struct {
	Username string
	Password string
}

// Option configures a VendorService.
type Option func(*VendorService)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *VendorService) { s.logger = l }
}

// WithTokenTTL sets the secure token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *VendorService) { s.tokenTTL = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *VendorService) { s.now = now }
}

// WithDetailsURL sets the self-service page linked from the
// credentials-issued email. The token is appended as a query parameter.
func WithDetailsURL(u string) Option {
	return func(s *VendorService) { s.detailsURL = u }
}

// VendorService runs the vendor onboarding lifecycle.
type VendorService struct {
	repo      domain.ApplicationRepository
	validator domain.TransitionValidator
	notifier  domain.Notifier
	hasher    domain.PasswordHasher
	sealer    domain.Sealer

	logger     *slog.Logger
	tokenTTL   time.Duration
	now        func() time.Time
	detailsURL string
}

// NewVendorService creates a service with the given adapters.
func NewVendorService(
	repo domain.ApplicationRepository,
	validator domain.TransitionValidator,
	notifier domain.Notifier,
	hasher domain.PasswordHasher,
	sealer domain.Sealer,
	opts ...Option,
) *VendorService {
	s := &VendorService{
		repo:      repo,
		validator: validator,
		notifier:  notifier,
		hasher:    hasher,
		sealer:    sealer,
		logger:    slog.Default(),
		tokenTTL:  DefaultTokenTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register records a new application and queues it for review.
func (s *VendorService) Register(ctx context.Context, contact domain.Contact) (domain.Application, error) {
	contact, err := normalizeContact(contact)
	if err != nil {
		return domain.Application{}, err
	}
	if err := s.ensureEmailFree(ctx, "", contact.Email); err != nil {
		return domain.Application{}, err
	}

	id, err := generateID()
	if err != nil {
		return domain.Application{}, fmt.Errorf("generating application id: %w", err)
	}

	// The queue-for-review step is applied before the row exists, so the
	// application is stored once, already in pending_review.
	application := domain.NewApplication(id, contact)
	dst, err := s.validator.Apply(ctx, application.Status, domain.EventQueueForReview)
	if err != nil {
		return domain.Application{}, err
	}
	application.Status = dst

	if err := s.repo.Insert(ctx, application); err != nil {
		return domain.Application{}, fmt.Errorf("inserting application: %w", err)
	}

	s.logger.InfoContext(ctx, "application registered",
		"application_id", id,
		"event", string(domain.EventQueueForReview),
		"to", string(dst),
	)
	return application, nil
}

// Get returns an application by id.
func (s *VendorService) Get(ctx context.Context, id string) (domain.Application, error) {
	return s.repo.Get(ctx, id)
}

// List returns applications matching filter.
func (s *VendorService) List(ctx context.Context, filter domain.Filter) ([]domain.Application, error) {
	return s.repo.Find(ctx, filter)
}

// ListPendingReview returns applications waiting for an approve or reject decision.
func (s *VendorService) ListPendingReview(ctx context.Context) ([]domain.Application, error) {
	return s.listByStatus(ctx, domain.StatusPendingReview)
}

// ListAwaitingFinalReview returns applications whose business details are in.
func (s *VendorService) ListAwaitingFinalReview(ctx context.Context) ([]domain.Application, error) {
	return s.listByStatus(ctx, domain.StatusAwaitingFinalReview)
}

func (s *VendorService) listByStatus(ctx context.Context, status domain.Status) ([]domain.Application, error) {
	return s.repo.Find(ctx, domain.Filter{Status: &status})
}

// Approve issues credentials and a secure token, then emails them.
func (s *VendorService) Approve(ctx context.Context, id string) (Outcome, error) {
	var password, token string

	res, err := s.transition(ctx, id, domain.EventApprove, func(a domain.Application) (domain.Patch, error) {
		var err error
		if password, err = GeneratePassword(); err != nil {
			return domain.Patch{}, fmt.Errorf("generating password: %w", err)
		}
		if token, err = GenerateToken(); err != nil {
			return domain.Patch{}, fmt.Errorf("generating token: %w", err)
		}
		hash, err := s.hasher.Hash(password)
		if err != nil {
			return domain.Patch{}, fmt.Errorf("hashing password: %w", err)
		}
		sealedPassword, err := s.sealer.Seal(password)
		if err != nil {
			return domain.Patch{}, fmt.Errorf("sealing password: %w", err)
		}
		sealedToken, err := s.sealer.Seal(token)
		if err != nil {
			return domain.Patch{}, fmt.Errorf("sealing token: %w", err)
		}
		return domain.Patch{
			Credentials: &domain.Credentials{
				Username:       domain.NormalizeUsername(a.Contact.Email),
				PasswordHash:   hash,
				SealedPassword: sealedPassword,
			},
			Token: &domain.SecureToken{
				Digest:    DigestToken(token),
				Sealed:    sealedToken,
				ExpiresAt: s.now().UTC().Add(s.tokenTTL),
			},
		}, nil
	})
	if err != nil || res.AlreadyApplied {
		return res, err
	}

	application := res.Application
	res.Warning = s.notify(ctx, domain.Notification{
		Kind:           domain.KindCredentialsIssued,
		ApplicationID:  application.ID,
		To:             application.Contact.Email,
		Variables:      s.credentialVars(application, password, token),
		IdempotencyKey: "approve:" + DigestToken(token),
	})
	res.Notified = res.Warning == nil
	return res, nil
}

// Reject closes an open application: under review, or approved but with
// details not yet submitted. Stored secrets are dropped.
func (s *VendorService) Reject(ctx context.Context, id string) (Outcome, error) {
	return s.transition(ctx, id, domain.EventReject, func(domain.Application) (domain.Patch, error) {
		return domain.Patch{ClearSealedPassword: true, ClearToken: true}, nil
	})
}

// LookupToken returns the application a live token belongs to. Unknown,
// expired and consumed tokens all yield domain.ErrInvalidToken.
func (s *VendorService) LookupToken(ctx context.Context, token string) (domain.Application, error) {
	application, _, err := s.redeemable(ctx, token)
	return application, err
}

// SubmitDetails stores the business profile and consumes the token. On any
// failure nothing is written.
func (s *VendorService) SubmitDetails(ctx context.Context, token string, profile domain.BusinessProfile) (Outcome, error) {
	profile, err := normalizeProfile(profile)
	if err != nil {
		return Outcome{}, err
	}

	application, digest, err := s.redeemable(ctx, token)
	if err != nil {
		return Outcome{}, err
	}

	dst, err := s.validator.Apply(ctx, application.Status, domain.EventSubmitDetails)
	if err != nil {
		return Outcome{}, domain.ErrInvalidToken
	}

	updated, err := s.repo.UpdateIfStatus(ctx, application.ID, application.Status, domain.Patch{
		Status:            dst,
		Profile:           &profile,
		ClearToken:        true,
		ExpectTokenDigest: digest,
	})
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) || errors.Is(err, domain.ErrApplicationNotFound) {
			return Outcome{}, domain.ErrInvalidToken
		}
		return Outcome{}, fmt.Errorf("storing business details: %w", err)
	}

	s.logger.InfoContext(ctx, "business details submitted", "application_id", updated.ID)
	return Outcome{Application: updated}, nil
}

// redeemable resolves token to an application that can still accept details.
func (s *VendorService) redeemable(ctx context.Context, token string) (domain.Application, string, error) {
	if token == "" {
		return domain.Application{}, "", domain.ErrInvalidToken
	}
	digest := DigestToken(token)

	matches, err := s.repo.Find(ctx, domain.Filter{TokenDigest: digest, Limit: 1})
	if err != nil {
		return domain.Application{}, "", fmt.Errorf("looking up token: %w", err)
	}
	if len(matches) == 0 {
		return domain.Application{}, "", domain.ErrInvalidToken
	}

	a := matches[0]
	if a.Status != domain.StatusCredentialsIssued || a.Token == nil || a.Token.Digest != digest || a.Token.Expired(s.now()) {
		return domain.Application{}, "", domain.ErrInvalidToken
	}
	return a, digest, nil
}

// Finalize activates an application, optionally replacing the username or
// password first, and emails the final credentials.
func (s *VendorService) Finalize(ctx context.Context, id string, in FinalizeInput) (Outcome, error) {
	username := domain.NormalizeUsername(in.Username)
	if in.Username != "" && username == "" {
		return Outcome{}, &domain.ValidationError{Field: "username", Reason: "must not be blank"}
	}
	if in.Password != "" && len(in.Password) < minPasswordLength {
		return Outcome{}, &domain.ValidationError{
			Field:  "password",
			Reason: fmt.Sprintf("must be at least %d characters", minPasswordLength),
		}
	}

	res, err := s.transition(ctx, id, domain.EventFinalize, func(a domain.Application) (domain.Patch, error) {
		if a.Credentials == nil {
			return domain.Patch{}, fmt.Errorf("application %q has no credentials", a.ID)
		}
		creds := *a.Credentials
		creds.SealedPassword = ""

		if username != "" && username != creds.Username {
			if err := s.ensureUsernameFree(ctx, a.ID, username); err != nil {
				return domain.Patch{}, err
			}
			creds.Username = username
		}
		if in.Password != "" {
			hash, err := s.hasher.Hash(in.Password)
			if err != nil {
				return domain.Patch{}, fmt.Errorf("hashing password: %w", err)
			}
			creds.PasswordHash = hash
		}
		return domain.Patch{Credentials: &creds, ClearSealedPassword: true}, nil
	})
	if err != nil || res.AlreadyApplied {
		return res, err
	}

	application := res.Application
	vars := map[string]string{
		domain.VarName:     application.Contact.Name,
		domain.VarUsername: application.Credentials.Username,
	}
	if in.Password != "" {
		vars[domain.VarPassword] = in.Password
	}
	res.Warning = s.notify(ctx, domain.Notification{
		Kind:           domain.KindAccountActive,
		ApplicationID:  application.ID,
		To:             application.Contact.Email,
		Variables:      vars,
		IdempotencyKey: "finalize:" + application.ID,
	})
	res.Notified = res.Warning == nil
	return res, nil
}

func (s *VendorService) ensureUsernameFree(ctx context.Context, id, username string) error {
	taken, err := s.repo.Find(ctx, domain.Filter{Username: username})
	if err != nil {
		return fmt.Errorf("checking username: %w", err)
	}
	for _, other := range taken {
		if other.ID != id && other.Status != domain.StatusRejected {
			return &domain.UsernameConflictError{Username: username}
		}
	}
	return nil
}

// ResendCredentials re-sends the stored credentials, and the token while it
// is still outstanding, without generating new ones. The one exception is an
// expired token in credentials_issued: it is replaced first, keeping the
// password, so the applicant can still submit details. A delivery failure is
// returned as a *domain.NotificationError.
func (s *VendorService) ResendCredentials(ctx context.Context, id string) (Outcome, error) {
	application, err := s.repo.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if application.Status != domain.StatusCredentialsIssued && application.Status != domain.StatusAwaitingFinalReview {
		return Outcome{}, &domain.TransitionError{Event: domain.ActionResendCredentials, Current: application.Status}
	}
	if application.Credentials == nil || application.Credentials.SealedPassword == "" {
		return Outcome{}, fmt.Errorf("application %q has no stored password", id)
	}

	password, err := s.sealer.Open(application.Credentials.SealedPassword)
	if err != nil {
		return Outcome{}, fmt.Errorf("opening stored password: %w", err)
	}

	var token string
	switch {
	case application.Status == domain.StatusCredentialsIssued &&
		(application.Token == nil || application.Token.Expired(s.now())):
		if application, token, err = s.renewToken(ctx, application); err != nil {
			return Outcome{}, err
		}
	case application.Token != nil:
		if token, err = s.sealer.Open(application.Token.Sealed); err != nil {
			return Outcome{}, fmt.Errorf("opening stored token: %w", err)
		}
	}

	key, err := generateID()
	if err != nil {
		return Outcome{}, fmt.Errorf("generating idempotency key: %w", err)
	}
	if err := s.notify(ctx, domain.Notification{
		Kind:           domain.KindCredentialsIssued,
		ApplicationID:  application.ID,
		To:             application.Contact.Email,
		Variables:      s.credentialVars(application, password, token),
		IdempotencyKey: "resend:" + key,
	}); err != nil {
		return Outcome{Application: application}, err
	}
	return Outcome{Application: application, Notified: true}, nil
}

// renewToken replaces an expired token in place. The write is guarded by the
// old digest, so a concurrent renewal or rejection makes it fail.
func (s *VendorService) renewToken(ctx context.Context, a domain.Application) (domain.Application, string, error) {
	token, err := GenerateToken()
	if err != nil {
		return domain.Application{}, "", fmt.Errorf("generating token: %w", err)
	}
	sealed, err := s.sealer.Seal(token)
	if err != nil {
		return domain.Application{}, "", fmt.Errorf("sealing token: %w", err)
	}

	patch := domain.Patch{
		Status: a.Status,
		Token: &domain.SecureToken{
			Digest:    DigestToken(token),
			Sealed:    sealed,
			ExpiresAt: s.now().UTC().Add(s.tokenTTL),
		},
	}
	if a.Token != nil {
		patch.ExpectTokenDigest = a.Token.Digest
	}

	updated, err := s.repo.UpdateIfStatus(ctx, a.ID, a.Status, patch)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return domain.Application{}, "", &domain.TransitionError{
				Event: domain.ActionResendCredentials, Current: a.Status, Err: conflict,
			}
		}
		return domain.Application{}, "", fmt.Errorf("renewing token: %w", err)
	}

	s.logger.InfoContext(ctx, "secure token renewed", "application_id", a.ID)
	return updated, token, nil
}

// ProfileUpdate carries the parts of an application an edit replaces. Nil
// parts are left as they are.
type ProfileUpdate struct {
	Contact *domain.Contact
	Profile *domain.BusinessProfile
}

// UpdateProfile edits the contact and business details of an application
// that has submitted them. The status does not change.
func (s *VendorService) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (domain.Application, error) {
	if in.Contact == nil && in.Profile == nil {
		return domain.Application{}, &domain.ValidationError{Field: "profile", Reason: "nothing to update"}
	}

	patch := domain.Patch{}
	if in.Contact != nil {
		contact, err := normalizeContact(*in.Contact)
		if err != nil {
			return domain.Application{}, err
		}
		patch.Contact = &contact
	}
	if in.Profile != nil {
		profile, err := normalizeProfile(*in.Profile)
		if err != nil {
			return domain.Application{}, err
		}
		patch.Profile = &profile
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Application{}, err
	}
	if current.Status != domain.StatusAwaitingFinalReview && current.Status != domain.StatusActive {
		return domain.Application{}, &domain.TransitionError{Event: domain.ActionUpdateProfile, Current: current.Status}
	}
	if patch.Contact != nil && patch.Contact.Email != current.Contact.Email {
		if err := s.ensureEmailFree(ctx, id, patch.Contact.Email); err != nil {
			return domain.Application{}, err
		}
	}

	patch.Status = current.Status
	updated, err := s.repo.UpdateIfStatus(ctx, id, current.Status, patch)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return domain.Application{}, &domain.TransitionError{
				Event: domain.ActionUpdateProfile, Current: current.Status, Err: conflict,
			}
		}
		return domain.Application{}, fmt.Errorf("updating profile: %w", err)
	}

	s.logger.InfoContext(ctx, "profile updated", "application_id", id)
	return updated, nil
}

func (s *VendorService) ensureEmailFree(ctx context.Context, id, email string) error {
	existing, err := s.repo.Find(ctx, domain.Filter{Email: email})
	if err != nil {
		return fmt.Errorf("checking email: %w", err)
	}
	for _, other := range existing {
		if other.ID != id && other.Status != domain.StatusRejected {
			return &domain.DuplicateApplicationError{Email: email}
		}
	}
	return nil
}

// ChangePassword replaces an active vendor's password after checking the
// current one. A wrong current password is domain.ErrAccessDenied.
func (s *VendorService) ChangePassword(ctx context.Context, username, current, next string) (domain.Application, error) {
	if len(next) < minPasswordLength {
		return domain.Application{}, &domain.ValidationError{
			Field:  "new_password",
			Reason: fmt.Sprintf("must be at least %d characters", minPasswordLength),
		}
	}

	vendor, err := s.Authenticate(ctx, username, current)
	if err != nil {
		return domain.Application{}, err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return domain.Application{}, fmt.Errorf("hashing password: %w", err)
	}
	creds := *vendor.Credentials
	creds.PasswordHash = hash

	updated, err := s.repo.UpdateIfStatus(ctx, vendor.ID, vendor.Status, domain.Patch{
		Status:              vendor.Status,
		Credentials:         &creds,
		ClearSealedPassword: true,
	})
	if err != nil {
		return domain.Application{}, fmt.Errorf("storing password: %w", err)
	}

	s.logger.InfoContext(ctx, "password changed", "application_id", vendor.ID)
	return updated, nil
}

// Authenticate is the vendor session gate. Only active applications with a
// matching password pass; every other case is domain.ErrAccessDenied.
func (s *VendorService) Authenticate(ctx context.Context, username, password string) (domain.Application, error) {
	username = domain.NormalizeUsername(username)
	if username == "" || password == "" {
		return domain.Application{}, domain.ErrAccessDenied
	}

	candidates, err := s.repo.Find(ctx, domain.Filter{Username: username})
	if err != nil {
		return domain.Application{}, fmt.Errorf("looking up vendor: %w", err)
	}
	for _, a := range candidates {
		if a.Status != domain.StatusActive || a.Credentials == nil {
			continue
		}
		ok, err := s.hasher.Verify(password, a.Credentials.PasswordHash)
		if err != nil {
			s.logger.WarnContext(ctx, "password verification failed", "application_id", a.ID, "error", err)
			continue
		}
		if ok {
			return a, nil
		}
	}
	return domain.Application{}, domain.ErrAccessDenied
}

// transition re-reads the application, checks event against the lifecycle
// and writes the patch built by build with a compare-and-swap on the status
// it read. A retry of an event whose result is already the current status
// short-circuits with AlreadyApplied.
func (s *VendorService) transition(
	ctx context.Context,
	id string,
	event domain.Event,
	build func(domain.Application) (domain.Patch, error),
) (Outcome, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}

	if dst, ok := domain.ResultOf(event); ok && current.Status == dst {
		return Outcome{Application: current, AlreadyApplied: true}, nil
	}

	dst, err := s.validator.Apply(ctx, current.Status, event)
	if err != nil {
		return Outcome{}, err
	}

	var patch domain.Patch
	if build != nil {
		if patch, err = build(current); err != nil {
			return Outcome{}, err
		}
	}
	patch.Status = dst

	updated, err := s.repo.UpdateIfStatus(ctx, id, current.Status, patch)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return Outcome{}, &domain.TransitionError{Event: event, Current: current.Status, Err: conflict}
		}
		return Outcome{}, fmt.Errorf("applying %q: %w", event, err)
	}

	s.logger.InfoContext(ctx, "application transitioned",
		"application_id", id,
		"event", string(event),
		"from", string(current.Status),
		"to", string(updated.Status),
	)
	return Outcome{Application: updated}, nil
}

// notify hands n to the gateway. Failures are logged without variables and
// returned as *domain.NotificationError.
func (s *VendorService) notify(ctx context.Context, n domain.Notification) error {
	delivery, err := s.notifier.Send(ctx, n)
	if err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			"kind", string(n.Kind),
			"application_id", n.ApplicationID,
			"error", err,
		)
		return &domain.NotificationError{Kind: n.Kind, ApplicationID: n.ApplicationID, Err: err}
	}
	s.logger.InfoContext(ctx, "notification queued",
		"kind", string(n.Kind),
		"application_id", n.ApplicationID,
		"delivery_id", delivery.ID,
		"duplicate", delivery.Duplicate,
	)
	return nil
}

func (s *VendorService) credentialVars(a domain.Application, password, token string) map[string]string {
	vars := map[string]string{
		domain.VarName:     a.Contact.Name,
		domain.VarUsername: a.Credentials.Username,
		domain.VarPassword: password,
	}
	if token != "" {
		vars[domain.VarToken] = token
		vars[domain.VarDetailsURL] = s.detailsLink(token)
	}
	return vars
}

func (s *VendorService) detailsLink(token string) string {
	if s.detailsURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(s.detailsURL, "?") {
		sep = "&"
	}
	return s.detailsURL + sep + "token=" + url.QueryEscape(token)
}

func normalizeContact(c domain.Contact) (domain.Contact, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = domain.NormalizeEmail(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)
	if c.Name == "" {
		return domain.Contact{}, &domain.ValidationError{Field: "name", Reason: "is required"}
	}
	if addr, err := mail.ParseAddress(c.Email); err != nil || addr.Address != c.Email {
		return domain.Contact{}, &domain.ValidationError{Field: "email", Reason: "is not a valid address"}
	}
	return c, nil
}

func normalizeProfile(p domain.BusinessProfile) (domain.BusinessProfile, error) {
	p.CompanyName = strings.TrimSpace(p.CompanyName)
	p.RegistrationNumber = strings.TrimSpace(p.RegistrationNumber)
	p.TaxID = strings.TrimSpace(p.TaxID)
	p.Address = strings.TrimSpace(p.Address)
	if p.CompanyName == "" {
		return domain.BusinessProfile{}, &domain.ValidationError{Field: "company_name", Reason: "is required"}
	}

	docs := make([]string, 0, len(p.Documents))
	for _, d := range p.Documents {
		if d = strings.TrimSpace(d); d != "" {
			docs = append(docs, d)
		}
	}
	p.Documents = docs
	return p, nil
}
