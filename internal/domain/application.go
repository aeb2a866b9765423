package domain

import (
	"strings"
	"time"
)

// Status represents the lifecycle state of a vendor application.
type Status string

const (
	StatusSubmitted           Status = "submitted"
	StatusPendingReview       Status = "pending_review"
	StatusCredentialsIssued   Status = "credentials_issued"
	StatusAwaitingFinalReview Status = "awaiting_final_review"
	StatusActive              Status = "active"
	StatusRejected            Status = "rejected"

	// StatusAwaitingProfileCompletion is reserved. No transition enters it.
	StatusAwaitingProfileCompletion Status = "awaiting_profile_completion"
)

// Statuses lists every status in transition order.
var Statuses = []Status{
	StatusSubmitted,
	StatusPendingReview,
	StatusCredentialsIssued,
	StatusAwaitingProfileCompletion,
	StatusAwaitingFinalReview,
	StatusActive,
	StatusRejected,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusActive || s == StatusRejected
}

// Event represents an action that triggers a state transition.
type Event string

const (
	EventQueueForReview Event = "queue_for_review"
	EventApprove        Event = "approve"
	EventReject         Event = "reject"
	EventSubmitDetails  Event = "submit_details"
	EventFinalize       Event = "finalize"
)

// ActionResendCredentials names the resend operation in errors. It is not a
// transition and never appears in Transitions.
const ActionResendCredentials Event = "resend_credentials"

// ActionUpdateProfile names the profile edit in errors. Like resend, it keeps
// the status unchanged.
const ActionUpdateProfile Event = "update_profile"

// Transition defines a valid state change: an event moves an application from Src to Dst.
type Transition struct {
	Event Event
	Src   Status
	Dst   Status
}

// Transitions defines all valid state changes in the vendor onboarding lifecycle.
// This is domain knowledge consumed by the FSM adapter.
var Transitions = []Transition{
	{Event: EventQueueForReview, Src: StatusSubmitted, Dst: StatusPendingReview},
	{Event: EventApprove, Src: StatusPendingReview, Dst: StatusCredentialsIssued},
	{Event: EventReject, Src: StatusPendingReview, Dst: StatusRejected},
	{Event: EventReject, Src: StatusCredentialsIssued, Dst: StatusRejected},
	{Event: EventSubmitDetails, Src: StatusCredentialsIssued, Dst: StatusAwaitingFinalReview},
	{Event: EventFinalize, Src: StatusAwaitingFinalReview, Dst: StatusActive},
	{Event: EventReject, Src: StatusAwaitingFinalReview, Dst: StatusRejected},
}

// ResultOf returns the status an event leaves an application in. Every event
// has exactly one destination, which lets callers recognize a retried
// transition that already happened.
func ResultOf(event Event) (Status, bool) {
	for _, t := range Transitions {
		if t.Event == event {
			return t.Dst, true
		}
	}
	return "", false
}

// Contact identifies the applicant.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// NormalizeEmail returns the canonical form used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername returns the canonical form of a login name. Usernames
// default to the contact email, so both normalize the same way.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Credentials are issued on approval.
type Credentials struct {
	Username     string
	PasswordHash string
	// SealedPassword is the encrypted issued password kept for resends.
	// Empty once the application is active or rejected.
	SealedPassword string
}

// SecureToken is the persisted form of the single-use bearer token.
type SecureToken struct {
	Digest    string
	Sealed    string
	ExpiresAt time.Time
}

// Expired reports whether the token can no longer be redeemed at now.
func (t SecureToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// BusinessProfile holds the details an applicant submits with their token.
type BusinessProfile struct {
	CompanyName        string
	RegistrationNumber string
	TaxID              string
	Address            string
	Documents          []string
}

// Application is the core domain entity: one vendor's onboarding record.
type Application struct {
	ID          string
	Contact     Contact
	Status      Status
	Credentials *Credentials
	Token       *SecureToken
	Profile     *BusinessProfile
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewApplication creates an application in the initial "submitted" state.
func NewApplication(id string, contact Contact) Application {
	now := time.Now().UTC()
	contact.Name = strings.TrimSpace(contact.Name)
	contact.Email = NormalizeEmail(contact.Email)
	contact.Phone = strings.TrimSpace(contact.Phone)
	return Application{
		ID:        id,
		Contact:   contact,
		Status:    StatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Patch describes the fields a single transition writes. Status is always
// written; the remaining fields only when set.
type Patch struct {
	Status Status

	Contact *Contact

	Credentials         *Credentials
	ClearSealedPassword bool

	Token      *SecureToken
	ClearToken bool

	Profile *BusinessProfile

	// ExpectTokenDigest, when non-empty, adds the stored token digest to the
	// compare-and-swap condition.
	ExpectTokenDigest string
}
