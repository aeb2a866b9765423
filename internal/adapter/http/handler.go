package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/vendoriq/internal/app"
	"github.com/neomorfeo/vendoriq/internal/domain"
)

const timeFormat = "2006-01-02T15:04:05Z"

// AdminKeyHeader carries the administrator key.
const AdminKeyHeader = "X-Admin-Key"

// AttemptLimiter throttles the token and login endpoints.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Options configures the routes.
type Options struct {
	// AdminKey guards the admin routes. Empty leaves them open (development).
	AdminKey string
	// Limiter is optional.
	Limiter AttemptLimiter
	Logger  *slog.Logger
}

// ApplicationResponse is the administrator's view of an application.
// Password hashes, sealed values and tokens are never exposed.
type ApplicationResponse struct {
	ID             string           `json:"id" doc:"Unique identifier"`
	Name           string           `json:"name" doc:"Applicant name"`
	Email          string           `json:"email" doc:"Applicant email"`
	Phone          string           `json:"phone,omitempty" doc:"Applicant phone"`
	Status         string           `json:"status" doc:"Lifecycle state"`
	Username       string           `json:"username,omitempty" doc:"Login name, once credentials are issued"`
	TokenExpiresAt string           `json:"token_expires_at,omitempty" doc:"Expiry of the outstanding details token (ISO 8601)"`
	Profile        *ProfileResponse `json:"profile,omitempty" doc:"Submitted business details"`
	CreatedAt      string           `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt      string           `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
}

// ProfileResponse is the submitted business profile.
type ProfileResponse struct {
	CompanyName        string   `json:"company_name"`
	RegistrationNumber string   `json:"registration_number,omitempty"`
	TaxID              string   `json:"tax_id,omitempty"`
	Address            string   `json:"address,omitempty"`
	Documents          []string `json:"documents,omitempty"`
}

func toApplicationResponse(a domain.Application) ApplicationResponse {
	resp := ApplicationResponse{
		ID:        a.ID,
		Name:      a.Contact.Name,
		Email:     a.Contact.Email,
		Phone:     a.Contact.Phone,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt.Format(timeFormat),
		UpdatedAt: a.UpdatedAt.Format(timeFormat),
	}
	if a.Credentials != nil {
		resp.Username = a.Credentials.Username
	}
	if a.Token != nil {
		resp.TokenExpiresAt = a.Token.ExpiresAt.UTC().Format(timeFormat)
	}
	if p := a.Profile; p != nil {
		resp.Profile = &ProfileResponse{
			CompanyName:        p.CompanyName,
			RegistrationNumber: p.RegistrationNumber,
			TaxID:              p.TaxID,
			Address:            p.Address,
			Documents:          p.Documents,
		}
	}
	return resp
}

// ActionResponse reports the result of an administrator action.
type ActionResponse struct {
	Application     ApplicationResponse `json:"application"`
	AlreadyApplied  bool                `json:"already_applied" doc:"The application was already in the resulting state; nothing was changed or sent"`
	CredentialsSent *bool               `json:"credentials_sent,omitempty" doc:"Whether the credentials email was queued"`
	FinalNotified   *bool               `json:"final_notified,omitempty" doc:"Whether the activation email was queued"`
	Warning         string              `json:"warning,omitempty" doc:"Set when the change was saved but the email failed; credentials can be re-sent"`
}

const notificationWarning = "saved, but the notification email could not be sent; it can be re-sent"

func toActionResponse(o app.Outcome) ActionResponse {
	resp := ActionResponse{
		Application:    toApplicationResponse(o.Application),
		AlreadyApplied: o.AlreadyApplied,
	}
	if o.Warning != nil {
		resp.Warning = notificationWarning
	}
	return resp
}

// --- Public: registration ---

type RegisterInput struct {
	Body struct {
		Name  string `json:"name" minLength:"1" maxLength:"255" doc:"Applicant name"`
		Email string `json:"email" format:"email" maxLength:"320" doc:"Contact email"`
		Phone string `json:"phone,omitempty" maxLength:"50" doc:"Contact phone"`
	}
}

// RegistrationResponse is what the applicant sees after registering.
type RegistrationResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type RegisterOutput struct {
	Body RegistrationResponse
}

// --- Public: token-gated details ---

type LookupTokenInput struct {
	Token string `query:"token" doc:"Secure token from the approval email"`
}

// DetailsFormResponse pre-fills the business details form.
type DetailsFormResponse struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

type LookupTokenOutput struct {
	Body DetailsFormResponse
}

type SubmitDetailsInput struct {
	Body struct {
		Token              string   `json:"token" minLength:"1" doc:"Secure token from the approval email"`
		CompanyName        string   `json:"company_name" minLength:"1" maxLength:"255"`
		RegistrationNumber string   `json:"registration_number,omitempty" maxLength:"100"`
		TaxID              string   `json:"tax_id,omitempty" maxLength:"100"`
		Address            string   `json:"address,omitempty" maxLength:"1000"`
		Documents          []string `json:"documents,omitempty" maxItems:"20" doc:"Document references"`
	}
}

type StatusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// --- Public: vendor session gate ---

type CreateSessionInput struct {
	Body struct {
		Username string `json:"username" minLength:"1"`
		Password string `json:"password" minLength:"1"`
	}
}

// SessionResponse identifies the vendor that logged in.
type SessionResponse struct {
	ApplicationID string `json:"application_id"`
	Username      string `json:"username"`
	Status        string `json:"status"`
}

type CreateSessionOutput struct {
	Body SessionResponse
}

// --- Profile edits ---

// ContactBody is an edited contact block.
type ContactBody struct {
	Name  string `json:"name" minLength:"1" maxLength:"255"`
	Email string `json:"email" format:"email" maxLength:"320"`
	Phone string `json:"phone,omitempty" maxLength:"50"`
}

// ProfileBody is an edited business profile. It replaces the stored one.
type ProfileBody struct {
	CompanyName        string   `json:"company_name" minLength:"1" maxLength:"255"`
	RegistrationNumber string   `json:"registration_number,omitempty" maxLength:"100"`
	TaxID              string   `json:"tax_id,omitempty" maxLength:"100"`
	Address            string   `json:"address,omitempty" maxLength:"1000"`
	Documents          []string `json:"documents,omitempty" maxItems:"20"`
}

func toProfileUpdate(contact *ContactBody, profile *ProfileBody) app.ProfileUpdate {
	var in app.ProfileUpdate
	if contact != nil {
		in.Contact = &domain.Contact{Name: contact.Name, Email: contact.Email, Phone: contact.Phone}
	}
	if profile != nil {
		in.Profile = &domain.BusinessProfile{
			CompanyName:        profile.CompanyName,
			RegistrationNumber: profile.RegistrationNumber,
			TaxID:              profile.TaxID,
			Address:            profile.Address,
			Documents:          profile.Documents,
		}
	}
	return in
}

type UpdateProfileInput struct {
	ID   string `path:"id" doc:"Application ID"`
	Body struct {
		Contact *ContactBody `json:"contact,omitempty"`
		Profile *ProfileBody `json:"profile,omitempty"`
	}
}

type UpdateOwnProfileInput struct {
	Body struct {
		Username string       `json:"username" minLength:"1"`
		Password string       `json:"password" minLength:"1"`
		Contact  *ContactBody `json:"contact,omitempty"`
		Profile  *ProfileBody `json:"profile,omitempty"`
	}
}

type ChangePasswordInput struct {
	Body struct {
		Username        string `json:"username" minLength:"1"`
		CurrentPassword string `json:"current_password" minLength:"1"`
		NewPassword     string `json:"new_password" minLength:"10" maxLength:"128"`
	}
}

// --- Admin ---

type ListApplicationsInput struct {
	Status string `query:"status" required:"false" doc:"Filter by status"`
	Limit  int    `query:"limit" required:"false" default:"50" minimum:"0" maximum:"500" doc:"Max results"`
	Offset int    `query:"offset" required:"false" default:"0" minimum:"0" doc:"Pagination offset"`
}

type ListOutput struct {
	Body []ApplicationResponse
}

type ApplicationIDInput struct {
	ID string `path:"id" doc:"Application ID"`
}

type GetApplicationOutput struct {
	Body ApplicationResponse
}

type FinalizeInput struct {
	ID   string `path:"id" doc:"Application ID"`
	Body struct {
		Username string `json:"username,omitempty" maxLength:"320" doc:"Replace the issued username"`
		Password string `json:"password,omitempty" maxLength:"128" doc:"Replace the issued password"`
	} `required:"false"`
}

type ActionOutput struct {
	Body ActionResponse
}

// Register adds all vendor onboarding routes to the Huma API.
func Register(api huma.API, svc *app.VendorService, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	admin := huma.Middlewares{requireAdminKey(api, opts.AdminKey)}
	limited := func(bucket string) huma.Middlewares {
		if opts.Limiter == nil {
			return nil
		}
		return huma.Middlewares{limitAttempts(api, opts.Limiter, bucket, logger)}
	}

	// --- Public ---

	huma.Register(api, huma.Operation{
		OperationID:   "register-vendor",
		Method:        http.MethodPost,
		Path:          "/api/v1/vendor-applications",
		Summary:       "Apply to sell on the marketplace",
		Tags:          []string{"Public"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *RegisterInput) (*RegisterOutput, error) {
		a, err := svc.Register(ctx, domain.Contact{
			Name:  input.Body.Name,
			Email: input.Body.Email,
			Phone: input.Body.Phone,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &RegisterOutput{Body: RegistrationResponse{ID: a.ID, Status: string(a.Status)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lookup-details-token",
		Method:      http.MethodGet,
		Path:        "/api/v1/vendor-details",
		Summary:     "Resolve a details token",
		Tags:        []string{"Public"},
		Middlewares: limited("token"),
	}, func(ctx context.Context, input *LookupTokenInput) (*LookupTokenOutput, error) {
		a, err := svc.LookupToken(ctx, input.Token)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &LookupTokenOutput{Body: DetailsFormResponse{
			Name:   a.Contact.Name,
			Email:  a.Contact.Email,
			Status: string(a.Status),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-business-details",
		Method:      http.MethodPost,
		Path:        "/api/v1/vendor-details",
		Summary:     "Submit business details with a token",
		Tags:        []string{"Public"},
		Middlewares: limited("token"),
	}, func(ctx context.Context, input *SubmitDetailsInput) (*StatusOutput, error) {
		res, err := svc.SubmitDetails(ctx, input.Body.Token, domain.BusinessProfile{
			CompanyName:        input.Body.CompanyName,
			RegistrationNumber: input.Body.RegistrationNumber,
			TaxID:              input.Body.TaxID,
			Address:            input.Body.Address,
			Documents:          input.Body.Documents,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &StatusOutput{}
		out.Body.Status = string(res.Application.Status)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-vendor-session",
		Method:        http.MethodPost,
		Path:          "/api/v1/vendor-sessions",
		Summary:       "Vendor login gate",
		Tags:          []string{"Public"},
		Middlewares:   limited("login"),
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateSessionInput) (*CreateSessionOutput, error) {
		a, err := svc.Authenticate(ctx, input.Body.Username, input.Body.Password)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &CreateSessionOutput{Body: SessionResponse{
			ApplicationID: a.ID,
			Username:      a.Credentials.Username,
			Status:        string(a.Status),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-own-profile",
		Method:      http.MethodPut,
		Path:        "/api/v1/vendor-profile",
		Summary:     "Edit contact and business details as an active vendor",
		Tags:        []string{"Public"},
		Middlewares: limited("login"),
	}, func(ctx context.Context, input *UpdateOwnProfileInput) (*GetApplicationOutput, error) {
		vendor, err := svc.Authenticate(ctx, input.Body.Username, input.Body.Password)
		if err != nil {
			return nil, toHumaError(err)
		}
		a, err := svc.UpdateProfile(ctx, vendor.ID, toProfileUpdate(input.Body.Contact, input.Body.Profile))
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetApplicationOutput{Body: toApplicationResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-vendor-password",
		Method:      http.MethodPut,
		Path:        "/api/v1/vendor-password",
		Summary:     "Replace an active vendor's password",
		Tags:        []string{"Public"},
		Middlewares: limited("login"),
	}, func(ctx context.Context, input *ChangePasswordInput) (*CreateSessionOutput, error) {
		a, err := svc.ChangePassword(ctx, input.Body.Username, input.Body.CurrentPassword, input.Body.NewPassword)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &CreateSessionOutput{Body: SessionResponse{
			ApplicationID: a.ID,
			Username:      a.Credentials.Username,
			Status:        string(a.Status),
		}}, nil
	})

	// --- Admin ---

	huma.Register(api, huma.Operation{
		OperationID: "list-vendor-applications",
		Method:      http.MethodGet,
		Path:        "/api/v1/admin/vendor-applications",
		Summary:     "List vendor applications",
		Tags:        []string{"Admin"},
		Middlewares: admin,
	}, func(ctx context.Context, input *ListApplicationsInput) (*ListOutput, error) {
		filter := domain.Filter{Limit: input.Limit, Offset: input.Offset}
		if input.Status != "" {
			s := domain.Status(input.Status)
			if !s.Valid() {
				return nil, huma.Error422UnprocessableEntity("unknown status " + input.Status)
			}
			filter.Status = &s
		}
		apps, err := svc.List(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}
		return toListOutput(apps), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pending-review",
		Method:      http.MethodGet,
		Path:        "/api/v1/admin/vendor-applications/pending-review",
		Summary:     "Applications awaiting an approve or reject decision",
		Tags:        []string{"Admin"},
		Middlewares: admin,
	}, func(ctx context.Context, _ *struct{}) (*ListOutput, error) {
		apps, err := svc.ListPendingReview(ctx)
		if err != nil {
			return nil, toHumaError(err)
		}
		return toListOutput(apps), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-awaiting-final-review",
		Method:      http.MethodGet,
		Path:        "/api/v1/admin/vendor-applications/awaiting-final-review",
		Summary:     "Applications with business details awaiting activation",
		Tags:        []string{"Admin"},
		Middlewares: admin,
	}, func(ctx context.Context, _ *struct{}) (*ListOutput, error) {
		apps, err := svc.ListAwaitingFinalReview(ctx)
		if err != nil {
			return nil, toHumaError(err)
		}
		return toListOutput(apps), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-vendor-application",
		Method:      http.MethodGet,
		Path:        "/api/v1/admin/vendor-applications/{id}",
		Summary:     "Get a vendor application",
		Tags:        []string{"Admin"},
		Middlewares: admin,
	}, func(ctx context.Context, input *ApplicationIDInput) (*GetApplicationOutput, error) {
		a, err := svc.Get(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetApplicationOutput{Body: toApplicationResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-vendor-application",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/vendor-applications/{id}/approve",
		Summary:     "Approve and email credentials",
		Tags:        []string{"Admin"},
		Middlewares: admin,
	}, func(ctx context.Context, input *ApplicationIDInput) (*ActionOutput, error) {
		res, err := svc.Approve(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		body := toActionResponse(res)
		body.CredentialsSent = &res.Notified
		return &ActionOutput{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-vendor-application",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/vendor-applications/{id}/reject",
		Summary:     "Reject an application under review",
		Tags:        []string{"Admin"},
		Middlewares: admin,
	}, func(ctx context.Context, input *ApplicationIDInput) (*ActionOutput, error) {
		res, err := svc.Reject(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &ActionOutput{Body: toActionResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-vendor-application",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/vendor-applications/{id}/finalize",
		Summary:     "Activate the vendor account",
		Tags:        []string{"Admin"},
		Middlewares: admin,
	}, func(ctx context.Context, input *FinalizeInput) (*ActionOutput, error) {
		res, err := svc.Finalize(ctx, input.ID, app.FinalizeInput{
			Username: input.Body.Username,
			Password: input.Body.Password,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		body := toActionResponse(res)
		body.FinalNotified = &res.Notified
		return &ActionOutput{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-vendor-profile",
		Method:      http.MethodPut,
		Path:        "/api/v1/admin/vendor-applications/{id}/profile",
		Summary:     "Edit contact and business details",
		Tags:        []string{"Admin"},
		Middlewares: admin,
	}, func(ctx context.Context, input *UpdateProfileInput) (*GetApplicationOutput, error) {
		a, err := svc.UpdateProfile(ctx, input.ID, toProfileUpdate(input.Body.Contact, input.Body.Profile))
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetApplicationOutput{Body: toApplicationResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resend-vendor-credentials",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/vendor-applications/{id}/resend-credentials",
		Summary:     "Re-send the issued credentials, renewing an expired token",
		Tags:        []string{"Admin"},
		Middlewares: admin,
	}, func(ctx context.Context, input *ApplicationIDInput) (*ActionOutput, error) {
		res, err := svc.ResendCredentials(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		body := toActionResponse(res)
		body.CredentialsSent = &res.Notified
		return &ActionOutput{Body: body}, nil
	})
}

func toListOutput(apps []domain.Application) *ListOutput {
	resp := make([]ApplicationResponse, len(apps))
	for i, a := range apps {
		resp[i] = toApplicationResponse(a)
	}
	return &ListOutput{Body: resp}
}

func requireAdminKey(api huma.API, key string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if key == "" {
			next(ctx)
			return
		}
		if subtle.ConstantTimeCompare([]byte(ctx.Header(AdminKeyHeader)), []byte(key)) != 1 {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "admin key required")
			return
		}
		next(ctx)
	}
}

// limitAttempts counts requests per client address. When the limiter is
// unreachable requests pass.
func limitAttempts(api huma.API, limiter AttemptLimiter, bucket string, logger *slog.Logger) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		client := ctx.RemoteAddr()
		if host, _, err := net.SplitHostPort(client); err == nil {
			client = host
		}

		ok, err := limiter.Allow(ctx.Context(), bucket+":"+client)
		if err != nil {
			logger.WarnContext(ctx.Context(), "attempt limiter unavailable, allowing request",
				"bucket", bucket,
				"error", err,
			)
			next(ctx)
			return
		}
		if !ok {
			ctx.SetHeader("Retry-After", "60")
			_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, "too many attempts")
			return
		}
		next(ctx)
	}
}

// toHumaError translates domain errors to Huma HTTP errors. Token and login
// failures share one generic message.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrApplicationNotFound) {
		return huma.Error404NotFound("vendor application not found")
	}

	if errors.Is(err, domain.ErrInvalidToken) {
		return huma.Error403Forbidden("access denied")
	}

	if errors.Is(err, domain.ErrAccessDenied) {
		return huma.Error401Unauthorized("access denied")
	}

	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return huma.Error422UnprocessableEntity(valErr.Error())
	}

	var dupErr *domain.DuplicateApplicationError
	if errors.As(err, &dupErr) {
		return huma.Error409Conflict("an open application already exists for this email")
	}

	var userErr *domain.UsernameConflictError
	if errors.As(err, &userErr) {
		return huma.Error409Conflict(userErr.Error())
	}

	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		return huma.Error409Conflict(conflict.Error() + "; reload and retry")
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error422UnprocessableEntity(trErr.Error())
	}

	var notifyErr *domain.NotificationError
	if errors.As(err, &notifyErr) {
		return huma.Error502BadGateway("the email could not be queued; try again")
	}

	return huma.Error500InternalServerError("internal server error")
}
