package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/neomorfeo/vendoriq/internal/adapter/fsm"
	adapter "github.com/neomorfeo/vendoriq/internal/adapter/http"
	"github.com/neomorfeo/vendoriq/internal/adapter/secret"
	"github.com/neomorfeo/vendoriq/internal/adapter/sqlite"
	"github.com/neomorfeo/vendoriq/internal/app"
	"github.com/neomorfeo/vendoriq/internal/domain"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// recordingNotifier captures notifications so tests can read the issued token.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	fail bool
}

func (n *recordingNotifier) Send(_ context.Context, msg domain.Notification) (domain.Delivery, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return domain.Delivery{}, errors.New("queue unavailable")
	}
	n.sent = append(n.sent, msg)
	return domain.Delivery{ID: fmt.Sprint(len(n.sent))}, nil
}

func (n *recordingNotifier) setFail(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = fail
}

func (n *recordingNotifier) last(t *testing.T) domain.Notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no notification sent")
	}
	return n.sent[len(n.sent)-1]
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

type testServer struct {
	*httptest.Server
	notifier *recordingNotifier
}

// newTestServer creates a full-stack httptest.Server with SQLite in-memory.
func newTestServer(t *testing.T, opts adapter.Options) *testServer {
	t.Helper()

	repo, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating test repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	sealer, err := secret.NewAESSealer(testKey)
	if err != nil {
		t.Fatalf("creating sealer: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notifier := &recordingNotifier{}
	svc := app.NewVendorService(repo, fsm.New(), notifier, secret.NewArgon2Hasher(), sealer, app.WithLogger(logger))

	if opts.Logger == nil {
		opts.Logger = logger
	}

	router := chi.NewMux()
	api := humachi.New(router, huma.DefaultConfig("vendoriq", "0.1.0"))
	adapter.Register(api, svc, opts)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, notifier: notifier}
}

// doRequest performs an HTTP request with context (avoids noctx linter).
func doRequest(t *testing.T, method, url, body string, header ...string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, reader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, want, body)
	}
}

func (s *testServer) admin(path string) string {
	return s.URL + "/api/v1/admin/vendor-applications" + path
}

// mustRegister registers an applicant via the API and returns the application id.
func mustRegister(t *testing.T, srv *testServer, name, email string) string {
	t.Helper()

	body := fmt.Sprintf(`{"name":%q,"email":%q,"phone":"555-0100"}`, name, email)
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/vendor-applications", body)
	expectStatus(t, resp, http.StatusCreated)

	reg := decode[adapter.RegistrationResponse](t, resp)
	if reg.ID == "" {
		t.Fatal("ID should not be empty")
	}
	if reg.Status != "pending_review" {
		t.Errorf("Status = %q, want %q", reg.Status, "pending_review")
	}
	return reg.ID
}

// mustApprove approves an application and returns the emailed token.
func mustApprove(t *testing.T, srv *testServer, id string) string {
	t.Helper()

	resp := doRequest(t, http.MethodPost, srv.admin("/"+id+"/approve"), "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	return srv.notifier.last(t).Variables[domain.VarToken]
}

func mustSubmitDetails(t *testing.T, srv *testServer, token string) {
	t.Helper()

	body := fmt.Sprintf(`{"token":%q,"company_name":"Acme","tax_id":"TX-1","documents":["docs/license.pdf"]}`, token)
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/vendor-details", body)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

// --- Registration ---

func TestRegister(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	id := mustRegister(t, srv, "Jane Doe", "Jane@Example.com")

	resp := doRequest(t, http.MethodGet, srv.admin("/"+id), "")
	expectStatus(t, resp, http.StatusOK)
	got := decode[adapter.ApplicationResponse](t, resp)

	if got.Email != "jane@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "jane@example.com")
	}
	if got.Username != "" || got.TokenExpiresAt != "" || got.Profile != nil {
		t.Errorf("pending application exposes credentials or profile: %+v", got)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	mustRegister(t, srv, "Jane", "jane@example.com")

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/vendor-applications", `{"name":"Jane","email":"jane@example.com"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestRegister_InvalidEmail(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/vendor-applications", `{"name":"Jane","email":"not-an-email"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

// --- Full lifecycle ---

func TestLifecycle_ApproveSubmitFinalizeLogin(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	id := mustRegister(t, srv, "Jane", "jane@example.com")

	resp := doRequest(t, http.MethodPost, srv.admin("/"+id+"/approve"), "")
	expectStatus(t, resp, http.StatusOK)
	approved := decode[adapter.ActionResponse](t, resp)

	if approved.Application.Status != "credentials_issued" {
		t.Errorf("Status = %q, want %q", approved.Application.Status, "credentials_issued")
	}
	if approved.CredentialsSent == nil || !*approved.CredentialsSent {
		t.Errorf("credentials_sent = %v, want true", approved.CredentialsSent)
	}
	if approved.Application.TokenExpiresAt == "" {
		t.Error("token_expires_at should be set while the token is outstanding")
	}

	issued := srv.notifier.last(t)
	token := issued.Variables[domain.VarToken]
	password := issued.Variables[domain.VarPassword]
	if len(token) < 20 {
		t.Fatalf("token %q is too short", token)
	}

	// Token lookup pre-fills the form.
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/vendor-details?token="+token, "")
	expectStatus(t, resp, http.StatusOK)
	form := decode[adapter.DetailsFormResponse](t, resp)
	if form.Email != "jane@example.com" {
		t.Errorf("form email = %q, want %q", form.Email, "jane@example.com")
	}

	mustSubmitDetails(t, srv, token)

	resp = doRequest(t, http.MethodGet, srv.admin("/awaiting-final-review"), "")
	expectStatus(t, resp, http.StatusOK)
	queue := decode[[]adapter.ApplicationResponse](t, resp)
	if len(queue) != 1 || queue[0].Profile == nil || queue[0].Profile.CompanyName != "Acme" {
		t.Fatalf("awaiting final review = %+v", queue)
	}
	if queue[0].TokenExpiresAt != "" {
		t.Error("token should be cleared after submission")
	}

	// Vendors cannot log in before activation.
	loginBody := fmt.Sprintf(`{"username":"jane@example.com","password":%q}`, password)
	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/vendor-sessions", loginBody)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("login before activation: status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	resp = doRequest(t, http.MethodPost, srv.admin("/"+id+"/finalize"), "")
	expectStatus(t, resp, http.StatusOK)
	final := decode[adapter.ActionResponse](t, resp)
	if final.Application.Status != "active" {
		t.Errorf("Status = %q, want %q", final.Application.Status, "active")
	}
	if final.FinalNotified == nil || !*final.FinalNotified {
		t.Errorf("final_notified = %v, want true", final.FinalNotified)
	}
	if got := srv.notifier.last(t).Kind; got != domain.KindAccountActive {
		t.Errorf("last notification = %q, want %q", got, domain.KindAccountActive)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/vendor-sessions", loginBody)
	expectStatus(t, resp, http.StatusCreated)
	session := decode[adapter.SessionResponse](t, resp)
	if session.ApplicationID != id || session.Status != "active" {
		t.Errorf("session = %+v", session)
	}
}

func TestApprove_RetryIsNoop(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	id := mustRegister(t, srv, "Jane", "jane@example.com")
	mustApprove(t, srv, id)

	resp := doRequest(t, http.MethodPost, srv.admin("/"+id+"/approve"), "")
	expectStatus(t, resp, http.StatusOK)
	again := decode[adapter.ActionResponse](t, resp)

	if !again.AlreadyApplied {
		t.Error("already_applied should be true")
	}
	if n := srv.notifier.count(); n != 1 {
		t.Errorf("sent %d notifications, want 1", n)
	}
}

func TestApprove_NotificationFailureIsWarning(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	id := mustRegister(t, srv, "Jane", "jane@example.com")

	srv.notifier.setFail(true)
	resp := doRequest(t, http.MethodPost, srv.admin("/"+id+"/approve"), "")
	expectStatus(t, resp, http.StatusOK)
	res := decode[adapter.ActionResponse](t, resp)

	if res.Application.Status != "credentials_issued" {
		t.Errorf("Status = %q, want %q", res.Application.Status, "credentials_issued")
	}
	if res.CredentialsSent == nil || *res.CredentialsSent {
		t.Errorf("credentials_sent = %v, want false", res.CredentialsSent)
	}
	if res.Warning == "" {
		t.Error("warning should be set")
	}

	resp = doRequest(t, http.MethodPost, srv.admin("/"+id+"/resend-credentials"), "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("resend while gateway down: status = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}

	srv.notifier.setFail(false)
	resp = doRequest(t, http.MethodPost, srv.admin("/"+id+"/resend-credentials"), "")
	expectStatus(t, resp, http.StatusOK)
	resent := decode[adapter.ActionResponse](t, resp)
	if resent.CredentialsSent == nil || !*resent.CredentialsSent {
		t.Errorf("credentials_sent = %v, want true", resent.CredentialsSent)
	}
	if srv.notifier.last(t).Variables[domain.VarToken] == "" {
		t.Error("resend should carry the outstanding token")
	}
}

func TestReject_ThenApproveFails(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	id := mustRegister(t, srv, "Jane", "jane@example.com")

	resp := doRequest(t, http.MethodPost, srv.admin("/"+id+"/reject"), "")
	expectStatus(t, resp, http.StatusOK)
	rejected := decode[adapter.ActionResponse](t, resp)
	if rejected.Application.Status != "rejected" {
		t.Errorf("Status = %q, want %q", rejected.Application.Status, "rejected")
	}

	resp = doRequest(t, http.MethodPost, srv.admin("/"+id+"/approve"), "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestFinalize_WrongState(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	id := mustRegister(t, srv, "Jane", "jane@example.com")

	resp := doRequest(t, http.MethodPost, srv.admin("/"+id+"/finalize"), `{"username":"acme"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestFinalize_WithOverrides(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	id := mustRegister(t, srv, "Jane", "jane@example.com")
	mustSubmitDetails(t, srv, mustApprove(t, srv, id))

	resp := doRequest(t, http.MethodPost, srv.admin("/"+id+"/finalize"), `{"username":"acme-store","password":"CorrectHorse42"}`)
	expectStatus(t, resp, http.StatusOK)
	final := decode[adapter.ActionResponse](t, resp)
	if final.Application.Username != "acme-store" {
		t.Errorf("Username = %q, want %q", final.Application.Username, "acme-store")
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/vendor-sessions", `{"username":"acme-store","password":"CorrectHorse42"}`)
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
}

// --- Token endpoints ---

func TestSubmitDetails_InvalidToken(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	id := mustRegister(t, srv, "Jane", "jane@example.com")
	mustApprove(t, srv, id)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/vendor-details", `{"token":"guess","company_name":"Acme"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}

	get := doRequest(t, http.MethodGet, srv.admin("/"+id), "")
	expectStatus(t, get, http.StatusOK)
	if a := decode[adapter.ApplicationResponse](t, get); a.Status != "credentials_issued" {
		t.Errorf("Status = %q, want %q (unchanged)", a.Status, "credentials_issued")
	}
}

func TestSubmitDetails_TokenIsSingleUse(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	token := mustApprove(t, srv, mustRegister(t, srv, "Jane", "jane@example.com"))
	mustSubmitDetails(t, srv, token)

	body := fmt.Sprintf(`{"token":%q,"company_name":"Acme Again"}`, token)
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/vendor-details", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}

	lookup := doRequest(t, http.MethodGet, srv.URL+"/api/v1/vendor-details?token="+token, "")
	defer lookup.Body.Close()
	if lookup.StatusCode != http.StatusForbidden {
		t.Errorf("lookup status = %d, want %d", lookup.StatusCode, http.StatusForbidden)
	}
}

func TestTokenEndpoints_RateLimited(t *testing.T) {
	srv := newTestServer(t, adapter.Options{Limiter: denyLimiter{}})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/vendor-details?token=abc", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}

	login := doRequest(t, http.MethodPost, srv.URL+"/api/v1/vendor-sessions", `{"username":"a","password":"b"}`)
	defer login.Body.Close()
	if login.StatusCode != http.StatusTooManyRequests {
		t.Errorf("login status = %d, want %d", login.StatusCode, http.StatusTooManyRequests)
	}

	// Registration is not throttled.
	mustRegister(t, srv, "Jane", "jane@example.com")
}

func TestTokenEndpoints_LimiterDownAllows(t *testing.T) {
	srv := newTestServer(t, adapter.Options{Limiter: brokenLimiter{}})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/vendor-details?token=abc", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

// --- Admin ---

func TestAdmin_RequiresKey(t *testing.T) {
	srv := newTestServer(t, adapter.Options{AdminKey: "s3cret"})
	id := mustRegister(t, srv, "Jane", "jane@example.com")

	resp := doRequest(t, http.MethodPost, srv.admin("/"+id+"/approve"), "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without key: status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	resp = doRequest(t, http.MethodGet, srv.admin("/pending-review"), "", adapter.AdminKeyHeader, "wrong")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	resp = doRequest(t, http.MethodGet, srv.admin("/pending-review"), "", adapter.AdminKeyHeader, "s3cret")
	expectStatus(t, resp, http.StatusOK)
	pending := decode[[]adapter.ApplicationResponse](t, resp)
	if len(pending) != 1 || pending[0].ID != id {
		t.Errorf("pending = %+v", pending)
	}
}

func TestAdmin_ListFilterByStatus(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	first := mustRegister(t, srv, "Jane", "jane@example.com")
	mustRegister(t, srv, "John", "john@example.com")
	mustApprove(t, srv, first)

	resp := doRequest(t, http.MethodGet, srv.admin("?status=credentials_issued"), "")
	expectStatus(t, resp, http.StatusOK)
	apps := decode[[]adapter.ApplicationResponse](t, resp)
	if len(apps) != 1 || apps[0].ID != first {
		t.Fatalf("filtered = %+v", apps)
	}
	if apps[0].Username != "jane@example.com" {
		t.Errorf("Username = %q, want %q", apps[0].Username, "jane@example.com")
	}

	resp = doRequest(t, http.MethodGet, srv.admin(""), "")
	expectStatus(t, resp, http.StatusOK)
	if all := decode[[]adapter.ApplicationResponse](t, resp); len(all) != 2 {
		t.Errorf("got %d applications, want 2", len(all))
	}

	resp = doRequest(t, http.MethodGet, srv.admin("?status=bogus"), "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("unknown status: status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestAdmin_NotFound(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})

	for _, path := range []string{"/nonexistent", "/nonexistent/approve"} {
		method := http.MethodGet
		if strings.HasSuffix(path, "approve") {
			method = http.MethodPost
		}
		resp := doRequest(t, method, srv.admin(path), "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want %d", method, path, resp.StatusCode, http.StatusNotFound)
		}
	}
}

func TestResend_InvalidState(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	id := mustRegister(t, srv, "Jane", "jane@example.com")

	resp := doRequest(t, http.MethodPost, srv.admin("/"+id+"/resend-credentials"), "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestReject_AfterApprovalRevokesToken(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	id := mustRegister(t, srv, "Jane", "jane@example.com")
	token := mustApprove(t, srv, id)

	resp := doRequest(t, http.MethodPost, srv.admin("/"+id+"/reject"), "")
	expectStatus(t, resp, http.StatusOK)
	if got := decode[adapter.ActionResponse](t, resp); got.Application.Status != "rejected" {
		t.Errorf("Status = %q, want %q", got.Application.Status, "rejected")
	}

	lookup := doRequest(t, http.MethodGet, srv.URL+"/api/v1/vendor-details?token="+token, "")
	defer lookup.Body.Close()
	if lookup.StatusCode != http.StatusForbidden {
		t.Errorf("lookup status = %d, want %d", lookup.StatusCode, http.StatusForbidden)
	}

	mustRegister(t, srv, "Jane", "jane@example.com")
}

// --- Profile edits and password change ---

// mustActivate runs an application through to active and returns its id and
// the issued password.
func mustActivate(t *testing.T, srv *testServer, email string) (string, string) {
	t.Helper()

	id := mustRegister(t, srv, "Jane", email)
	mustSubmitDetails(t, srv, mustApprove(t, srv, id))
	password := srv.notifier.last(t).Variables[domain.VarPassword]

	resp := doRequest(t, http.MethodPost, srv.admin("/"+id+"/finalize"), "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	return id, password
}

func TestAdmin_UpdateProfile(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	id := mustRegister(t, srv, "Jane", "jane@example.com")
	mustSubmitDetails(t, srv, mustApprove(t, srv, id))

	body := `{"contact":{"name":"Jane Smith","email":"jane.smith@example.com"},"profile":{"company_name":"Acme Ltd","tax_id":"TX-2"}}`
	resp := doRequest(t, http.MethodPut, srv.admin("/"+id+"/profile"), body)
	expectStatus(t, resp, http.StatusOK)
	got := decode[adapter.ApplicationResponse](t, resp)

	if got.Name != "Jane Smith" || got.Email != "jane.smith@example.com" {
		t.Errorf("contact = %q <%q>", got.Name, got.Email)
	}
	if got.Profile == nil || got.Profile.CompanyName != "Acme Ltd" || got.Profile.TaxID != "TX-2" {
		t.Errorf("profile = %+v", got.Profile)
	}
	if got.Status != "awaiting_final_review" {
		t.Errorf("Status = %q, want unchanged", got.Status)
	}
}

func TestAdmin_UpdateProfile_WrongState(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	id := mustRegister(t, srv, "Jane", "jane@example.com")

	resp := doRequest(t, http.MethodPut, srv.admin("/"+id+"/profile"), `{"profile":{"company_name":"Acme"}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestVendor_ChangePassword(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	id, password := mustActivate(t, srv, "jane@example.com")

	body := fmt.Sprintf(`{"username":"jane@example.com","current_password":%q,"new_password":"BrandNewPass9"}`, password)
	resp := doRequest(t, http.MethodPut, srv.URL+"/api/v1/vendor-password", body)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[adapter.SessionResponse](t, resp); got.ApplicationID != id {
		t.Errorf("ApplicationID = %q, want %q", got.ApplicationID, id)
	}

	old := doRequest(t, http.MethodPost, srv.URL+"/api/v1/vendor-sessions",
		fmt.Sprintf(`{"username":"jane@example.com","password":%q}`, password))
	old.Body.Close()
	if old.StatusCode != http.StatusUnauthorized {
		t.Errorf("old password: status = %d, want %d", old.StatusCode, http.StatusUnauthorized)
	}

	login := doRequest(t, http.MethodPost, srv.URL+"/api/v1/vendor-sessions", `{"username":"jane@example.com","password":"BrandNewPass9"}`)
	expectStatus(t, login, http.StatusCreated)
	login.Body.Close()
}

func TestVendor_ChangePassword_Denied(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	mustActivate(t, srv, "jane@example.com")

	resp := doRequest(t, http.MethodPut, srv.URL+"/api/v1/vendor-password",
		`{"username":"jane@example.com","current_password":"wrong-password","new_password":"BrandNewPass9"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	resp = doRequest(t, http.MethodPut, srv.URL+"/api/v1/vendor-password",
		`{"username":"jane@example.com","current_password":"whatever","new_password":"short"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("short password: status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestVendor_UpdateOwnProfile(t *testing.T) {
	srv := newTestServer(t, adapter.Options{})
	id, password := mustActivate(t, srv, "jane@example.com")

	body := fmt.Sprintf(`{"username":"jane@example.com","password":%q,"profile":{"company_name":"Acme Retail","address":"1 Main St"}}`, password)
	resp := doRequest(t, http.MethodPut, srv.URL+"/api/v1/vendor-profile", body)
	expectStatus(t, resp, http.StatusOK)
	got := decode[adapter.ApplicationResponse](t, resp)

	if got.ID != id || got.Status != "active" {
		t.Errorf("got %q in %q, want %q active", got.ID, got.Status, id)
	}
	if got.Profile == nil || got.Profile.CompanyName != "Acme Retail" || got.Profile.Address != "1 Main St" {
		t.Errorf("profile = %+v", got.Profile)
	}

	denied := doRequest(t, http.MethodPut, srv.URL+"/api/v1/vendor-profile",
		`{"username":"jane@example.com","password":"wrong","profile":{"company_name":"X"}}`)
	denied.Body.Close()
	if denied.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want %d", denied.StatusCode, http.StatusUnauthorized)
	}
}
