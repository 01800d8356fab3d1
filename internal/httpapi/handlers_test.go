package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"windscope.org/internal/audit"
	"windscope.org/internal/auth"
	"windscope.org/internal/fleet"
)

// captureSender keeps delivered OTP codes so the tests can complete the
// flows without a mailbox.
type captureSender struct {
	mu    sync.Mutex
	codes map[string]string // email:purpose -> code
}

func (s *captureSender) SendOTP(_ context.Context, email, code, purpose string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[email+":"+purpose] = code
	return nil
}

func (s *captureSender) SendAdminAlert(context.Context, string, string, string) error { return nil }
func (s *captureSender) SendApprovalNotice(context.Context, string, string) error     { return nil }

func (s *captureSender) code(t *testing.T, email, purpose string) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[email+":"+purpose]
	if !ok {
		t.Fatalf("no %s code delivered to %s", purpose, email)
	}
	return code
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

const adminEmail = "admin@windscope.local"

func newTestAPI(t *testing.T) (*apiClient, *captureSender) {
	t.Helper()

	store := auth.NewInMemory()
	hash, err := auth.HashPassword("admin-pass-123")
	if err != nil {
		t.Fatalf("hash admin password: %v", err)
	}
	store.SeedUser(&auth.User{
		ID:           "admin-1",
		Name:         "Admin",
		Email:        adminEmail,
		Phone:        "+4500000001",
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		IsActive:     true,
		IsApproved:   true,
		CreatedAt:    time.Now().UTC(),
	})

	sender := &captureSender{codes: make(map[string]string)}
	authSvc := auth.NewService(store, auth.WithSender(sender))

	recorder := audit.NewRecorder(audit.NewInMemory())
	fleetSvc := fleet.NewService(fleet.NewInMemory(), recorder)

	api := New(ReadyProbe{}, "test", authSvc, fleetSvc, recorder)
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}, sender
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u := c.baseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// login runs the full password+OTP flow and returns a bearer header.
func (c *apiClient) login(sender *captureSender, email, password string) map[string]string {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]any{
		"identifier": email,
		"password":   password,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login status: %d", resp.StatusCode)
	}
	step := decode[map[string]any](c.t, resp)
	userID, _ := step["user_id"].(string)
	if userID == "" {
		c.t.Fatalf("login response missing user_id: %v", step)
	}

	resp = c.post("/v1/auth/verify-otp", map[string]any{
		"user_id": userID,
		"otp":     sender.code(c.t, email, "login"),
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("verify-otp status: %d", resp.StatusCode)
	}
	sess := decode[sessionResponse](c.t, resp)
	if len(sess.SessionToken) != 64 {
		c.t.Fatalf("session token length = %d, want 64", len(sess.SessionToken))
	}
	return map[string]string{"Authorization": "Bearer " + sess.SessionToken}
}

func TestHealthAndInfo(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}
	health := decode[map[string]any](t, resp)
	if health["service"] != "windscope-api" {
		t.Fatalf("unexpected health payload: %v", health)
	}

	resp = api.get("/readyz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/info", nil, nil)
	info := decode[map[string]any](t, resp)
	if info["version"] != "test" {
		t.Fatalf("unexpected info payload: %v", info)
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.post("/v1/projects", map[string]any{"name": "X"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestRegistrationApprovalLoginFlow(t *testing.T) {
	api, sender := newTestAPI(t)
	email := "pilot@example.com"

	resp := api.post("/v1/auth/register", map[string]any{
		"name":     "Drone Pilot",
		"email":    email,
		"phone":    "+4511223344",
		"password": "hunter2hunter2",
	}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("register status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/auth/verify-registration", map[string]any{
		"email": email,
		"otp":   sender.code(t, email, "registration"),
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("verify-registration status: %d", resp.StatusCode)
	}
	created := decode[map[string]any](t, resp)
	user := created["user"].(map[string]any)
	if user["is_approved"] != false {
		t.Fatalf("fresh account must await approval: %v", user)
	}
	userID := user["id"].(string)

	// not approved yet: login is refused
	resp = api.post("/v1/auth/login", map[string]any{
		"identifier": email,
		"password":   "hunter2hunter2",
	}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("pre-approval login status: %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	adminAuth := api.login(sender, adminEmail, "admin-pass-123")

	resp = api.get("/v1/admin/users/pending", nil, adminAuth)
	pending := decode[map[string]any](t, resp)
	if n := len(pending["users"].([]any)); n != 1 {
		t.Fatalf("pending users = %d, want 1", n)
	}

	resp = api.post("/v1/admin/users/"+userID+"/approve", nil, adminAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// approving twice is an error
	resp = api.post("/v1/admin/users/"+userID+"/approve", nil, adminAuth)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("second approve status: %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	userAuth := api.login(sender, email, "hunter2hunter2")
	resp = api.get("/v1/auth/me", nil, userAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status: %d", resp.StatusCode)
	}
	me := decode[userResponse](t, resp)
	if me.Email != email || !me.IsApproved {
		t.Fatalf("unexpected me payload: %+v", me)
	}

	// logout invalidates the session
	resp = api.post("/v1/auth/logout", nil, userAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status: %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = api.get("/v1/auth/me", nil, userAuth)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout: %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestFleetFlowAndAuditTrail(t *testing.T) {
	api, sender := newTestAPI(t)
	adminAuth := api.login(sender, adminEmail, "admin-pass-123")

	resp := api.post("/v1/projects", map[string]any{
		"name":        "Baltic Array",
		"description": "offshore cluster",
	}, adminAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create project status: %d", resp.StatusCode)
	}
	project := decode[projectResponse](t, resp)

	resp = api.post("/v1/projects/"+project.ID+"/windfarms", map[string]any{
		"name":   "Horns Rev",
		"region": "North Sea",
	}, adminAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create windfarm status: %d", resp.StatusCode)
	}
	farm := decode[windfarmResponse](t, resp)

	resp = api.post("/v1/windfarms/"+farm.ID+"/turbines", map[string]any{
		"name":  "WTG-01",
		"model": "V164",
	}, adminAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create turbine status: %d", resp.StatusCode)
	}
	turbine := decode[turbineResponse](t, resp)
	if turbine.Status != "planned" {
		t.Fatalf("new turbine status = %q", turbine.Status)
	}

	resp = api.post("/v1/turbines/"+turbine.ID+"/status", map[string]any{
		"status": "operational",
	}, adminAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("turbine status change: %d", resp.StatusCode)
	}
	turbine = decode[turbineResponse](t, resp)
	if turbine.Status != "operational" {
		t.Fatalf("turbine status = %q", turbine.Status)
	}

	resp = api.post("/v1/turbines/"+turbine.ID+"/inspections", map[string]any{
		"code":     "INS-042",
		"operator": "J. Madsen",
	}, adminAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create inspection status: %d", resp.StatusCode)
	}
	inspection := decode[inspectionResponse](t, resp)

	resp = api.post("/v1/inspections/"+inspection.ID+"/assessments", map[string]any{
		"blade":       "A",
		"surface":     "LE",
		"grade":       4,
		"description": "leading edge erosion",
	}, adminAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create assessment status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// out-of-range grade is rejected
	resp = api.post("/v1/inspections/"+inspection.ID+"/assessments", map[string]any{
		"blade": "A", "surface": "LE", "grade": 9,
	}, adminAuth)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad grade status: %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/inspections/"+inspection.ID, nil, adminAuth)
	detail := decode[map[string]any](t, resp)
	if n := len(detail["assessments"].([]any)); n != 1 {
		t.Fatalf("assessments = %d, want 1", n)
	}

	// the audit trail recorded every mutation, scoped to the project
	resp = api.get("/v1/audit", url.Values{"project_id": []string{project.ID}}, adminAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit status: %d", resp.StatusCode)
	}
	trail := decode[map[string]any](t, resp)
	entries := trail["entries"].([]any)
	if len(entries) < 5 {
		t.Fatalf("audit entries = %d, want at least 5", len(entries))
	}
	actions := make(map[string]bool)
	for _, e := range entries {
		actions[e.(map[string]any)["action"].(string)] = true
	}
	for _, want := range []string{"CREATE", "STATUS_CHANGE"} {
		if !actions[want] {
			t.Fatalf("audit trail missing action %s: %v", want, actions)
		}
	}
}

func TestAuditEndpointIsAdminOnly(t *testing.T) {
	api, sender := newTestAPI(t)
	email := "viewer@example.com"

	resp := api.post("/v1/auth/register", map[string]any{
		"name":     "Plain User",
		"email":    email,
		"phone":    "+4599887766",
		"password": "plain-pass-123",
	}, nil)
	resp.Body.Close()
	resp = api.post("/v1/auth/verify-registration", map[string]any{
		"email": email,
		"otp":   sender.code(t, email, "registration"),
	}, nil)
	created := decode[map[string]any](t, resp)
	userID := created["user"].(map[string]any)["id"].(string)

	adminAuth := api.login(sender, adminEmail, "admin-pass-123")
	resp = api.post("/v1/admin/users/"+userID+"/approve", nil, adminAuth)
	resp.Body.Close()

	userAuth := api.login(sender, email, "plain-pass-123")
	resp = api.get("/v1/audit", nil, userAuth)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("audit as non-admin: %d, want 403", resp.StatusCode)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.post("/v1/auth/login", map[string]any{
		"identifier": "x@example.com",
		"password":   "pw",
		"surprise":   true,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field status: %d, want 400", resp.StatusCode)
	}
}
