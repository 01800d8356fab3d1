package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// captureSender records delivered codes instead of sending mail.
type captureSender struct {
	mu          sync.Mutex
	codes       map[string]string
	adminAlerts int
	approvals   int
}

func newCaptureSender() *captureSender {
	return &captureSender{codes: make(map[string]string)}
}

func (s *captureSender) SendOTP(_ context.Context, _, code, purpose string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[purpose] = code
	return nil
}

func (s *captureSender) SendAdminAlert(_ context.Context, _, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminAlerts++
	return nil
}

func (s *captureSender) SendApprovalNotice(_ context.Context, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals++
	return nil
}

func (s *captureSender) code(purpose string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[purpose]
}

// wrongCode returns a six-digit code guaranteed to differ from the real
// one.
func wrongCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}

func newTestService(t *testing.T) (*Service, *InMemory, *captureSender, *fakeClock) {
	t.Helper()
	store := NewInMemory()
	sender := newCaptureSender()
	clock := newFakeClock()
	svc := NewService(store, WithSender(sender), WithClock(clock.Now))
	return svc, store, sender, clock
}

func seedUser(t *testing.T, store *InMemory, email, phone, password, role string, approved bool) *User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &User{
		ID:           "user-" + email,
		Name:         "Seed User",
		Email:        email,
		Phone:        phone,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		IsApproved:   approved,
		CreatedAt:    time.Now(),
	}
	store.users[u.ID] = u
	return u
}

func TestRegistrationLoginFlow(t *testing.T) {
	svc, store, sender, clock := newTestService(t)
	ctx := context.Background()

	if err := svc.Register(ctx, "Aigerim", "aigerim@example.com", "+77010000001", "s3cret-pass"); err != nil {
		t.Fatalf("register: %v", err)
	}
	code := sender.code("registration")
	if len(code) != 6 {
		t.Fatalf("want 6-digit code, got %q", code)
	}

	if _, err := svc.VerifyRegistration(ctx, "aigerim@example.com", wrongCode(code)); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("wrong code: want ErrInvalidOTP, got %v", err)
	}
	user, err := svc.VerifyRegistration(ctx, "aigerim@example.com", code)
	if err != nil {
		t.Fatalf("verify registration: %v", err)
	}
	if user.IsApproved {
		t.Fatal("new user must not be approved")
	}
	if sender.adminAlerts != 1 {
		t.Fatalf("want 1 admin alert, got %d", sender.adminAlerts)
	}

	// replay of the consumed registration
	if _, err := svc.VerifyRegistration(ctx, "aigerim@example.com", code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("replay: want ErrNotFound, got %v", err)
	}

	// login is gated on approval
	if _, err := svc.Login(ctx, "aigerim@example.com", "s3cret-pass"); !errors.Is(err, ErrPendingApproval) {
		t.Fatalf("unapproved login: want ErrPendingApproval, got %v", err)
	}

	admin := seedUser(t, store, "admin@example.com", "+77010000999", "admin-pass", RoleAdmin, true)
	if _, err := svc.Approve(ctx, admin.ID, user.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if sender.approvals != 1 {
		t.Fatalf("want 1 approval notice, got %d", sender.approvals)
	}
	if _, err := svc.Approve(ctx, admin.ID, user.ID); !errors.Is(err, ErrAlreadyApproved) {
		t.Fatalf("second approve: want ErrAlreadyApproved, got %v", err)
	}

	// full login: password, then OTP
	got, err := svc.Login(ctx, "aigerim@example.com", "s3cret-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	loginCode := sender.code("login")
	sess, err := svc.CompleteLogin(ctx, got.ID, loginCode)
	if err != nil {
		t.Fatalf("complete login: %v", err)
	}
	if len(sess.Token) != 64 {
		t.Fatalf("want 64-char session token, got %d", len(sess.Token))
	}

	current, err := svc.ValidateSession(ctx, sess.Token)
	if err != nil {
		t.Fatalf("validate session: %v", err)
	}
	if current.ID != user.ID {
		t.Fatalf("session resolves to %s, want %s", current.ID, user.ID)
	}

	// challenge is single-use
	if _, err := svc.CompleteLogin(ctx, got.ID, loginCode); !errors.Is(err, ErrNotFound) {
		t.Fatalf("challenge replay: want ErrNotFound, got %v", err)
	}

	// non-sliding expiry
	clock.Advance(24*time.Hour + time.Minute)
	if _, err := svc.ValidateSession(ctx, sess.Token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expired session: want ErrSessionExpired, got %v", err)
	}
}

func TestRegisterConflictAndReplace(t *testing.T) {
	svc, store, sender, _ := newTestService(t)
	ctx := context.Background()

	seedUser(t, store, "taken@example.com", "+77010000002", "pw-aaaaaa", RoleUser, true)
	if err := svc.Register(ctx, "X", "taken@example.com", "+77019999999", "pw-bbbbbb"); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}

	// resubmission replaces the pending record and its code
	if err := svc.Register(ctx, "Y", "fresh@example.com", "+77010000003", "pw-cccccc"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	first := sender.code("registration")
	if err := svc.Register(ctx, "Y", "fresh@example.com", "+77010000003", "pw-dddddd"); err != nil {
		t.Fatalf("second register: %v", err)
	}
	second := sender.code("registration")
	if first == second {
		t.Fatal("resubmission must mint a fresh code")
	}
	if _, err := svc.VerifyRegistration(ctx, "fresh@example.com", first); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("stale code: want ErrInvalidOTP, got %v", err)
	}
	if _, err := svc.VerifyRegistration(ctx, "fresh@example.com", second); err != nil {
		t.Fatalf("fresh code: %v", err)
	}
}

func TestRegistrationOTPExpiryAndResend(t *testing.T) {
	svc, _, sender, clock := newTestService(t)
	ctx := context.Background()

	if err := svc.Register(ctx, "Z", "slow@example.com", "+77010000004", "pw-eeeeee"); err != nil {
		t.Fatalf("register: %v", err)
	}
	code := sender.code("registration")

	clock.Advance(6 * time.Minute)
	if _, err := svc.VerifyRegistration(ctx, "slow@example.com", code); !errors.Is(err, ErrExpiredOTP) {
		t.Fatalf("want ErrExpiredOTP, got %v", err)
	}

	if err := svc.ResendRegistrationOTP(ctx, "slow@example.com"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if _, err := svc.VerifyRegistration(ctx, "slow@example.com", sender.code("registration")); err != nil {
		t.Fatalf("verify after resend: %v", err)
	}
}

func TestLoginDoesNotLeakAccounts(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	seedUser(t, store, "known@example.com", "+77010000005", "right-pass", RoleUser, true)

	_, unknownErr := svc.Login(ctx, "ghost@example.com", "whatever-pw")
	_, wrongErr := svc.Login(ctx, "known@example.com", "wrong-pass")
	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("want identical ErrInvalidCredentials, got %v / %v", unknownErr, wrongErr)
	}

	inactive := seedUser(t, store, "off@example.com", "+77010000006", "right-pass", RoleUser, true)
	store.users[inactive.ID].IsActive = false
	if _, err := svc.Login(ctx, "off@example.com", "right-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("inactive login: want ErrInvalidCredentials, got %v", err)
	}

	// phone works as identifier
	if _, err := svc.Login(ctx, "+77010000005", "right-pass"); err != nil {
		t.Fatalf("phone login: %v", err)
	}
}

func TestLoginAcceptsMixedCaseEmail(t *testing.T) {
	svc, store, sender, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Register(ctx, "Case", "Case.User@Example.COM", "+77010000018", "pw-case-1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	user, err := svc.VerifyRegistration(ctx, "Case.User@Example.COM", sender.code("registration"))
	if err != nil {
		t.Fatalf("verify registration: %v", err)
	}
	if user.Email != "case.user@example.com" {
		t.Fatalf("stored email = %q, want lowercase", user.Email)
	}
	admin := seedUser(t, store, "ops@example.com", "+77010000019", "admin-pass", RoleAdmin, true)
	if _, err := svc.Approve(ctx, admin.ID, user.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// the email exactly as typed at registration must work
	if _, err := svc.Login(ctx, "Case.User@Example.COM", "pw-case-1"); err != nil {
		t.Fatalf("mixed-case login: %v", err)
	}
	if _, err := svc.Login(ctx, "case.user@example.com", "pw-case-1"); err != nil {
		t.Fatalf("lowercase login: %v", err)
	}
}

func TestNewLoginRevokesPriorSession(t *testing.T) {
	svc, store, sender, _ := newTestService(t)
	ctx := context.Background()

	user := seedUser(t, store, "serial@example.com", "+77010000007", "pass-word", RoleUser, true)

	login := func() *Session {
		if _, err := svc.Login(ctx, user.Email, "pass-word"); err != nil {
			t.Fatalf("login: %v", err)
		}
		sess, err := svc.CompleteLogin(ctx, user.ID, sender.code("login"))
		if err != nil {
			t.Fatalf("complete login: %v", err)
		}
		return sess
	}

	first := login()
	second := login()

	if _, err := svc.ValidateSession(ctx, first.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old session: want ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.ValidateSession(ctx, second.Token); err != nil {
		t.Fatalf("new session: %v", err)
	}

	// logout is idempotent
	if err := svc.Logout(ctx, second.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := svc.Logout(ctx, second.Token); err != nil {
		t.Fatalf("second logout: %v", err)
	}
}

func TestConcurrentVerifyCreatesOneUser(t *testing.T) {
	svc, store, sender, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Register(ctx, "Race", "race@example.com", "+77010000008", "pw-racing"); err != nil {
		t.Fatalf("register: %v", err)
	}
	code := sender.code("registration")

	const workers = 100
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.VerifyRegistration(ctx, "race@example.com", code); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("want exactly 1 winner, got %d", wins)
	}
	count := 0
	for _, u := range store.users {
		if u.Email == "race@example.com" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("want exactly 1 user, got %d", count)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc, store, sender, _ := newTestService(t)
	ctx := context.Background()

	user := seedUser(t, store, "reset@example.com", "+77010000009", "old-pass", RoleUser, true)

	// unknown address: silent success, nothing delivered
	if err := svc.RequestReset(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("request for unknown: %v", err)
	}
	if sender.code("password_reset") != "" {
		t.Fatal("no code may be delivered for an unknown address")
	}

	if err := svc.RequestReset(ctx, "reset@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	code := sender.code("password_reset")

	// completing without verifying first is rejected
	if err := svc.CompleteReset(ctx, "reset@example.com", code, "new-pass"); !errors.Is(err, ErrResetNotVerified) {
		t.Fatalf("want ErrResetNotVerified, got %v", err)
	}

	if err := svc.VerifyResetOTP(ctx, "reset@example.com", wrongCode(code)); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("wrong code: want ErrInvalidOTP, got %v", err)
	}
	if err := svc.VerifyResetOTP(ctx, "reset@example.com", code); err != nil {
		t.Fatalf("verify reset: %v", err)
	}
	if err := svc.CompleteReset(ctx, "reset@example.com", code, "new-pass"); err != nil {
		t.Fatalf("complete reset: %v", err)
	}

	// used challenge is terminal, even with the right code
	if err := svc.CompleteReset(ctx, "reset@example.com", code, "other-pass"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("used challenge: want ErrNotFound, got %v", err)
	}

	if _, err := svc.Login(ctx, user.Email, "new-pass"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, err := svc.Login(ctx, user.Email, "old-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must fail, got %v", err)
	}
}

func TestResetResendClearsVerification(t *testing.T) {
	svc, store, sender, _ := newTestService(t)
	ctx := context.Background()

	seedUser(t, store, "careful@example.com", "+77010000010", "old-pass", RoleUser, true)
	if err := svc.RequestReset(ctx, "careful@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if err := svc.VerifyResetOTP(ctx, "careful@example.com", sender.code("password_reset")); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := svc.ResendResetOTP(ctx, "careful@example.com"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	// the fresh code must be verified again before completion
	if err := svc.CompleteReset(ctx, "careful@example.com", sender.code("password_reset"), "new-pass"); !errors.Is(err, ErrResetNotVerified) {
		t.Fatalf("want ErrResetNotVerified after resend, got %v", err)
	}
}

func TestResetRevokesSessions(t *testing.T) {
	svc, store, sender, _ := newTestService(t)
	ctx := context.Background()

	user := seedUser(t, store, "locked@example.com", "+77010000011", "old-pass", RoleUser, true)
	if _, err := svc.Login(ctx, user.Email, "old-pass"); err != nil {
		t.Fatalf("login: %v", err)
	}
	sess, err := svc.CompleteLogin(ctx, user.ID, sender.code("login"))
	if err != nil {
		t.Fatalf("complete login: %v", err)
	}

	if err := svc.RequestReset(ctx, user.Email); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	code := sender.code("password_reset")
	if err := svc.VerifyResetOTP(ctx, user.Email, code); err != nil {
		t.Fatalf("verify reset: %v", err)
	}
	if err := svc.CompleteReset(ctx, user.Email, code, "new-pass"); err != nil {
		t.Fatalf("complete reset: %v", err)
	}

	if _, err := svc.ValidateSession(ctx, sess.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session must be revoked by reset, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	user := seedUser(t, store, "rotate@example.com", "+77010000012", "old-pass", RoleUser, true)

	if err := svc.ChangePassword(ctx, user.ID, "wrong-pass", "new-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID, "old-pass", "new-pass"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := svc.Login(ctx, user.Email, "new-pass"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestAdminGates(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	admin := seedUser(t, store, "boss@example.com", "+77010000013", "admin-pass", RoleAdmin, true)
	plain := seedUser(t, store, "plain@example.com", "+77010000014", "plain-pass", RoleUser, true)
	pending := seedUser(t, store, "new@example.com", "+77010000015", "new-pass", RoleUser, false)

	if _, err := svc.Approve(ctx, plain.ID, pending.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin approve: want ErrForbidden, got %v", err)
	}
	if _, err := svc.PendingUsers(ctx, plain.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin list: want ErrForbidden, got %v", err)
	}

	users, err := svc.PendingUsers(ctx, admin.ID)
	if err != nil {
		t.Fatalf("pending users: %v", err)
	}
	if len(users) != 1 || users[0].ID != pending.ID {
		t.Fatalf("want the pending user, got %d entries", len(users))
	}

	if err := svc.DeleteUser(ctx, admin.ID, pending.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := store.Users(ctx).Find(ctx, pending.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted user still present: %v", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	svc, store, _, clock := newTestService(t)
	ctx := context.Background()

	if err := svc.Register(ctx, "Stale", "stale@example.com", "+77010000016", "pw-stale1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	clock.Advance(10 * time.Minute)
	if err := svc.CleanupExpired(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(store.registrations) != 0 {
		t.Fatalf("want 0 pending registrations, got %d", len(store.registrations))
	}
}

func TestTokenExchange(t *testing.T) {
	store := NewInMemory()
	sender := newCaptureSender()
	issuer, err := NewTokenIssuer("test-secret-please-rotate", "windscope-test")
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	svc := NewService(store, WithSender(sender), WithTokenIssuer(issuer))
	ctx := context.Background()

	user := seedUser(t, store, "api@example.com", "+77010000017", "api-pass-1", RoleUser, true)
	if _, err := svc.Login(ctx, user.Email, "api-pass-1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	sess, err := svc.CompleteLogin(ctx, user.ID, sender.code("login"))
	if err != nil {
		t.Fatalf("complete login: %v", err)
	}

	signed, expiresAt, err := svc.ExchangeToken(ctx, sess.Token)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatal("token already expired")
	}
	got, err := svc.AuthenticateAPIToken(ctx, signed)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("token resolves to %s, want %s", got.ID, user.ID)
	}

	if _, _, err := svc.ExchangeToken(ctx, "no-such-session"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}
