package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"windscope.org/internal/obs"
)

const (
	defaultOTPTTL     = 5 * time.Minute
	defaultSessionTTL = 24 * time.Hour
)

// Sender delivers one-time codes and account notices. Delivery is
// fire-and-forget: the service logs failures and the flow proceeds.
type Sender interface {
	SendOTP(ctx context.Context, email, code, purpose string) error
	SendAdminAlert(ctx context.Context, name, email, phone string) error
	SendApprovalNotice(ctx context.Context, email, name string) error
}

// Service implements the registration, login, password-reset and session
// state machines on top of a Store.
type Service struct {
	store      Store
	sender     Sender
	tokens     *TokenIssuer
	now        func() time.Time
	otpTTL     time.Duration
	sessionTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithSender wires the OTP delivery channel.
func WithSender(s Sender) ServiceOption {
	return func(svc *Service) { svc.sender = s }
}

// WithTokenIssuer enables session-to-JWT exchange.
func WithTokenIssuer(t *TokenIssuer) ServiceOption {
	return func(svc *Service) { svc.tokens = t }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(svc *Service) {
		if fn != nil {
			svc.now = fn
		}
	}
}

// WithOTPTTL configures one-time code lifetime.
func WithOTPTTL(ttl time.Duration) ServiceOption {
	return func(svc *Service) {
		if ttl > 0 {
			svc.otpTTL = ttl
		}
	}
}

// WithSessionTTL configures bearer session lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(svc *Service) {
		if ttl > 0 {
			svc.sessionTTL = ttl
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...ServiceOption) *Service {
	svc := &Service{
		store:      store,
		now:        time.Now,
		otpTTL:     defaultOTPTTL,
		sessionTTL: defaultSessionTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Registration ------------------------------------------------------------

// Register starts a registration: it stores a pending record guarded by a
// fresh OTP and mails the code. A resubmission for the same identity
// replaces the earlier pending record, so only one OTP stays valid.
func (s *Service) Register(ctx context.Context, name, email, phone, password string) error {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	phone = strings.TrimSpace(phone)
	if name == "" || email == "" || phone == "" || password == "" {
		return ErrInvalidInput
	}

	exists, err := s.store.Users(ctx).ExistsByEmailOrPhone(ctx, email, phone)
	if err != nil {
		return err
	}
	if exists {
		return ErrConflict
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	code, err := GenerateOTP()
	if err != nil {
		return err
	}

	reg := &PendingRegistration{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		Phone:        phone,
		PasswordHash: hash,
		OTPCode:      code,
		OTPExpiresAt: s.now().Add(s.otpTTL),
		CreatedAt:    s.now(),
	}
	if err := s.store.Registrations(ctx).Replace(ctx, reg); err != nil {
		return err
	}
	obs.OTPIssued("registration")
	s.deliverOTP(ctx, email, code, "registration")
	return nil
}

// VerifyRegistration checks the OTP and promotes the pending registration
// to a real (unapproved) User. A replay after success gets ErrNotFound;
// under concurrent calls exactly one user is created.
func (s *Service) VerifyRegistration(ctx context.Context, email, otp string) (*User, error) {
	email = normalizeEmail(email)
	reg, err := s.store.Registrations(ctx).FindNewestByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if s.now().After(reg.OTPExpiresAt) {
		obs.OTPRejected("registration", "expired")
		return nil, ErrExpiredOTP
	}
	if !MatchOTP(reg.OTPCode, otp) {
		obs.OTPRejected("registration", "mismatch")
		return nil, ErrInvalidOTP
	}

	user := &User{
		ID:           uuid.NewString(),
		Name:         reg.Name,
		Email:        reg.Email,
		Phone:        reg.Phone,
		PasswordHash: reg.PasswordHash,
		Role:         RoleUser,
		IsActive:     true,
		IsApproved:   false,
		CreatedAt:    s.now(),
	}
	if err := s.store.Registrations(ctx).Promote(ctx, reg.ID, user); err != nil {
		return nil, err
	}

	if s.sender != nil {
		if err := s.sender.SendAdminAlert(ctx, user.Name, user.Email, user.Phone); err != nil {
			obs.Log(map[string]any{"level": "warn", "msg": "admin alert failed", "email": user.Email, "err": err.Error()})
		}
	}
	return user, nil
}

// ResendRegistrationOTP installs a fresh code on the live pending
// registration, invalidating the previous one.
func (s *Service) ResendRegistrationOTP(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	reg, err := s.store.Registrations(ctx).FindNewestByEmail(ctx, email)
	if err != nil {
		return err
	}
	code, err := GenerateOTP()
	if err != nil {
		return err
	}
	if err := s.store.Registrations(ctx).UpdateOTP(ctx, reg.ID, code, s.now().Add(s.otpTTL)); err != nil {
		return err
	}
	obs.OTPIssued("registration")
	s.deliverOTP(ctx, email, code, "registration")
	return nil
}

// Login and sessions ------------------------------------------------------

// Login verifies credentials behind the approval gate and, on success,
// issues a login challenge (second factor). An unknown identifier and a
// wrong password are indistinguishable to the caller; a correct password
// on an unapproved account is the one distinct failure.
func (s *Service) Login(ctx context.Context, identifier, password string) (*User, error) {
	// Emails are stored lowercased; lowering is a no-op for phone numbers.
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	user, err := s.store.Users(ctx).FindByIdentifier(ctx, identifier)
	if err != nil {
		// Not-found collapses into the credential error to avoid account
		// enumeration.
		return nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsApproved {
		return nil, ErrPendingApproval
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	code, err := GenerateOTP()
	if err != nil {
		return nil, err
	}
	ch := &LoginChallenge{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		OTPCode:      code,
		OTPExpiresAt: s.now().Add(s.otpTTL),
		CreatedAt:    s.now(),
	}
	if err := s.store.LoginChallenges(ctx).Replace(ctx, ch); err != nil {
		return nil, err
	}
	obs.OTPIssued("login")
	s.deliverOTP(ctx, user.Email, code, "login")
	return user, nil
}

// CompleteLogin consumes the user's live challenge and issues a session.
// The previous sessions of the user are revoked in the same step.
func (s *Service) CompleteLogin(ctx context.Context, userID, otp string) (*Session, error) {
	ch, err := s.store.LoginChallenges(ctx).FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.now().After(ch.OTPExpiresAt) {
		obs.OTPRejected("login", "expired")
		return nil, ErrExpiredOTP
	}
	if !MatchOTP(ch.OTPCode, otp) {
		obs.OTPRejected("login", "mismatch")
		return nil, ErrInvalidOTP
	}

	token, err := GenerateSessionToken()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		ExpiresAt: s.now().Add(s.sessionTTL),
		CreatedAt: s.now(),
	}
	if err := s.store.LoginChallenges(ctx).Promote(ctx, ch.ID, sess); err != nil {
		return nil, err
	}
	obs.SessionIssued()
	return sess, nil
}

// ResendLoginOTP installs a fresh code on the user's live challenge.
func (s *Service) ResendLoginOTP(ctx context.Context, userID string) error {
	ch, err := s.store.LoginChallenges(ctx).FindByUserID(ctx, userID)
	if err != nil {
		return err
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	code, err := GenerateOTP()
	if err != nil {
		return err
	}
	if err := s.store.LoginChallenges(ctx).UpdateOTP(ctx, ch.ID, code, s.now().Add(s.otpTTL)); err != nil {
		return err
	}
	obs.OTPIssued("login")
	s.deliverOTP(ctx, user.Email, code, "login")
	return nil
}

// ValidateSession resolves a bearer token to its user. Expiry is strict
// and reading never extends it.
func (s *Service) ValidateSession(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	sess, err := s.store.Sessions(ctx).FindByToken(ctx, token)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if s.now().After(sess.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	user, err := s.store.Users(ctx).Find(ctx, sess.UserID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return user, nil
}

// Logout deletes the session. Deleting an absent token is not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.store.Sessions(ctx).DeleteByToken(ctx, token)
}

// ExchangeToken mints a short-lived signed API token from a live session.
func (s *Service) ExchangeToken(ctx context.Context, sessionToken string) (string, time.Time, error) {
	if s.tokens == nil {
		return "", time.Time{}, ErrTokensDisabled
	}
	user, err := s.ValidateSession(ctx, sessionToken)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.tokens.Issue(user)
}

// AuthenticateAPIToken validates a signed API token and loads its user.
func (s *Service) AuthenticateAPIToken(ctx context.Context, token string) (*User, error) {
	if s.tokens == nil {
		return nil, ErrTokensDisabled
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	return s.store.Users(ctx).Find(ctx, claims.Subject)
}

// Password reset -----------------------------------------------------------

// RequestReset starts the reset flow. It reports success whether or not
// the email belongs to an account; a challenge is only written for an
// existing approved user.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrInvalidInput
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil || !user.IsApproved {
		// Do not leak whether the address exists.
		return nil
	}

	code, err := GenerateOTP()
	if err != nil {
		return err
	}
	ch := &PasswordResetChallenge{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		Email:        email,
		OTPCode:      code,
		OTPExpiresAt: s.now().Add(s.otpTTL),
		CreatedAt:    s.now(),
	}
	if err := s.store.PasswordResets(ctx).Replace(ctx, ch); err != nil {
		return err
	}
	obs.OTPIssued("reset")
	s.deliverOTP(ctx, email, code, "password_reset")
	return nil
}

// VerifyResetOTP marks the challenge verified on a correct, unexpired
// code. It does not yet allow the password change.
func (s *Service) VerifyResetOTP(ctx context.Context, email, otp string) error {
	email = normalizeEmail(email)
	ch, err := s.store.PasswordResets(ctx).FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if ch.Used {
		return ErrNotFound
	}
	if s.now().After(ch.OTPExpiresAt) {
		obs.OTPRejected("reset", "expired")
		return ErrExpiredOTP
	}
	if !MatchOTP(ch.OTPCode, otp) {
		obs.OTPRejected("reset", "mismatch")
		return ErrInvalidOTP
	}
	return s.store.PasswordResets(ctx).MarkVerified(ctx, ch.ID)
}

// ResendResetOTP installs a fresh code and clears the verified flag, so
// the new code must be verified again.
func (s *Service) ResendResetOTP(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	ch, err := s.store.PasswordResets(ctx).FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if ch.Used {
		return ErrNotFound
	}
	code, err := GenerateOTP()
	if err != nil {
		return err
	}
	if err := s.store.PasswordResets(ctx).UpdateOTP(ctx, ch.ID, code, s.now().Add(s.otpTTL)); err != nil {
		return err
	}
	obs.OTPIssued("reset")
	s.deliverOTP(ctx, email, code, "password_reset")
	return nil
}

// CompleteReset finishes the flow: the challenge must be verified, unused
// and unexpired, and the code must match once more. The used flag flips
// atomically with the password update, and all sessions of the user are
// revoked. A used challenge is terminal regardless of code correctness.
func (s *Service) CompleteReset(ctx context.Context, email, otp, newPassword string) error {
	email = normalizeEmail(email)
	if newPassword == "" {
		return ErrInvalidInput
	}
	ch, err := s.store.PasswordResets(ctx).FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if ch.Used {
		return ErrNotFound
	}
	if !ch.IsVerified {
		return ErrResetNotVerified
	}
	if s.now().After(ch.OTPExpiresAt) {
		return ErrExpiredOTP
	}
	if !MatchOTP(ch.OTPCode, otp) {
		return ErrInvalidOTP
	}

	userID := ch.UserID
	if userID == "" {
		user, err := s.store.Users(ctx).FindByEmail(ctx, email)
		if err != nil {
			return err
		}
		userID = user.ID
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.store.PasswordResets(ctx).Consume(ctx, ch.ID, userID, hash)
}

// ChangePassword updates the password of an authenticated user after
// re-checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if next == "" {
		return ErrInvalidInput
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	return s.store.Users(ctx).UpdatePassword(ctx, userID, hash)
}

// Approval gate ------------------------------------------------------------

// Approve flips the approval flag on the target account. The caller must
// be an admin and is recorded as the approver. Approving twice fails with
// ErrAlreadyApproved.
func (s *Service) Approve(ctx context.Context, adminID, targetID string) (*User, error) {
	admin, err := s.store.Users(ctx).Find(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if admin.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	target, err := s.store.Users(ctx).Find(ctx, targetID)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.Users(ctx).Approve(ctx, targetID, adminID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyApproved
	}

	if s.sender != nil {
		if err := s.sender.SendApprovalNotice(ctx, target.Email, target.Name); err != nil {
			obs.Log(map[string]any{"level": "warn", "msg": "approval notice failed", "email": target.Email, "err": err.Error()})
		}
	}
	return s.store.Users(ctx).Find(ctx, targetID)
}

// PendingUsers lists accounts awaiting approval. Admin only.
func (s *Service) PendingUsers(ctx context.Context, adminID string) ([]*User, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	return s.store.Users(ctx).ListPending(ctx)
}

// AllUsers lists every account. Admin only.
func (s *Service) AllUsers(ctx context.Context, adminID string) ([]*User, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	return s.store.Users(ctx).List(ctx)
}

// DeleteUser permanently removes an account. Admin only.
func (s *Service) DeleteUser(ctx context.Context, adminID, targetID string) error {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return err
	}
	if _, err := s.store.Users(ctx).Find(ctx, targetID); err != nil {
		return err
	}
	return s.store.Users(ctx).Delete(ctx, targetID)
}

// Maintenance --------------------------------------------------------------

// CleanupExpired removes expired pending registrations, challenges, reset
// rows and sessions. Safe to run on any schedule and concurrently with
// the serving path.
func (s *Service) CleanupExpired(ctx context.Context) error {
	now := s.now()
	if _, err := s.store.Registrations(ctx).DeleteExpired(ctx, now); err != nil {
		return err
	}
	if _, err := s.store.LoginChallenges(ctx).DeleteExpired(ctx, now); err != nil {
		return err
	}
	if _, err := s.store.PasswordResets(ctx).DeleteExpired(ctx, now); err != nil {
		return err
	}
	if _, err := s.store.Sessions(ctx).DeleteExpired(ctx, now); err != nil {
		return err
	}
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, userID string) error {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if user.Role != RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func (s *Service) deliverOTP(ctx context.Context, email, code, purpose string) {
	if s.sender == nil {
		return
	}
	if err := s.sender.SendOTP(ctx, email, code, purpose); err != nil {
		obs.Log(map[string]any{"level": "warn", "msg": "otp delivery failed", "email": email, "purpose": purpose, "err": err.Error()})
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
