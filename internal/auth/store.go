package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// Promote/Consume methods must be atomic with respect to concurrent calls
// for the same row: exactly one caller wins, the rest get ErrNotFound.
type Store interface {
	Users(ctx context.Context) UserStore
	Registrations(ctx context.Context) RegistrationStore
	LoginChallenges(ctx context.Context) LoginChallengeStore
	PasswordResets(ctx context.Context) PasswordResetStore
	Sessions(ctx context.Context) SessionStore
}

// UserStore manages durable accounts.
type UserStore interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// FindByIdentifier resolves a login identifier that may be an email
	// address or a phone number.
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)
	ExistsByEmailOrPhone(ctx context.Context, email, phone string) (bool, error)
	List(ctx context.Context) ([]*User, error)
	ListPending(ctx context.Context) ([]*User, error)
	// Approve flips the approval flag. It reports false without error when
	// the user was already approved.
	Approve(ctx context.Context, userID, adminID string, at time.Time) (bool, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	Delete(ctx context.Context, id string) error
}

// RegistrationStore manages pending registrations.
type RegistrationStore interface {
	// Replace removes any pending registration for the same email or phone
	// and inserts the new one, so a resubmission invalidates the prior OTP.
	Replace(ctx context.Context, reg *PendingRegistration) error
	FindNewestByEmail(ctx context.Context, email string) (*PendingRegistration, error)
	UpdateOTP(ctx context.Context, id, code string, expiresAt time.Time) error
	// Promote atomically deletes the pending registration and creates the
	// user. Returns ErrNotFound when the registration was already consumed.
	Promote(ctx context.Context, regID string, u *User) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// LoginChallengeStore manages second-factor login challenges.
type LoginChallengeStore interface {
	// Replace removes any live challenge for the user and inserts the new
	// one; at most one challenge is valid per user.
	Replace(ctx context.Context, ch *LoginChallenge) error
	FindByUserID(ctx context.Context, userID string) (*LoginChallenge, error)
	UpdateOTP(ctx context.Context, id, code string, expiresAt time.Time) error
	// Promote atomically deletes the challenge, revokes the user's existing
	// sessions and inserts the new one. Returns ErrNotFound when the
	// challenge was already consumed.
	Promote(ctx context.Context, challengeID string, s *Session) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// PasswordResetStore manages reset challenges.
type PasswordResetStore interface {
	// Replace removes any reset challenge for the email and inserts the
	// new one.
	Replace(ctx context.Context, ch *PasswordResetChallenge) error
	FindByEmail(ctx context.Context, email string) (*PasswordResetChallenge, error)
	MarkVerified(ctx context.Context, id string) error
	// UpdateOTP installs a fresh code and clears the verified flag.
	UpdateOTP(ctx context.Context, id, code string, expiresAt time.Time) error
	// Consume atomically marks the challenge used, updates the user's
	// password hash and revokes all of the user's sessions. Returns
	// ErrNotFound when the challenge was already used.
	Consume(ctx context.Context, id, userID, passwordHash string) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionStore manages bearer sessions.
type SessionStore interface {
	FindByToken(ctx context.Context, token string) (*Session, error)
	DeleteByToken(ctx context.Context, token string) error
	DeleteByUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
