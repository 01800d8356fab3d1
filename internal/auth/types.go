package auth

import "time"

// Global account roles. Project-level roles live in the fleet package.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a durable account. Users are created only by a verified
// registration and cannot authenticate until an admin approves them.
type User struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	PasswordHash string
	Role         string
	IsActive     bool
	IsApproved   bool
	ApprovedAt   *time.Time
	ApprovedBy   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PendingRegistration is an unverified signup. It is promoted to a User on
// a successful OTP check or discarded on expiry; at most one live row
// exists per email/phone identity.
type PendingRegistration struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	PasswordHash string
	OTPCode      string
	OTPExpiresAt time.Time
	CreatedAt    time.Time
}

// LoginChallenge is the second login factor issued after a correct
// password. At most one live challenge exists per user.
type LoginChallenge struct {
	ID           string
	UserID       string
	OTPCode      string
	OTPExpiresAt time.Time
	CreatedAt    time.Time
}

// PasswordResetChallenge tracks the three-step reset flow. A used or
// expired challenge is terminal; retries always mint a new row.
type PasswordResetChallenge struct {
	ID           string
	UserID       string // may be empty if the account vanished after the request
	Email        string
	OTPCode      string
	OTPExpiresAt time.Time
	IsVerified   bool
	Used         bool
	CreatedAt    time.Time
}

// Session is an authenticated bearer credential. Possession of the token
// is authentication; validation never extends the expiry.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}
