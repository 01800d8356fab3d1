package auth

import "errors"

var (
	ErrConflict           = errors.New("auth: identity already registered")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrPendingApproval    = errors.New("auth: account awaiting approval")
	ErrAlreadyApproved    = errors.New("auth: account already approved")
	ErrInvalidOTP         = errors.New("auth: invalid one-time code")
	ErrExpiredOTP         = errors.New("auth: one-time code expired")
	ErrNotFound           = errors.New("auth: not found")
	ErrSessionNotFound    = errors.New("auth: session not found")
	ErrSessionExpired     = errors.New("auth: session expired")
	ErrResetNotVerified   = errors.New("auth: reset code not verified")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrTokensDisabled     = errors.New("auth: api tokens disabled")
)
