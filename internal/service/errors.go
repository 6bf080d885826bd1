package service

import "errors"

// Challenge flow errors used by handlers for stable error_type mapping.
// CodeMismatch leaves the challenge pending (caller may retry); the rest
// require the caller to start over with a fresh challenge.
var (
	ErrInvalidIdentity   = errors.New("invalid_identity")
	ErrChallengeNotFound = errors.New("challenge_not_found")
	ErrAlreadyResolved   = errors.New("challenge_already_resolved")
	ErrChallengeExpired  = errors.New("challenge_expired")
	ErrTooManyAttempts   = errors.New("too_many_attempts")
	ErrCodeMismatch      = errors.New("code_mismatch")
	ErrResendCooldown    = errors.New("resend_cooldown")
)
