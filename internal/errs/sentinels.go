// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Credential and session failures surfaced to callers.
var (
	// ErrInvalidCredentials is the single login failure; it never tells
	// an unknown identifier apart from a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrDuplicateAccount indicates the login identifier is already taken.
	ErrDuplicateAccount = errors.New("account already exists")

	// ErrMissingToken indicates no bearer token was presented.
	ErrMissingToken = errors.New("missing token")

	// ErrInvalidToken indicates a session token with a bad signature, shape or expiry.
	ErrInvalidToken = errors.New("invalid token")

	// ErrForbidden indicates a valid session whose role is not permitted.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidOrExpiredToken indicates an unknown, consumed or expired reset secret.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")

	// ErrStoreUnavailable wraps account store transport failures and timeouts.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrMailUnavailable wraps mail delivery failures and timeouts.
	ErrMailUnavailable = errors.New("mail unavailable")
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed or missing input fields.
	ErrValidation = errors.New("validation failed")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")
)
