package bridge

import "errors"

// Validation errors returned by CreateSession. Each names the missing field.
var (
	ErrMissingStreamID   = errors.New("streamId is required")
	ErrMissingOffer      = errors.New("clientOfferSdp is required")
	ErrMissingCredential = errors.New("authCredential is required")
)

var (
	// ErrSessionNotFound is returned by AddCandidate for unknown or closed sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidCandidate wraps candidate parse and apply failures.
	ErrInvalidCandidate = errors.New("invalid ICE candidate")

	errSessionClosed = errors.New("session closed")
	errNoRelayTracks = errors.New("no relay tracks attached to upstream")
)

// IsValidation reports whether err is a CreateSession input error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingStreamID) ||
		errors.Is(err, ErrMissingOffer) ||
		errors.Is(err, ErrMissingCredential)
}
