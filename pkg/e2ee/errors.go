package e2ee

import "errors"

// Handshake failures (proof, negotiation, confirmation) are unrecoverable
// for the session they occur on: the caller must discard the session and
// start a fresh handshake. Decryption failures on active application
// traffic reject only the offending message.
var (
	// ErrInvalidState marks a method invoked in a state that forbids it.
	// This indicates a caller bug, not a protocol condition.
	ErrInvalidState = errors.New("invalid session state")

	// ErrProofVerification marks a hello whose detached proof did not
	// verify (bad signature, missing material or time drift exceeded).
	ErrProofVerification = errors.New("proof verification failed")

	// ErrNegotiation marks a handshake with no mutual cipher suite or
	// curve group.
	ErrNegotiation = errors.New("negotiation failed")

	// ErrConfirmationMismatch marks a Finished whose key identifier does
	// not match the locally derived one.
	ErrConfirmationMismatch = errors.New("key confirmation mismatch")

	// ErrDecryptFailed marks an AEAD authentication failure.
	ErrDecryptFailed = errors.New("decryption failed")
)
