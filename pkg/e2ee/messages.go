// Package e2ee implements end-to-end encrypted sessions between two DIDs:
// the signed ephemeral-ECDH handshake, key confirmation, application
// payload encryption and the multi-session key manager. The transport that
// carries the wire messages is external; this package only builds and
// consumes the message bodies.
package e2ee

import (
	"github.com/agent-network-protocol/anp-e2ee/pkg/cryptoutil"
	"github.com/agent-network-protocol/anp-e2ee/pkg/did"
)

// MessageVersion is the protocol version offered and selected in hellos.
const MessageVersion = "1.0"

// Inner e2ee_type tags of the handshake messages.
const (
	TypeSourceHello      = "source_hello"
	TypeDestinationHello = "destination_hello"
	TypeFinished         = "finished"
)

// Outer transport-level type tags. The transport delivers each wire
// message wrapped in an envelope carrying one of these.
const (
	WireTypeHello     = "e2ee_hello"
	WireTypeFinished  = "e2ee_finished"
	WireTypeEncrypted = "e2ee"
	WireTypeError     = "e2ee_error"
)

// Error codes signaled to a peer.
const (
	ErrorCodeKeyExpired  = "key_expired"
	ErrorCodeKeyNotFound = "key_not_found"
)

// KeyShare is one party's ephemeral public key offer for a named curve
// group, with the offered key lifetime in seconds.
type KeyShare struct {
	Group       string `json:"group" validate:"required"`
	Expires     int    `json:"expires" validate:"required,gt=0"`
	KeyExchange string `json:"key_exchange" validate:"required,hexadecimal"`
}

// SourceHello opens a handshake. Field names are normative for interop.
type SourceHello struct {
	E2EEType           string                 `json:"e2ee_type" validate:"required,eq=source_hello"`
	Version            string                 `json:"version" validate:"required"`
	SessionID          string                 `json:"session_id" validate:"required,len=16,hexadecimal"`
	SourceDID          string                 `json:"source_did" validate:"required"`
	DestinationDID     string                 `json:"destination_did" validate:"required"`
	Random             string                 `json:"random" validate:"required,hexadecimal"`
	SupportedVersions  []string               `json:"supported_versions" validate:"required,min=1"`
	CipherSuites       []string               `json:"cipher_suites" validate:"required,min=1"`
	SupportedGroups    []string               `json:"supported_groups" validate:"required,min=1"`
	KeyShares          []KeyShare             `json:"key_shares" validate:"required,min=1,dive"`
	VerificationMethod did.VerificationMethod `json:"verification_method" validate:"required"`
	Proof              did.Proof              `json:"proof" validate:"required"`
}

// DestinationHello answers a SourceHello with the selected version, cipher
// suite and the responder's single key share.
type DestinationHello struct {
	E2EEType           string                 `json:"e2ee_type" validate:"required,eq=destination_hello"`
	Version            string                 `json:"version" validate:"required"`
	SessionID          string                 `json:"session_id" validate:"required,len=16,hexadecimal"`
	SourceDID          string                 `json:"source_did" validate:"required"`
	DestinationDID     string                 `json:"destination_did" validate:"required"`
	Random             string                 `json:"random" validate:"required,hexadecimal"`
	SelectedVersion    string                 `json:"selected_version" validate:"required"`
	CipherSuite        string                 `json:"cipher_suite" validate:"required"`
	KeyShare           KeyShare               `json:"key_share" validate:"required"`
	VerificationMethod did.VerificationMethod `json:"verification_method" validate:"required"`
	Proof              did.Proof              `json:"proof" validate:"required"`
}

// Finished proves possession of the derived traffic keys: verify_data is
// the encrypted short key identifier.
type Finished struct {
	E2EEType   string                  `json:"e2ee_type" validate:"required,eq=finished"`
	SessionID  string                  `json:"session_id" validate:"required,len=16,hexadecimal"`
	VerifyData cryptoutil.EncryptedBlob `json:"verify_data" validate:"required"`
}

// finishedPayload is the plaintext carried inside Finished.verify_data.
type finishedPayload struct {
	SecretKeyID string `json:"secretKeyId"`
}

// EncryptedMessage carries application payload under an active session key.
type EncryptedMessage struct {
	SecretKeyID  string                  `json:"secret_key_id" validate:"required"`
	OriginalType string                  `json:"original_type" validate:"required"`
	Encrypted    cryptoutil.EncryptedBlob `json:"encrypted" validate:"required"`
}

// ErrorMessage signals key_expired / key_not_found to a peer.
type ErrorMessage struct {
	ErrorCode   string `json:"error_code" validate:"required,oneof=key_expired key_not_found"`
	SecretKeyID string `json:"secret_key_id,omitempty"`
}
