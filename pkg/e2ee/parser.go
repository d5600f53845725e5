package e2ee

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/agent-network-protocol/anp-e2ee/pkg/cryptoutil"
	"github.com/agent-network-protocol/anp-e2ee/pkg/did"
)

// DefaultMaxTimeDrift bounds the age of a hello proof's created timestamp.
const DefaultMaxTimeDrift = 30 * time.Second

// MessageType classifies an inbound wire message.
type MessageType int

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeSourceHello
	MessageTypeDestinationHello
	MessageTypeFinished
	MessageTypeEncrypted
	MessageTypeError
)

var validate = validator.New()

// DetectMessageType classifies by the outer transport type tag and, for
// hellos, by the inner e2ee_type field. Unrecognized combinations yield
// MessageTypeUnknown rather than an error.
func DetectMessageType(wireType string, content []byte) MessageType {
	switch wireType {
	case WireTypeHello:
		var inner struct {
			E2EEType string `json:"e2ee_type"`
		}
		if err := json.Unmarshal(content, &inner); err != nil {
			return MessageTypeUnknown
		}
		switch inner.E2EEType {
		case TypeSourceHello:
			return MessageTypeSourceHello
		case TypeDestinationHello:
			return MessageTypeDestinationHello
		}
		return MessageTypeUnknown
	case WireTypeFinished:
		return MessageTypeFinished
	case WireTypeEncrypted:
		return MessageTypeEncrypted
	case WireTypeError:
		return MessageTypeError
	}
	return MessageTypeUnknown
}

// ParseSourceHello validates a raw message into a SourceHello.
func ParseSourceHello(content []byte) (*SourceHello, error) {
	hello := new(SourceHello)
	if err := json.Unmarshal(content, hello); err != nil {
		return nil, fmt.Errorf("unmarshaling source hello: %w", err)
	}
	if err := validate.Struct(hello); err != nil {
		return nil, fmt.Errorf("validating source hello: %w", err)
	}
	return hello, nil
}

// ParseDestinationHello validates a raw message into a DestinationHello.
func ParseDestinationHello(content []byte) (*DestinationHello, error) {
	hello := new(DestinationHello)
	if err := json.Unmarshal(content, hello); err != nil {
		return nil, fmt.Errorf("unmarshaling destination hello: %w", err)
	}
	if err := validate.Struct(hello); err != nil {
		return nil, fmt.Errorf("validating destination hello: %w", err)
	}
	return hello, nil
}

// ParseFinished validates a raw message into a Finished.
func ParseFinished(content []byte) (*Finished, error) {
	msg := new(Finished)
	if err := json.Unmarshal(content, msg); err != nil {
		return nil, fmt.Errorf("unmarshaling finished: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("validating finished: %w", err)
	}
	return msg, nil
}

// ParseEncryptedMessage validates a raw message into an EncryptedMessage.
func ParseEncryptedMessage(content []byte) (*EncryptedMessage, error) {
	msg := new(EncryptedMessage)
	if err := json.Unmarshal(content, msg); err != nil {
		return nil, fmt.Errorf("unmarshaling encrypted message: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("validating encrypted message: %w", err)
	}
	return msg, nil
}

// ParseError validates a raw message into an ErrorMessage.
func ParseError(content []byte) (*ErrorMessage, error) {
	msg := new(ErrorMessage)
	if err := json.Unmarshal(content, msg); err != nil {
		return nil, fmt.Errorf("unmarshaling error message: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("validating error message: %w", err)
	}
	return msg, nil
}

// VerifyHelloProof verifies the detached proof of a parsed hello
// (*SourceHello or *DestinationHello): the signer's public key is recovered
// from the embedded verification method, the canonical form is recomputed
// with proof_value stripped, and created must lie within maxDrift of the
// local clock. Ordinary verification failures are reported as
// ErrProofVerification.
func VerifyHelloProof(hello any, maxDrift time.Duration) (*ecdsa.PublicKey, error) {
	raw, err := json.Marshal(hello)
	if err != nil {
		return nil, fmt.Errorf("marshaling hello: %w", err)
	}

	publicKey, err := did.VerifyProof(raw, maxDrift)
	if err != nil {
		if errors.Is(err, did.ErrInvalidProof) {
			return nil, fmt.Errorf("%w: %v", ErrProofVerification, err)
		}
		return nil, err
	}

	return publicKey, nil
}

// DecryptMessage decrypts an application message under key and returns the
// original type tag with the plaintext. AEAD authentication failure is
// reported as ErrDecryptFailed, distinguishable from schema failures.
func DecryptMessage(msg *EncryptedMessage, key []byte) (string, []byte, error) {
	plaintext, err := cryptoutil.Decrypt(key, &msg.Encrypted)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return msg.OriginalType, plaintext, nil
}
