package e2ee

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agent-network-protocol/anp-e2ee/pkg/cryptoutil"
	"github.com/agent-network-protocol/anp-e2ee/pkg/did"
)

// Default offers of a SourceHello.
var (
	DefaultSupportedVersions = []string{MessageVersion}
	DefaultCipherSuites      = []string{cryptoutil.CipherSuiteAES128GCMSHA256}
	DefaultSupportedGroups   = []string{cryptoutil.CurveSecp256r1}
)

// HelloParams collects the session material a hello is built from.
type HelloParams struct {
	SessionID      string
	SourceDID      string
	DestinationDID string
	Random         string
	PublicKeyHex   string
	KeyExpires     int
}

// BuildSourceHello assembles and signs the handshake-opening message. The
// proof is computed over the canonical form of the message with an empty
// proof_value, then filled in.
func BuildSourceHello(identity *did.Identity, params HelloParams, cipherSuites []string) (*SourceHello, error) {
	vm, err := identity.VerificationMethod()
	if err != nil {
		return nil, fmt.Errorf("building verification method: %w", err)
	}

	if len(cipherSuites) == 0 {
		cipherSuites = DefaultCipherSuites
	}

	hello := &SourceHello{
		E2EEType:          TypeSourceHello,
		Version:           MessageVersion,
		SessionID:         params.SessionID,
		SourceDID:         params.SourceDID,
		DestinationDID:    params.DestinationDID,
		Random:            params.Random,
		SupportedVersions: DefaultSupportedVersions,
		CipherSuites:      cipherSuites,
		SupportedGroups:   DefaultSupportedGroups,
		KeyShares: []KeyShare{{
			Group:       cryptoutil.CurveSecp256r1,
			Expires:     params.KeyExpires,
			KeyExchange: params.PublicKeyHex,
		}},
		VerificationMethod: *vm,
		Proof: did.Proof{
			Type:               did.ProofTypeSecp256r1,
			Created:            time.Now().UTC().Format(did.CreatedTimeFormat),
			VerificationMethod: identity.VerificationMethodID(),
		},
	}

	hello.Proof.ProofValue, err = identity.SignCanonical(hello)
	if err != nil {
		return nil, fmt.Errorf("signing source hello: %w", err)
	}

	return hello, nil
}

// BuildDestinationHello assembles and signs the responder's answer with the
// selected cipher suite and a single key share.
func BuildDestinationHello(identity *did.Identity, params HelloParams, cipherSuite string) (*DestinationHello, error) {
	vm, err := identity.VerificationMethod()
	if err != nil {
		return nil, fmt.Errorf("building verification method: %w", err)
	}

	hello := &DestinationHello{
		E2EEType:        TypeDestinationHello,
		Version:         MessageVersion,
		SessionID:       params.SessionID,
		SourceDID:       params.SourceDID,
		DestinationDID:  params.DestinationDID,
		Random:          params.Random,
		SelectedVersion: MessageVersion,
		CipherSuite:     cipherSuite,
		KeyShare: KeyShare{
			Group:       cryptoutil.CurveSecp256r1,
			Expires:     params.KeyExpires,
			KeyExchange: params.PublicKeyHex,
		},
		VerificationMethod: *vm,
		Proof: did.Proof{
			Type:               did.ProofTypeSecp256r1,
			Created:            time.Now().UTC().Format(did.CreatedTimeFormat),
			VerificationMethod: identity.VerificationMethodID(),
		},
	}

	hello.Proof.ProofValue, err = identity.SignCanonical(hello)
	if err != nil {
		return nil, fmt.Errorf("signing destination hello: %w", err)
	}

	return hello, nil
}

// BuildFinished derives the short key identifier from both handshake
// randoms and encrypts it under sendKey as the confirmation payload.
func BuildFinished(sessionID, initiatorRandom, responderRandom string, sendKey []byte) (*Finished, error) {
	keyID, err := cryptoutil.DeriveKeyID(initiatorRandom, responderRandom)
	if err != nil {
		return nil, fmt.Errorf("deriving key id: %w", err)
	}

	payload, err := json.Marshal(finishedPayload{SecretKeyID: keyID})
	if err != nil {
		return nil, fmt.Errorf("marshaling verify data: %w", err)
	}

	blob, err := cryptoutil.Encrypt(sendKey, payload)
	if err != nil {
		return nil, fmt.Errorf("encrypting verify data: %w", err)
	}

	return &Finished{
		E2EEType:   TypeFinished,
		SessionID:  sessionID,
		VerifyData: *blob,
	}, nil
}

// BuildEncryptedMessage encrypts application plaintext under key and tags
// it with the session's key identifier and the payload's original type.
func BuildEncryptedMessage(secretKeyID, originalType string, key, plaintext []byte) (*EncryptedMessage, error) {
	blob, err := cryptoutil.Encrypt(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}

	return &EncryptedMessage{
		SecretKeyID:  secretKeyID,
		OriginalType: originalType,
		Encrypted:    *blob,
	}, nil
}

// BuildError builds a key_expired / key_not_found signal for a peer.
func BuildError(errorCode, secretKeyID string) *ErrorMessage {
	return &ErrorMessage{
		ErrorCode:   errorCode,
		SecretKeyID: secretKeyID,
	}
}
