// Package did holds the long-term identity side of the protocol: DID-bound
// ECDSA keys and the detached canonical-JSON proofs they produce. Ephemeral
// handshake keys never appear here.
package did

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/agent-network-protocol/anp-e2ee/pkg/cryptoutil"
)

const (
	ProofTypeSecp256r1              = "EcdsaSecp256r1Signature2019"
	VerificationMethodTypeSecp256r1 = "EcdsaSecp256r1VerificationKey2019"

	// CreatedTimeFormat is the normative proof timestamp layout
	// (UTC, second precision).
	CreatedTimeFormat = "2006-01-02T15:04:05Z"
)

// VerificationMethod carries the signer's long-term public key embedded in
// a hello message.
type VerificationMethod struct {
	ID           string `json:"id" validate:"required"`
	Type         string `json:"type" validate:"required"`
	PublicKeyHex string `json:"public_key_hex" validate:"required"`
}

// Proof is a detached signature over a message (minus the proof_value
// field) made with the signer's long-term DID key.
type Proof struct {
	Type               string `json:"type" validate:"required"`
	Created            string `json:"created" validate:"required"`
	VerificationMethod string `json:"verification_method" validate:"required"`
	ProofValue         string `json:"proof_value,omitempty"`
}

// Identity is a local DID with its long-term P-256 signing key.
type Identity struct {
	DID        string
	privateKey *ecdsa.PrivateKey
}

// NewIdentity creates an identity with a freshly generated long-term key.
func NewIdentity(didString string) (*Identity, error) {
	prk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating identity key: %w", err)
	}
	return &Identity{DID: didString, privateKey: prk}, nil
}

// LoadIdentity loads a long-term P-256 key from a PEM file.
func LoadIdentity(didString, pemPath string) (*Identity, error) {
	data, err := os.ReadFile(pemPath)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	key, err := jwk.ParseKey(data, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parsing key PEM: %w", err)
	}

	var prk ecdsa.PrivateKey
	if err := key.Raw(&prk); err != nil {
		return nil, fmt.Errorf("extracting EC private key: %w", err)
	}
	if prk.Curve != elliptic.P256() {
		return nil, fmt.Errorf("unsupported curve: %s", prk.Curve.Params().Name)
	}

	return &Identity{DID: didString, privateKey: &prk}, nil
}

// VerificationMethodID returns the identifier of the identity's first
// verification method within its DID document.
func (id *Identity) VerificationMethodID() string {
	return id.DID + "#keys-1"
}

// VerificationMethod returns the embeddable public key material for hello
// messages.
func (id *Identity) VerificationMethod() (*VerificationMethod, error) {
	publicKeyHex, err := cryptoutil.EncodePublicKeyHex(&id.privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}
	return &VerificationMethod{
		ID:           id.VerificationMethodID(),
		Type:         VerificationMethodTypeSecp256r1,
		PublicKeyHex: publicKeyHex,
	}, nil
}
