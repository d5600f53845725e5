package did

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"

	"github.com/agent-network-protocol/anp-e2ee/pkg/cryptoutil"
)

// ErrInvalidProof marks ordinary verification failures: bad signature,
// missing proof material or time drift exceeded. Structurally malformed
// input yields plain errors instead.
var ErrInvalidProof = errors.New("invalid proof")

// SignCanonical signs the RFC 8785 canonical form of msg with the
// identity's long-term key and returns the base64url proof value. The
// message must carry its Proof with an empty proof_value, so the signed
// form matches what a verifier reconstructs.
func (id *Identity) SignCanonical(msg any) (string, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshaling message: %w", err)
	}

	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalizing message: %w", err)
	}

	digest := sha256.Sum256(canonical)
	sig, err := ecdsa.SignASN1(rand.Reader, id.privateKey, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing message: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(sig), nil
}

// VerifyProof verifies the detached proof of a raw hello message. The
// signer's public key is taken from the embedded verification_method
// material, the canonical form is recomputed with proof_value stripped, and
// proof.created must lie within maxDrift of the local clock. On success the
// recovered public key is returned.
func VerifyProof(raw []byte, maxDrift time.Duration) (*ecdsa.PublicKey, error) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("unmarshaling message: %w", err)
	}

	proof, ok := msg["proof"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing proof", ErrInvalidProof)
	}
	proofValue, ok := proof["proof_value"].(string)
	if !ok || proofValue == "" {
		return nil, fmt.Errorf("%w: missing proof_value", ErrInvalidProof)
	}
	createdValue, ok := proof["created"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing created timestamp", ErrInvalidProof)
	}

	created, err := time.Parse(CreatedTimeFormat, createdValue)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing created timestamp: %v", ErrInvalidProof, err)
	}
	drift := time.Since(created)
	if drift < 0 {
		drift = -drift
	}
	if drift > maxDrift {
		return nil, fmt.Errorf("%w: created timestamp drift %s exceeds %s", ErrInvalidProof, drift, maxDrift)
	}

	vm, ok := msg["verification_method"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing verification_method", ErrInvalidProof)
	}
	publicKeyHex, ok := vm["public_key_hex"].(string)
	if !ok || publicKeyHex == "" {
		return nil, fmt.Errorf("%w: missing public_key_hex", ErrInvalidProof)
	}
	publicKey, err := cryptoutil.DecodePublicKeyHex(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	sig, err := base64.RawURLEncoding.DecodeString(proofValue)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding proof_value: %v", ErrInvalidProof, err)
	}

	// reconstruct the signed form: the full message minus proof_value
	delete(proof, "proof_value")
	signed, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling message without proof_value: %w", err)
	}
	canonical, err := jsoncanonicalizer.Transform(signed)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing message: %w", err)
	}

	digest := sha256.Sum256(canonical)
	if !ecdsa.VerifyASN1(publicKey, digest[:], sig) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidProof)
	}

	return publicKey, nil
}
