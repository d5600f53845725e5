package cryptoutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	CipherSuiteAES128GCMSHA256 = "TLS_AES_128_GCM_SHA256"
	CipherSuiteAES256GCMSHA384 = "TLS_AES_256_GCM_SHA384"
)

var cipherSuiteKeyLengths = map[string]int{
	CipherSuiteAES128GCMSHA256: 16,
	CipherSuiteAES256GCMSHA384: 32,
}

// KeyLength returns the symmetric key length for a cipher suite.
func KeyLength(cipherSuite string) (int, error) {
	n, ok := cipherSuiteKeyLengths[cipherSuite]
	if !ok {
		return 0, fmt.Errorf("unsupported cipher suite: %s", cipherSuite)
	}
	return n, nil
}

// TrafficKeys holds the four keys of the TLS-1.3-style derivation. The
// handshake keys are reserved for a future handshake-level confirmation MAC
// and are not consumed anywhere yet; the derivation still produces them so
// the KDF output layout stays compatible with existing deployments.
type TrafficKeys struct {
	InitiatorHandshakeKey []byte
	ResponderHandshakeKey []byte
	InitiatorAppKey       []byte
	ResponderAppKey       []byte
}

// DeriveTrafficKeys derives the four traffic keys from the ECDH shared
// secret and both parties' handshake randoms. The randoms are ordered:
// the initiator's random always comes first, on both sides.
func DeriveTrafficKeys(sharedSecret []byte, initiatorRandomHex, responderRandomHex string, keyLen int) (*TrafficKeys, error) {
	salt, err := decodeRandoms(initiatorRandomHex, responderRandomHex)
	if err != nil {
		return nil, err
	}

	reader := hkdf.New(sha256.New, sharedSecret, salt, []byte("anp e2ee traffic keys"))
	derived := make([]byte, 4*keyLen)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}

	return &TrafficKeys{
		InitiatorHandshakeKey: derived[:keyLen],
		ResponderHandshakeKey: derived[keyLen : 2*keyLen],
		InitiatorAppKey:       derived[2*keyLen : 3*keyLen],
		ResponderAppKey:       derived[3*keyLen : 4*keyLen],
	}, nil
}

// DeriveKeyID derives the deterministic short key identifier from the
// initiator's and responder's randoms: SHA-256 over the decoded
// concatenation, first 8 bytes in hex.
func DeriveKeyID(initiatorRandomHex, responderRandomHex string) (string, error) {
	combined, err := decodeRandoms(initiatorRandomHex, responderRandomHex)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(combined)
	return hex.EncodeToString(sum[:8]), nil
}

func decodeRandoms(initiatorRandomHex, responderRandomHex string) ([]byte, error) {
	a, err := hex.DecodeString(initiatorRandomHex)
	if err != nil {
		return nil, fmt.Errorf("decoding initiator random: %w", err)
	}
	b, err := hex.DecodeString(responderRandomHex)
	if err != nil {
		return nil, fmt.Errorf("decoding responder random: %w", err)
	}
	return append(a, b...), nil
}
