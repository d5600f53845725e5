package cryptoutil

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// CurveSecp256r1 is the only key-exchange group supported on the wire.
const CurveSecp256r1 = "secp256r1"

// ECKeyPair is an ephemeral P-256 key pair used for a single handshake.
type ECKeyPair struct {
	privateKey   *ecdh.PrivateKey
	PublicKeyHex string
}

// GenerateECKeyPair generates a random ephemeral P-256 key pair. The public
// key is kept as an uncompressed SEC1 point in hex, ready for a key share.
func GenerateECKeyPair() (*ECKeyPair, error) {
	ecdsaPrK, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating EC key pair: %w", err)
	}

	ecdhPrK, err := ecdsaPrK.ECDH()
	if err != nil {
		return nil, fmt.Errorf("converting to ECDH key: %w", err)
	}

	return &ECKeyPair{
		privateKey:   ecdhPrK,
		PublicKeyHex: hex.EncodeToString(ecdhPrK.PublicKey().Bytes()),
	}, nil
}

// SharedSecret computes the ECDH shared secret between the private key and
// the peer's public key given as an uncompressed SEC1 point in hex.
func (kp *ECKeyPair) SharedSecret(peerPublicKeyHex string) ([]byte, error) {
	peerBytes, err := hex.DecodeString(peerPublicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding peer public key: %w", err)
	}

	peerKey, err := ecdh.P256().NewPublicKey(peerBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing peer public key: %w", err)
	}

	return kp.privateKey.ECDH(peerKey)
}

// EncodePublicKeyHex encodes an ECDSA public key as an uncompressed SEC1
// point in hex.
func EncodePublicKeyHex(puk *ecdsa.PublicKey) (string, error) {
	ecdhPuK, err := puk.ECDH()
	if err != nil {
		return "", fmt.Errorf("converting public key: %w", err)
	}
	return hex.EncodeToString(ecdhPuK.Bytes()), nil
}

// DecodePublicKeyHex parses an uncompressed SEC1 P-256 point in hex into an
// ECDSA public key.
func DecodePublicKeyHex(publicKeyHex string) (*ecdsa.PublicKey, error) {
	data, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}

	if len(data) != 65 || data[0] != 4 {
		return nil, fmt.Errorf("invalid public key length: %d", len(data))
	}

	puk := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(data[1:33]),
		Y:     new(big.Int).SetBytes(data[33:65]),
	}

	// round-trip through crypto/ecdh validates the point is on the curve
	if _, err := puk.ECDH(); err != nil {
		return nil, fmt.Errorf("validating public key: %w", err)
	}

	return puk, nil
}
