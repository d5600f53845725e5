package e2ee

import (
	"bytes"
	"errors"
	"testing"

	"github.com/agent-network-protocol/anp-e2ee/pkg/did"
)

func newTestIdentity(t *testing.T, didString string) *did.Identity {
	t.Helper()
	identity, err := did.NewIdentity(didString)
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}
	return identity
}

func newTestSession(t *testing.T, identity *did.Identity, localDID, peerDID string, opts ...SessionOption) *Session {
	t.Helper()
	s, err := NewSession(identity, localDID, peerDID, opts...)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return s
}

// completeHandshake runs the full exchange between a fresh initiator and
// responder and returns both ACTIVE sessions.
func completeHandshake(t *testing.T, opts ...SessionOption) (initiator, responder *Session) {
	t.Helper()

	alice := newTestSession(t, newTestIdentity(t, "did:wba:example.com:alice"),
		"did:wba:example.com:alice", "did:wba:example.com:bob", opts...)
	bob := newTestSession(t, newTestIdentity(t, "did:wba:example.com:bob"),
		"did:wba:example.com:bob", "", opts...)

	sourceHello, err := alice.InitiateHandshake()
	if err != nil {
		t.Fatalf("InitiateHandshake failed: %v", err)
	}

	destHello, bobFinished, err := bob.ProcessSourceHello(sourceHello)
	if err != nil {
		t.Fatalf("ProcessSourceHello failed: %v", err)
	}

	aliceFinished, err := alice.ProcessDestinationHello(destHello)
	if err != nil {
		t.Fatalf("ProcessDestinationHello failed: %v", err)
	}

	if err := alice.ProcessFinished(bobFinished); err != nil {
		t.Fatalf("alice ProcessFinished failed: %v", err)
	}
	if err := bob.ProcessFinished(aliceFinished); err != nil {
		t.Fatalf("bob ProcessFinished failed: %v", err)
	}

	return alice, bob
}

func TestFullHandshake(t *testing.T) {
	alice, bob := completeHandshake(t)

	if alice.State() != StateActive || bob.State() != StateActive {
		t.Fatalf("states are %s / %s, want ACTIVE / ACTIVE", alice.State(), bob.State())
	}
	if alice.SecretKeyID() == "" || alice.SecretKeyID() != bob.SecretKeyID() {
		t.Fatalf("secret key ids differ: %q vs %q", alice.SecretKeyID(), bob.SecretKeyID())
	}
	if alice.SessionID() != bob.SessionID() {
		t.Fatalf("session ids differ: %q vs %q", alice.SessionID(), bob.SessionID())
	}
	if !alice.IsInitiator() || bob.IsInitiator() {
		t.Fatalf("initiator flags wrong: alice=%v bob=%v", alice.IsInitiator(), bob.IsInitiator())
	}
	if !bytes.Equal(alice.sendKey, bob.recvKey) || !bytes.Equal(alice.recvKey, bob.sendKey) {
		t.Fatalf("traffic keys are not mirrored")
	}
}

func TestEncryptDecryptAcrossSessions(t *testing.T) {
	alice, bob := completeHandshake(t)

	for _, tc := range []struct{ typeTag, plaintext string }{
		{"text", "Hello Bob!"},
		{"text", "早上好，世界 🌍"},
		{"json", `{"k":"v"}`},
	} {
		msg, err := alice.EncryptMessage(tc.typeTag, []byte(tc.plaintext))
		if err != nil {
			t.Fatalf("EncryptMessage failed: %v", err)
		}
		originalType, plaintext, err := bob.DecryptMessage(msg)
		if err != nil {
			t.Fatalf("DecryptMessage failed: %v", err)
		}
		if originalType != tc.typeTag || string(plaintext) != tc.plaintext {
			t.Fatalf("got (%q, %q), want (%q, %q)", originalType, plaintext, tc.typeTag, tc.plaintext)
		}

		// and the reply direction
		reply, err := bob.EncryptMessage(tc.typeTag, []byte(tc.plaintext))
		if err != nil {
			t.Fatalf("EncryptMessage failed: %v", err)
		}
		if _, plaintext, err = alice.DecryptMessage(reply); err != nil || string(plaintext) != tc.plaintext {
			t.Fatalf("reply round trip failed: %v", err)
		}
	}
}

func TestCannotDecryptOwnTraffic(t *testing.T) {
	alice, _ := completeHandshake(t)

	msg, err := alice.EncryptMessage("text", []byte("to bob"))
	if err != nil {
		t.Fatalf("EncryptMessage failed: %v", err)
	}
	if _, _, err := alice.DecryptMessage(msg); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("got %v, want ErrDecryptFailed", err)
	}
}

func TestInitiateHandshakeTwice(t *testing.T) {
	alice := newTestSession(t, newTestIdentity(t, "did:wba:example.com:alice"),
		"did:wba:example.com:alice", "did:wba:example.com:bob")

	if _, err := alice.InitiateHandshake(); err != nil {
		t.Fatalf("first InitiateHandshake failed: %v", err)
	}
	if _, err := alice.InitiateHandshake(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
}

func TestEncryptDecryptBeforeActive(t *testing.T) {
	alice := newTestSession(t, newTestIdentity(t, "did:wba:example.com:alice"),
		"did:wba:example.com:alice", "did:wba:example.com:bob")

	if _, err := alice.EncryptMessage("text", []byte("x")); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("encrypt: got %v, want ErrInvalidState", err)
	}
	if _, _, err := alice.DecryptMessage(&EncryptedMessage{}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("decrypt: got %v, want ErrInvalidState", err)
	}
}

func TestTamperedSourceHelloRejected(t *testing.T) {
	alice := newTestSession(t, newTestIdentity(t, "did:wba:example.com:alice"),
		"did:wba:example.com:alice", "did:wba:example.com:bob")
	bob := newTestSession(t, newTestIdentity(t, "did:wba:example.com:bob"),
		"did:wba:example.com:bob", "")

	hello, err := alice.InitiateHandshake()
	if err != nil {
		t.Fatalf("InitiateHandshake failed: %v", err)
	}
	hello.Random = hello.Random[2:] + "ff"

	if _, _, err := bob.ProcessSourceHello(hello); !errors.Is(err, ErrProofVerification) {
		t.Fatalf("got %v, want ErrProofVerification", err)
	}
	if bob.State() != StateIdle {
		t.Fatalf("state changed to %s on failed verification", bob.State())
	}
}

func TestNoMutualCipherSuite(t *testing.T) {
	alice := newTestSession(t, newTestIdentity(t, "did:wba:example.com:alice"),
		"did:wba:example.com:alice", "did:wba:example.com:bob",
		WithCipherSuites([]string{"TLS_AES_256_GCM_SHA384"}))
	bob := newTestSession(t, newTestIdentity(t, "did:wba:example.com:bob"),
		"did:wba:example.com:bob", "",
		WithCipherSuites([]string{"TLS_AES_128_GCM_SHA256"}))

	hello, err := alice.InitiateHandshake()
	if err != nil {
		t.Fatalf("InitiateHandshake failed: %v", err)
	}
	if _, _, err := bob.ProcessSourceHello(hello); !errors.Is(err, ErrNegotiation) {
		t.Fatalf("got %v, want ErrNegotiation", err)
	}
}

func TestConfirmationMismatch(t *testing.T) {
	alice := newTestSession(t, newTestIdentity(t, "did:wba:example.com:alice"),
		"did:wba:example.com:alice", "did:wba:example.com:bob")
	bob := newTestSession(t, newTestIdentity(t, "did:wba:example.com:bob"),
		"did:wba:example.com:bob", "")

	sourceHello, err := alice.InitiateHandshake()
	if err != nil {
		t.Fatalf("InitiateHandshake failed: %v", err)
	}
	destHello, _, err := bob.ProcessSourceHello(sourceHello)
	if err != nil {
		t.Fatalf("ProcessSourceHello failed: %v", err)
	}
	if _, err := alice.ProcessDestinationHello(destHello); err != nil {
		t.Fatalf("ProcessDestinationHello failed: %v", err)
	}

	// a Finished encrypted under the right key but carrying the wrong
	// identifier must be rejected as a confirmation mismatch
	wrongFinished, err := BuildFinished(bob.SessionID(), bob.responderRandom(), bob.initiatorRandom(), bob.sendKey)
	if err != nil {
		t.Fatalf("BuildFinished failed: %v", err)
	}
	if err := alice.ProcessFinished(wrongFinished); !errors.Is(err, ErrConfirmationMismatch) {
		t.Fatalf("got %v, want ErrConfirmationMismatch", err)
	}
	if alice.State() == StateActive || alice.SecretKeyID() != "" {
		t.Fatalf("mismatched confirmation left partial active state")
	}
}

func TestFinishedDecryptFailure(t *testing.T) {
	alice := newTestSession(t, newTestIdentity(t, "did:wba:example.com:alice"),
		"did:wba:example.com:alice", "did:wba:example.com:bob")
	bob := newTestSession(t, newTestIdentity(t, "did:wba:example.com:bob"),
		"did:wba:example.com:bob", "")

	sourceHello, err := alice.InitiateHandshake()
	if err != nil {
		t.Fatalf("InitiateHandshake failed: %v", err)
	}
	destHello, bobFinished, err := bob.ProcessSourceHello(sourceHello)
	if err != nil {
		t.Fatalf("ProcessSourceHello failed: %v", err)
	}
	if _, err := alice.ProcessDestinationHello(destHello); err != nil {
		t.Fatalf("ProcessDestinationHello failed: %v", err)
	}

	bobFinished.VerifyData.Tag = bobFinished.VerifyData.Ciphertext
	if err := alice.ProcessFinished(bobFinished); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("got %v, want ErrDecryptFailed", err)
	}
}

func TestExpiryAndRenewal(t *testing.T) {
	alice, bob := completeHandshake(t, WithKeyExpires(-1))
	if !alice.IsExpired() || !bob.IsExpired() {
		t.Fatalf("sessions with elapsed lifetime not reported expired")
	}
	if !alice.ShouldRenew(DefaultRenewalThreshold) {
		t.Fatalf("expired session does not request renewal")
	}

	fresh, _ := completeHandshake(t)
	if fresh.IsExpired() {
		t.Fatalf("fresh session reported expired")
	}
	if fresh.ShouldRenew(DefaultRenewalThreshold) {
		t.Fatalf("fresh session requests renewal")
	}

	idle := newTestSession(t, newTestIdentity(t, "did:wba:example.com:alice"),
		"did:wba:example.com:alice", "did:wba:example.com:bob", WithKeyExpires(-1))
	if idle.IsExpired() {
		t.Fatalf("pre-activation session reported expired")
	}
}

func TestSessionInfo(t *testing.T) {
	alice, _ := completeHandshake(t)
	info := alice.Info()
	if info.State != "ACTIVE" || info.SecretKeyID != alice.SecretKeyID() {
		t.Fatalf("unexpected snapshot: %+v", info)
	}
	if !info.IsInitiator || info.LocalDID != "did:wba:example.com:alice" {
		t.Fatalf("unexpected snapshot: %+v", info)
	}
}

func TestKeyExpiresNegotiatedMinimum(t *testing.T) {
	alice := newTestSession(t, newTestIdentity(t, "did:wba:example.com:alice"),
		"did:wba:example.com:alice", "did:wba:example.com:bob", WithKeyExpires(120))
	bob := newTestSession(t, newTestIdentity(t, "did:wba:example.com:bob"),
		"did:wba:example.com:bob", "", WithKeyExpires(3600))

	sourceHello, err := alice.InitiateHandshake()
	if err != nil {
		t.Fatalf("InitiateHandshake failed: %v", err)
	}
	destHello, _, err := bob.ProcessSourceHello(sourceHello)
	if err != nil {
		t.Fatalf("ProcessSourceHello failed: %v", err)
	}
	if bob.keyExpires != 120 {
		t.Fatalf("responder negotiated %d, want 120", bob.keyExpires)
	}
	if _, err := alice.ProcessDestinationHello(destHello); err != nil {
		t.Fatalf("ProcessDestinationHello failed: %v", err)
	}
	if alice.keyExpires != 120 {
		t.Fatalf("initiator negotiated %d, want 120", alice.keyExpires)
	}
}
