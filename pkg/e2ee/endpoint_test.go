package e2ee

import (
	"encoding/json"
	"testing"
)

// deliver marshals an outbound message and feeds it to the receiving
// endpoint, the way a transport would.
func deliver(t *testing.T, to *Endpoint, out *Outbound) ([]*Outbound, *Received) {
	t.Helper()
	raw, err := json.Marshal(out.Content)
	if err != nil {
		t.Fatalf("marshaling outbound content: %v", err)
	}
	replies, received, err := to.HandleMessage(out.WireType, raw)
	if err != nil {
		t.Fatalf("HandleMessage(%s) failed: %v", out.WireType, err)
	}
	return replies, received
}

func connectedEndpoints(t *testing.T) (alice, bob *Endpoint) {
	t.Helper()

	alice = NewEndpoint(newTestIdentity(t, "did:wba:example.com:alice"))
	bob = NewEndpoint(newTestIdentity(t, "did:wba:example.com:bob"))

	hello, err := alice.StartHandshake(bob.DID())
	if err != nil {
		t.Fatalf("StartHandshake failed: %v", err)
	}

	bobReplies, _ := deliver(t, bob, hello)
	if len(bobReplies) != 2 {
		t.Fatalf("responder sent %d messages, want 2", len(bobReplies))
	}
	if bobReplies[0].WireType != WireTypeHello || bobReplies[1].WireType != WireTypeFinished {
		t.Fatalf("responder wire types are %s, %s", bobReplies[0].WireType, bobReplies[1].WireType)
	}

	aliceReplies, _ := deliver(t, alice, bobReplies[0])
	if len(aliceReplies) != 1 || aliceReplies[0].WireType != WireTypeFinished {
		t.Fatalf("initiator replies: %v", aliceReplies)
	}

	deliver(t, alice, bobReplies[1])
	deliver(t, bob, aliceReplies[0])
	return alice, bob
}

func TestEndpointHandshakeAndTraffic(t *testing.T) {
	alice, bob := connectedEndpoints(t)

	aliceSession := alice.Manager().GetActiveSession(alice.DID(), bob.DID())
	bobSession := bob.Manager().GetActiveSession(bob.DID(), alice.DID())
	if aliceSession == nil || bobSession == nil {
		t.Fatalf("active sessions missing after handshake")
	}
	if aliceSession.SecretKeyID() != bobSession.SecretKeyID() {
		t.Fatalf("secret key ids differ: %q vs %q",
			aliceSession.SecretKeyID(), bobSession.SecretKeyID())
	}

	out, err := alice.EncryptFor(bob.DID(), "text", []byte("Hello Bob!"))
	if err != nil {
		t.Fatalf("EncryptFor failed: %v", err)
	}
	replies, received := deliver(t, bob, out)
	if len(replies) != 0 {
		t.Fatalf("application traffic produced replies: %v", replies)
	}
	if received == nil {
		t.Fatalf("no payload surfaced")
	}
	if received.PeerDID != alice.DID() || received.OriginalType != "text" ||
		string(received.Plaintext) != "Hello Bob!" {
		t.Fatalf("received %+v", received)
	}

	// and the other direction
	out, err = bob.EncryptFor(alice.DID(), "text", []byte("Hi Alice"))
	if err != nil {
		t.Fatalf("EncryptFor failed: %v", err)
	}
	_, received = deliver(t, alice, out)
	if received == nil || string(received.Plaintext) != "Hi Alice" {
		t.Fatalf("received %+v", received)
	}
}

func TestEndpointUnknownKeySignalsError(t *testing.T) {
	bob := NewEndpoint(newTestIdentity(t, "did:wba:example.com:bob"))

	msg, err := BuildEncryptedMessage("feedfacefeedface", "text", make([]byte, 16), []byte("x"))
	if err != nil {
		t.Fatalf("BuildEncryptedMessage failed: %v", err)
	}
	raw, _ := json.Marshal(msg)

	replies, received, err := bob.HandleMessage(WireTypeEncrypted, raw)
	if err != nil || received != nil {
		t.Fatalf("got (%v, %v), want error outbound only", received, err)
	}
	if len(replies) != 1 || replies[0].WireType != WireTypeError {
		t.Fatalf("replies: %v", replies)
	}
	errMsg, ok := replies[0].Content.(*ErrorMessage)
	if !ok || errMsg.ErrorCode != ErrorCodeKeyNotFound || errMsg.SecretKeyID != "feedfacefeedface" {
		t.Fatalf("error content: %+v", replies[0].Content)
	}
}

func TestEndpointErrorRemovesSession(t *testing.T) {
	alice, bob := connectedEndpoints(t)

	keyID := alice.Manager().GetActiveSession(alice.DID(), bob.DID()).SecretKeyID()
	raw, _ := json.Marshal(BuildError(ErrorCodeKeyExpired, keyID))
	if _, _, err := alice.HandleMessage(WireTypeError, raw); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if alice.Manager().GetSessionByKeyID(keyID) != nil {
		t.Fatalf("session survived peer key_expired signal")
	}
	if _, err := alice.EncryptFor(bob.DID(), "text", []byte("x")); err == nil {
		t.Fatalf("EncryptFor succeeded without an active session")
	}
}

func TestEndpointUnrecognizedWireType(t *testing.T) {
	bob := NewEndpoint(newTestIdentity(t, "did:wba:example.com:bob"))
	if _, _, err := bob.HandleMessage("presence", []byte(`{}`)); err == nil {
		t.Fatalf("expected error for unrecognized wire type")
	}
}
