package e2ee

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agent-network-protocol/anp-e2ee/pkg/cryptoutil"
	"github.com/agent-network-protocol/anp-e2ee/pkg/did"
)

// State is the handshake/channel state of a Session. Transitions only move
// forward; no method ever returns a session to an earlier state.
type State int

const (
	StateIdle State = iota
	StateHandshakeInitiated
	StateHandshakeCompleting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateHandshakeInitiated:
		return "HANDSHAKE_INITIATED"
	case StateHandshakeCompleting:
		return "HANDSHAKE_COMPLETING"
	case StateActive:
		return "ACTIVE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// DefaultKeyExpires is the local default key lifetime offer in seconds.
const DefaultKeyExpires = 3600

// DefaultRenewalThreshold is the remaining-lifetime fraction below which
// ShouldRenew reports true.
const DefaultRenewalThreshold = 0.2

// Session is one handshake plus one secure channel between a local and a
// peer DID. A Session is not safe for concurrent use: callers must
// serialize calls to its mutating methods. The KeyManager only reads the
// snapshot accessors, which are safe after the owning call returns.
type Session struct {
	identity  *did.Identity
	localDID  string
	peerDID   string
	sessionID string

	ephemeral   *cryptoutil.ECKeyPair
	localRandom string
	peerRandom  string

	isInitiator     bool
	initiatorChosen bool

	supportedSuites []string
	cipherSuite     string
	maxTimeDrift    time.Duration

	sendKey     []byte
	recvKey     []byte
	secretKeyID string
	keyExpires  int

	createdAt time.Time
	activeAt  time.Time
	state     State
}

// SessionOption configures a Session at construction.
type SessionOption func(*Session)

// WithKeyExpires sets the local key lifetime offer in seconds.
func WithKeyExpires(seconds int) SessionOption {
	return func(s *Session) { s.keyExpires = seconds }
}

// WithCipherSuites sets the locally supported cipher suite list.
func WithCipherSuites(suites []string) SessionOption {
	return func(s *Session) { s.supportedSuites = suites }
}

// WithMaxTimeDrift sets the proof timestamp drift bound.
func WithMaxTimeDrift(d time.Duration) SessionOption {
	return func(s *Session) { s.maxTimeDrift = d }
}

// NewSession creates an idle session between localDID and peerDID,
// generating the ephemeral key pair, the local handshake random and a
// candidate session id. The responder path overwrites the session id with
// the initiator's choice.
func NewSession(identity *did.Identity, localDID, peerDID string, opts ...SessionOption) (*Session, error) {
	ephemeral, err := cryptoutil.GenerateECKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key pair: %w", err)
	}

	localRandom, err := cryptoutil.RandomHex(32)
	if err != nil {
		return nil, fmt.Errorf("generating handshake random: %w", err)
	}

	sessionID, err := cryptoutil.RandomHex(8)
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	s := &Session{
		identity:        identity,
		localDID:        localDID,
		peerDID:         peerDID,
		sessionID:       sessionID,
		ephemeral:       ephemeral,
		localRandom:     localRandom,
		supportedSuites: DefaultCipherSuites,
		maxTimeDrift:    DefaultMaxTimeDrift,
		keyExpires:      DefaultKeyExpires,
		createdAt:       time.Now(),
		state:           StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Accessors used by the KeyManager and hosts.

func (s *Session) LocalDID() string    { return s.localDID }
func (s *Session) PeerDID() string     { return s.peerDID }
func (s *Session) SessionID() string   { return s.sessionID }
func (s *Session) SecretKeyID() string { return s.secretKeyID }
func (s *Session) State() State        { return s.state }
func (s *Session) IsInitiator() bool   { return s.initiatorChosen && s.isInitiator }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// InitiateHandshake builds the SourceHello and moves the session to
// HANDSHAKE_INITIATED. It may only be called once, on an idle session.
func (s *Session) InitiateHandshake() (*SourceHello, error) {
	if s.state != StateIdle {
		return nil, fmt.Errorf("%w: initiate handshake in %s", ErrInvalidState, s.state)
	}

	hello, err := BuildSourceHello(s.identity, HelloParams{
		SessionID:      s.sessionID,
		SourceDID:      s.localDID,
		DestinationDID: s.peerDID,
		Random:         s.localRandom,
		PublicKeyHex:   s.ephemeral.PublicKeyHex,
		KeyExpires:     s.keyExpires,
	}, s.supportedSuites)
	if err != nil {
		return nil, fmt.Errorf("building source hello: %w", err)
	}

	s.isInitiator = true
	s.initiatorChosen = true
	s.state = StateHandshakeInitiated
	return hello, nil
}

// ProcessSourceHello handles the responder path: it verifies the
// initiator's proof, negotiates the cipher suite and curve group, derives
// the traffic keys and returns the DestinationHello plus Finished the
// caller must both send. On success the session is HANDSHAKE_COMPLETING.
// On any failure the session state is unchanged and the session should be
// discarded.
func (s *Session) ProcessSourceHello(hello *SourceHello) (*DestinationHello, *Finished, error) {
	if s.state != StateIdle {
		return nil, nil, fmt.Errorf("%w: process source hello in %s", ErrInvalidState, s.state)
	}

	if _, err := VerifyHelloProof(hello, s.maxTimeDrift); err != nil {
		return nil, nil, fmt.Errorf("source hello: %w", err)
	}

	cipherSuite, ok := negotiateCipherSuite(hello.CipherSuites, s.supportedSuites)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no mutual cipher suite in %v", ErrNegotiation, hello.CipherSuites)
	}

	keyShare, ok := selectKeyShare(hello.KeyShares)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no key share for group %s", ErrNegotiation, cryptoutil.CurveSecp256r1)
	}

	keyExpires := s.keyExpires
	if keyShare.Expires < keyExpires {
		keyExpires = keyShare.Expires
	}

	// the initiator's random is hello.Random, ours is the responder's
	if err := s.deriveKeys(hello.Random, s.localRandom, keyShare.KeyExchange, cipherSuite); err != nil {
		return nil, nil, err
	}

	destHello, err := BuildDestinationHello(s.identity, HelloParams{
		SessionID:      hello.SessionID,
		SourceDID:      s.localDID,
		DestinationDID: hello.SourceDID,
		Random:         s.localRandom,
		PublicKeyHex:   s.ephemeral.PublicKeyHex,
		KeyExpires:     keyExpires,
	}, cipherSuite)
	if err != nil {
		return nil, nil, fmt.Errorf("building destination hello: %w", err)
	}

	finished, err := BuildFinished(hello.SessionID, hello.Random, s.localRandom, s.sendKey)
	if err != nil {
		return nil, nil, fmt.Errorf("building finished: %w", err)
	}

	s.isInitiator = false
	s.initiatorChosen = true
	s.sessionID = hello.SessionID
	s.peerDID = hello.SourceDID
	s.peerRandom = hello.Random
	s.cipherSuite = cipherSuite
	s.keyExpires = keyExpires
	s.state = StateHandshakeCompleting
	return destHello, finished, nil
}

// ProcessDestinationHello handles the initiator path: it verifies the
// responder's proof, adopts the selected cipher suite and key lifetime,
// derives the traffic keys and returns the Finished to send. On success
// the session is HANDSHAKE_COMPLETING.
func (s *Session) ProcessDestinationHello(hello *DestinationHello) (*Finished, error) {
	if s.state != StateHandshakeInitiated {
		return nil, fmt.Errorf("%w: process destination hello in %s", ErrInvalidState, s.state)
	}

	if _, err := VerifyHelloProof(hello, s.maxTimeDrift); err != nil {
		return nil, fmt.Errorf("destination hello: %w", err)
	}

	if _, ok := negotiateCipherSuite([]string{hello.CipherSuite}, s.supportedSuites); !ok {
		return nil, fmt.Errorf("%w: unsupported selected cipher suite %s", ErrNegotiation, hello.CipherSuite)
	}
	if hello.KeyShare.Group != cryptoutil.CurveSecp256r1 {
		return nil, fmt.Errorf("%w: unsupported group %s", ErrNegotiation, hello.KeyShare.Group)
	}

	keyExpires := s.keyExpires
	if hello.KeyShare.Expires < keyExpires {
		keyExpires = hello.KeyShare.Expires
	}

	if err := s.deriveKeys(s.localRandom, hello.Random, hello.KeyShare.KeyExchange, hello.CipherSuite); err != nil {
		return nil, err
	}

	finished, err := BuildFinished(s.sessionID, s.localRandom, hello.Random, s.sendKey)
	if err != nil {
		return nil, fmt.Errorf("building finished: %w", err)
	}

	s.peerRandom = hello.Random
	s.cipherSuite = hello.CipherSuite
	s.keyExpires = keyExpires
	s.state = StateHandshakeCompleting
	return finished, nil
}

// ProcessFinished decrypts the peer's confirmation payload and checks the
// short key identifier against the locally derived one. On match the
// session becomes ACTIVE; on mismatch it must be discarded.
func (s *Session) ProcessFinished(msg *Finished) error {
	if s.state != StateHandshakeCompleting {
		return fmt.Errorf("%w: process finished in %s", ErrInvalidState, s.state)
	}

	plaintext, err := cryptoutil.Decrypt(s.recvKey, &msg.VerifyData)
	if err != nil {
		return fmt.Errorf("%w: opening verify data: %v", ErrDecryptFailed, err)
	}

	var payload finishedPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return fmt.Errorf("%w: unmarshaling verify data: %v", ErrConfirmationMismatch, err)
	}

	expected, err := cryptoutil.DeriveKeyID(s.initiatorRandom(), s.responderRandom())
	if err != nil {
		return fmt.Errorf("deriving expected key id: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(payload.SecretKeyID)) != 1 {
		return fmt.Errorf("%w: key id does not match", ErrConfirmationMismatch)
	}

	s.secretKeyID = expected
	s.activeAt = time.Now()
	s.state = StateActive
	return nil
}

// EncryptMessage encrypts application plaintext under the send key. The
// session must be ACTIVE.
func (s *Session) EncryptMessage(typeTag string, plaintext []byte) (*EncryptedMessage, error) {
	if s.state != StateActive {
		return nil, fmt.Errorf("%w: encrypt in %s", ErrInvalidState, s.state)
	}
	return BuildEncryptedMessage(s.secretKeyID, typeTag, s.sendKey, plaintext)
}

// DecryptMessage decrypts inbound application traffic under the recv key.
// An AEAD failure rejects only the message; the session stays ACTIVE.
func (s *Session) DecryptMessage(msg *EncryptedMessage) (string, []byte, error) {
	if s.state != StateActive {
		return "", nil, fmt.Errorf("%w: decrypt in %s", ErrInvalidState, s.state)
	}
	return DecryptMessage(msg, s.recvKey)
}

// IsExpired reports whether the active key has outlived its negotiated
// lifetime. Before activation it is always false.
func (s *Session) IsExpired() bool {
	if s.state != StateActive {
		return false
	}
	return time.Since(s.activeAt) > time.Duration(s.keyExpires)*time.Second
}

// ShouldRenew reports whether less than threshold of the key lifetime
// remains. Pass DefaultRenewalThreshold for the standard policy.
func (s *Session) ShouldRenew(threshold float64) bool {
	if s.state != StateActive {
		return false
	}
	lifetime := time.Duration(s.keyExpires) * time.Second
	remaining := lifetime - time.Since(s.activeAt)
	return remaining < time.Duration(threshold*float64(lifetime))
}

// SessionInfo is a diagnostics snapshot of a session.
type SessionInfo struct {
	LocalDID    string    `json:"local_did"`
	PeerDID     string    `json:"peer_did"`
	SessionID   string    `json:"session_id"`
	State       string    `json:"state"`
	IsInitiator bool      `json:"is_initiator"`
	CipherSuite string    `json:"cipher_suite,omitempty"`
	SecretKeyID string    `json:"secret_key_id,omitempty"`
	KeyExpires  int       `json:"key_expires"`
	CreatedAt   time.Time `json:"created_at"`
	ActiveAt    time.Time `json:"active_at,omitempty"`
}

// Info returns a snapshot of the session without side effects.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		LocalDID:    s.localDID,
		PeerDID:     s.peerDID,
		SessionID:   s.sessionID,
		State:       s.state.String(),
		IsInitiator: s.IsInitiator(),
		CipherSuite: s.cipherSuite,
		SecretKeyID: s.secretKeyID,
		KeyExpires:  s.keyExpires,
		CreatedAt:   s.createdAt,
		ActiveAt:    s.activeAt,
	}
}

// deriveKeys computes the ECDH shared secret with the peer's ephemeral key
// share and derives the directional traffic keys. The initiator's send key
// is the initiator-to-responder key; the responder assigns the mirror
// image, so both sides agree on direction without a flag.
func (s *Session) deriveKeys(initiatorRandom, responderRandom, peerKeyExchangeHex, cipherSuite string) error {
	sharedSecret, err := s.ephemeral.SharedSecret(peerKeyExchangeHex)
	if err != nil {
		return fmt.Errorf("computing shared secret: %w", err)
	}

	keyLen, err := cryptoutil.KeyLength(cipherSuite)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}

	keys, err := cryptoutil.DeriveTrafficKeys(sharedSecret, initiatorRandom, responderRandom, keyLen)
	if err != nil {
		return fmt.Errorf("deriving traffic keys: %w", err)
	}

	// ProcessSourceHello derives before flipping initiatorChosen, so use
	// the randoms to decide direction: the initiator's random is ours iff
	// we initiated.
	if initiatorRandom == s.localRandom {
		s.sendKey = keys.InitiatorAppKey
		s.recvKey = keys.ResponderAppKey
	} else {
		s.sendKey = keys.ResponderAppKey
		s.recvKey = keys.InitiatorAppKey
	}
	return nil
}

func (s *Session) initiatorRandom() string {
	if s.isInitiator {
		return s.localRandom
	}
	return s.peerRandom
}

func (s *Session) responderRandom() string {
	if s.isInitiator {
		return s.peerRandom
	}
	return s.localRandom
}

func negotiateCipherSuite(offered, supported []string) (string, bool) {
	for _, suite := range offered {
		for _, own := range supported {
			if suite == own {
				return suite, true
			}
		}
	}
	return "", false
}

func selectKeyShare(shares []KeyShare) (*KeyShare, bool) {
	for i := range shares {
		if shares[i].Group == cryptoutil.CurveSecp256r1 {
			return &shares[i], true
		}
	}
	return nil, false
}
