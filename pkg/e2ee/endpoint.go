package e2ee

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/agent-network-protocol/anp-e2ee/pkg/did"
)

// Outbound is a wire message the host must hand to its transport, tagged
// with the outer transport type.
type Outbound struct {
	WireType string
	Content  any
}

// Received is a decrypted application payload surfaced by HandleMessage.
type Received struct {
	PeerDID      string
	SecretKeyID  string
	OriginalType string
	Plaintext    []byte
}

// Endpoint ties an identity and a KeyManager together and routes wire
// messages to the sessions they belong to. It implements the host side the
// protocol expects: registering pending handshakes, promoting them on
// confirmation and answering unroutable traffic with Error messages.
type Endpoint struct {
	identity     *did.Identity
	manager      *KeyManager
	keyExpires   int
	cipherSuites []string
	maxTimeDrift time.Duration
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithEndpointKeyExpires sets the local key lifetime offer in seconds.
func WithEndpointKeyExpires(seconds int) EndpointOption {
	return func(ep *Endpoint) { ep.keyExpires = seconds }
}

// WithEndpointCipherSuites sets the supported cipher suite list.
func WithEndpointCipherSuites(suites []string) EndpointOption {
	return func(ep *Endpoint) { ep.cipherSuites = suites }
}

// WithEndpointMaxTimeDrift sets the proof timestamp drift bound.
func WithEndpointMaxTimeDrift(d time.Duration) EndpointOption {
	return func(ep *Endpoint) { ep.maxTimeDrift = d }
}

// NewEndpoint creates an endpoint for the given identity with a fresh
// KeyManager.
func NewEndpoint(identity *did.Identity, opts ...EndpointOption) *Endpoint {
	ep := &Endpoint{
		identity:     identity,
		manager:      NewKeyManager(),
		keyExpires:   DefaultKeyExpires,
		cipherSuites: DefaultCipherSuites,
		maxTimeDrift: DefaultMaxTimeDrift,
	}
	for _, opt := range opts {
		opt(ep)
	}
	return ep
}

// Manager exposes the session registry, e.g. for periodic cleanup sweeps.
func (ep *Endpoint) Manager() *KeyManager { return ep.manager }

// DID returns the endpoint's local DID.
func (ep *Endpoint) DID() string { return ep.identity.DID }

func (ep *Endpoint) newSession(localDID, peerDID string) (*Session, error) {
	return NewSession(ep.identity, localDID, peerDID,
		WithKeyExpires(ep.keyExpires),
		WithCipherSuites(ep.cipherSuites),
		WithMaxTimeDrift(ep.maxTimeDrift))
}

// StartHandshake creates an initiator session towards peerDID, registers
// it as pending and returns the SourceHello to send.
func (ep *Endpoint) StartHandshake(peerDID string) (*Outbound, error) {
	session, err := ep.newSession(ep.identity.DID, peerDID)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	hello, err := session.InitiateHandshake()
	if err != nil {
		return nil, fmt.Errorf("initiating handshake: %w", err)
	}

	ep.manager.RegisterPendingSession(session)
	slog.Debug("handshake started", "peer_did", peerDID, "session_id", session.SessionID())
	return &Outbound{WireType: WireTypeHello, Content: hello}, nil
}

// HandleMessage routes one inbound wire message. It returns the messages
// to send back (if any) and the decrypted payload for application traffic.
// Sessions whose handshake fails are discarded; a fresh handshake needs a
// new session id.
func (ep *Endpoint) HandleMessage(wireType string, content []byte) ([]*Outbound, *Received, error) {
	switch DetectMessageType(wireType, content) {
	case MessageTypeSourceHello:
		out, err := ep.handleSourceHello(content)
		return out, nil, err
	case MessageTypeDestinationHello:
		out, err := ep.handleDestinationHello(content)
		return out, nil, err
	case MessageTypeFinished:
		return nil, nil, ep.handleFinished(content)
	case MessageTypeEncrypted:
		return ep.handleEncrypted(content)
	case MessageTypeError:
		return nil, nil, ep.handleError(content)
	}
	return nil, nil, fmt.Errorf("unrecognized message: wire type %q", wireType)
}

func (ep *Endpoint) handleSourceHello(content []byte) ([]*Outbound, error) {
	hello, err := ParseSourceHello(content)
	if err != nil {
		return nil, err
	}

	session, err := ep.newSession(hello.DestinationDID, hello.SourceDID)
	if err != nil {
		return nil, fmt.Errorf("creating responder session: %w", err)
	}

	destHello, finished, err := session.ProcessSourceHello(hello)
	if err != nil {
		return nil, fmt.Errorf("processing source hello: %w", err)
	}

	ep.manager.RegisterPendingSession(session)
	slog.Debug("responding to handshake",
		"peer_did", hello.SourceDID, "session_id", session.SessionID())
	return []*Outbound{
		{WireType: WireTypeHello, Content: destHello},
		{WireType: WireTypeFinished, Content: finished},
	}, nil
}

func (ep *Endpoint) handleDestinationHello(content []byte) ([]*Outbound, error) {
	hello, err := ParseDestinationHello(content)
	if err != nil {
		return nil, err
	}

	session := ep.manager.GetPendingSession(hello.SessionID)
	if session == nil {
		return nil, fmt.Errorf("no pending session %s", hello.SessionID)
	}

	finished, err := session.ProcessDestinationHello(hello)
	if err != nil {
		ep.manager.RemoveSession(session)
		return nil, fmt.Errorf("processing destination hello: %w", err)
	}

	return []*Outbound{{WireType: WireTypeFinished, Content: finished}}, nil
}

func (ep *Endpoint) handleFinished(content []byte) error {
	msg, err := ParseFinished(content)
	if err != nil {
		return err
	}

	session := ep.manager.GetPendingSession(msg.SessionID)
	if session == nil {
		return fmt.Errorf("no pending session %s", msg.SessionID)
	}

	if err := session.ProcessFinished(msg); err != nil {
		ep.manager.RemoveSession(session)
		return fmt.Errorf("processing finished: %w", err)
	}

	ep.manager.PromotePendingSession(msg.SessionID)
	slog.Debug("session active",
		"peer_did", session.PeerDID(), "session_id", session.SessionID(),
		"secret_key_id", session.SecretKeyID())
	return nil
}

func (ep *Endpoint) handleEncrypted(content []byte) ([]*Outbound, *Received, error) {
	msg, err := ParseEncryptedMessage(content)
	if err != nil {
		return nil, nil, err
	}

	session := ep.manager.GetSessionByKeyID(msg.SecretKeyID)
	if session == nil {
		return []*Outbound{{
			WireType: WireTypeError,
			Content:  BuildError(ErrorCodeKeyNotFound, msg.SecretKeyID),
		}}, nil, nil
	}
	if session.IsExpired() {
		ep.manager.RemoveSession(session)
		return []*Outbound{{
			WireType: WireTypeError,
			Content:  BuildError(ErrorCodeKeyExpired, msg.SecretKeyID),
		}}, nil, nil
	}

	originalType, plaintext, err := session.DecryptMessage(msg)
	if err != nil {
		// a single corrupted message must not tear down the session
		return nil, nil, fmt.Errorf("decrypting message from %s: %w", session.PeerDID(), err)
	}

	return nil, &Received{
		PeerDID:      session.PeerDID(),
		SecretKeyID:  msg.SecretKeyID,
		OriginalType: originalType,
		Plaintext:    plaintext,
	}, nil
}

func (ep *Endpoint) handleError(content []byte) error {
	msg, err := ParseError(content)
	if err != nil {
		return err
	}

	slog.Warn("peer signaled key error",
		"error_code", msg.ErrorCode, "secret_key_id", msg.SecretKeyID)
	if msg.SecretKeyID != "" {
		if session := ep.manager.GetSessionByKeyID(msg.SecretKeyID); session != nil {
			ep.manager.RemoveSession(session)
		}
	}
	return nil
}

// EncryptFor encrypts application plaintext for peerDID over the first
// non-expired active session. The caller must have completed a handshake.
func (ep *Endpoint) EncryptFor(peerDID, typeTag string, plaintext []byte) (*Outbound, error) {
	session := ep.manager.GetActiveSession(ep.identity.DID, peerDID)
	if session == nil {
		return nil, fmt.Errorf("no active session with %s", peerDID)
	}

	msg, err := session.EncryptMessage(typeTag, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypting for %s: %w", peerDID, err)
	}

	return &Outbound{WireType: WireTypeEncrypted, Content: msg}, nil
}
