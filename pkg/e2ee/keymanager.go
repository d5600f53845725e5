package e2ee

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// MaxConcurrentKeys bounds co-valid keys per DID pair, so a rotation
	// in progress does not interrupt traffic on the outgoing key.
	MaxConcurrentKeys = 2

	// HandshakeTimeout is the age past which a pending session is
	// treated as abandoned.
	HandshakeTimeout = 300 * time.Second
)

type pairKey struct {
	local string
	peer  string
}

// RehandshakePair identifies a DID pair left without any usable session
// after a cleanup sweep.
type RehandshakePair struct {
	LocalDID string
	PeerDID  string
}

type pendingEntry struct {
	session      *Session
	registeredAt time.Time
}

// KeyManager is the registry of many sessions: by DID pair, by derived key
// identifier and by pending handshake. A single mutex guards all three
// indices so they cannot drift out of sync under concurrent access. The
// KeyManager never performs I/O and spawns no background tasks; hosts call
// CleanupExpired periodically.
type KeyManager struct {
	mu      sync.RWMutex
	byPair  map[pairKey][]*Session
	byKeyID map[string]*Session
	pending map[string]*pendingEntry
}

func NewKeyManager() *KeyManager {
	return &KeyManager{
		byPair:  make(map[pairKey][]*Session),
		byKeyID: make(map[string]*Session),
		pending: make(map[string]*pendingEntry),
	}
}

// GetActiveSession returns the first indexed, non-expired session for the
// DID pair, or nil. It does not prune expired entries; CleanupExpired does.
func (m *KeyManager) GetActiveSession(localDID, peerDID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.byPair[pairKey{localDID, peerDID}] {
		if !s.IsExpired() {
			return s
		}
	}
	return nil
}

// GetSessionByKeyID returns the active session owning a secret key id, or
// nil. Used when an inbound message carries a key identifier and the peer
// DID is not known.
func (m *KeyManager) GetSessionByKeyID(secretKeyID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byKeyID[secretKeyID]
}

// RegisterPendingSession indexes a session whose handshake is in flight.
func (m *KeyManager) RegisterPendingSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[s.SessionID()] = &pendingEntry{session: s, registeredAt: time.Now()}
}

// GetPendingSession returns the pending session for a session id. An entry
// older than HandshakeTimeout is treated as absent and removed.
func (m *KeyManager) GetPendingSession(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.pending[sessionID]
	if !ok {
		return nil
	}
	if time.Since(entry.registeredAt) > HandshakeTimeout {
		delete(m.pending, sessionID)
		slog.Debug("pending session timed out", "session_id", sessionID)
		return nil
	}
	return entry.session
}

// PromotePendingSession moves a session from the pending index to the
// active indices. A missing entry is a no-op with a warning.
func (m *KeyManager) PromotePendingSession(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.pending[sessionID]
	if !ok {
		slog.Warn("pending session not found for promotion", "session_id", sessionID)
		return nil
	}
	delete(m.pending, sessionID)
	m.registerLocked(entry.session)
	return entry.session
}

// RegisterSession directly indexes an already-active session.
func (m *KeyManager) RegisterSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerLocked(s)
}

// registerLocked appends to the pair list in insertion order, evicting the
// oldest entry past MaxConcurrentKeys, and keeps byKeyID consistent.
func (m *KeyManager) registerLocked(s *Session) {
	key := pairKey{s.LocalDID(), s.PeerDID()}
	sessions := append(m.byPair[key], s)
	for len(sessions) > MaxConcurrentKeys {
		evicted := sessions[0]
		sessions = sessions[1:]
		if evicted.SecretKeyID() != "" {
			delete(m.byKeyID, evicted.SecretKeyID())
		}
		slog.Debug("evicted oldest session for pair",
			"local_did", s.LocalDID(), "peer_did", s.PeerDID(),
			"session_id", evicted.SessionID())
	}
	m.byPair[key] = sessions
	if s.SecretKeyID() != "" {
		m.byKeyID[s.SecretKeyID()] = s
	}
}

// RemoveSession removes a session from all three indices unconditionally.
func (m *KeyManager) RemoveSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, s.SessionID())
	if s.SecretKeyID() != "" {
		delete(m.byKeyID, s.SecretKeyID())
	}
	key := pairKey{s.LocalDID(), s.PeerDID()}
	m.byPair[key] = removeFromList(m.byPair[key], s)
	if len(m.byPair[key]) == 0 {
		delete(m.byPair, key)
	}
}

// CleanupExpired sweeps expired sessions and timed-out pending handshakes.
// It returns the DID pairs left with zero sessions, signaling that a
// rehandshake is needed before traffic can flow again.
func (m *KeyManager) CleanupExpired() []RehandshakePair {
	m.mu.Lock()
	defer m.mu.Unlock()

	var needRehandshake []RehandshakePair
	for key, sessions := range m.byPair {
		kept := sessions[:0]
		for _, s := range sessions {
			if s.IsExpired() {
				if s.SecretKeyID() != "" {
					delete(m.byKeyID, s.SecretKeyID())
				}
				slog.Debug("removed expired session",
					"local_did", key.local, "peer_did", key.peer,
					"session_id", s.SessionID())
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(m.byPair, key)
			needRehandshake = append(needRehandshake, RehandshakePair{
				LocalDID: key.local,
				PeerDID:  key.peer,
			})
			continue
		}
		m.byPair[key] = kept
	}

	for sessionID, entry := range m.pending {
		if time.Since(entry.registeredAt) > HandshakeTimeout {
			delete(m.pending, sessionID)
			slog.Debug("removed timed-out pending session", "session_id", sessionID)
		}
	}

	return needRehandshake
}

func removeFromList(sessions []*Session, target *Session) []*Session {
	kept := sessions[:0]
	for _, s := range sessions {
		if s != target {
			kept = append(kept, s)
		}
	}
	return kept
}
