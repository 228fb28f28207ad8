package broker

import (
	"sync"
	"time"

	"pkt.systems/pslog"
)

// ControlSession authorizes one viewer to drive one agent. Sessions are
// owned here; the frame and input relays only read them through
// IsAuthorized.
type ControlSession struct {
	Token    string
	ViewerID string
	AgentID  string
	RoomID   string
	IssuedAt time.Time
	Revoked  bool
}

type sessionKey struct {
	viewer string
	agent  string
}

// Sessions issues, tracks, and revokes control tokens. Control is
// exclusive by default: a new grant against an agent displaces earlier
// viewers. MultiGrant opts in to simultaneous viewers with independent
// tokens.
type Sessions struct {
	mu         sync.RWMutex
	byToken    map[string]*ControlSession
	byPair     map[sessionKey]*ControlSession
	byAgent    map[string]map[string]*ControlSession // agentID -> token -> session
	byViewer   map[string]map[string]*ControlSession
	multiGrant bool
	now        func() time.Time
	logger     pslog.Logger
}

// NewSessions returns an empty session table.
func NewSessions(multiGrant bool, logger pslog.Logger) *Sessions {
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	return &Sessions{
		byToken:    make(map[string]*ControlSession),
		byPair:     make(map[sessionKey]*ControlSession),
		byAgent:    make(map[string]map[string]*ControlSession),
		byViewer:   make(map[string]map[string]*ControlSession),
		multiGrant: multiGrant,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// Grant mints a fresh token for the viewer/agent pair. In exclusive mode
// the displaced sessions of other viewers are revoked and returned so the
// broker can notify them.
func (s *Sessions) Grant(viewerID, agentID, roomID string) (ControlSession, []ControlSession, error) {
	token, err := newControlToken()
	if err != nil {
		return ControlSession{}, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var displaced []ControlSession
	if !s.multiGrant {
		for _, old := range s.byAgent[agentID] {
			if old.ViewerID == viewerID {
				continue
			}
			s.revokeLocked(old)
			displaced = append(displaced, *old)
		}
	}
	// A repeat grant for the same pair replaces the previous token.
	if old, ok := s.byPair[sessionKey{viewer: viewerID, agent: agentID}]; ok {
		s.revokeLocked(old)
	}

	session := &ControlSession{
		Token:    token,
		ViewerID: viewerID,
		AgentID:  agentID,
		RoomID:   roomID,
		IssuedAt: s.now(),
	}
	s.indexLocked(session)
	s.logger.Debug("control session granted", "viewer", viewerID, "agent", agentID, "room", roomID)
	return *session, displaced, nil
}

// Resume revalidates a token for a reconnected viewer and rebinds the
// session to its new connection id. currentRoom is the room the new
// connection currently occupies.
func (s *Sessions) Resume(token, connID, currentRoom string) (ControlSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byToken[token]
	if !ok || session.Revoked {
		return ControlSession{}, ErrTokenExpired
	}
	if currentRoom == "" || currentRoom != session.RoomID {
		return ControlSession{}, ErrRoomMismatch
	}
	if session.ViewerID != connID {
		s.unindexLocked(session)
		session.ViewerID = connID
		s.indexLocked(session)
	}
	return *session, nil
}

// Revoke marks a token revoked. Idempotent: revoking an unknown or
// already-revoked token succeeds.
func (s *Sessions) Revoke(token string) (ControlSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byToken[token]
	if !ok || session.Revoked {
		return ControlSession{}, false
	}
	s.revokeLocked(session)
	return *session, true
}

// RevokeAll revokes every session the connection holds or is the target
// of. Returns the sessions that were live so counterparties get notified.
func (s *Sessions) RevokeAll(connID string) []ControlSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	var revoked []ControlSession
	for _, session := range s.byViewer[connID] {
		s.revokeLocked(session)
		revoked = append(revoked, *session)
	}
	for _, session := range s.byAgent[connID] {
		s.revokeLocked(session)
		revoked = append(revoked, *session)
	}
	return revoked
}

// IsAuthorized is the single check the relays call before routing a
// message. Constant-time in the number of active sessions.
func (s *Sessions) IsAuthorized(viewerID, agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.byPair[sessionKey{viewer: viewerID, agent: agentID}]
	return ok && !session.Revoked
}

// ViewersOf returns the viewer connection ids currently authorized
// against the agent.
func (s *Sessions) ViewersOf(agentID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	viewers := make([]string, 0, len(s.byAgent[agentID]))
	for _, session := range s.byAgent[agentID] {
		viewers = append(viewers, session.ViewerID)
	}
	return viewers
}

// AgentFor resolves the agent a viewer drives when the viewer holds
// exactly one active session. Returns false otherwise.
func (s *Sessions) AgentFor(viewerID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.byViewer[viewerID]) != 1 {
		return "", false
	}
	for _, session := range s.byViewer[viewerID] {
		return session.AgentID, true
	}
	return "", false
}

func (s *Sessions) indexLocked(session *ControlSession) {
	s.byToken[session.Token] = session
	s.byPair[sessionKey{viewer: session.ViewerID, agent: session.AgentID}] = session
	if s.byAgent[session.AgentID] == nil {
		s.byAgent[session.AgentID] = make(map[string]*ControlSession)
	}
	s.byAgent[session.AgentID][session.Token] = session
	if s.byViewer[session.ViewerID] == nil {
		s.byViewer[session.ViewerID] = make(map[string]*ControlSession)
	}
	s.byViewer[session.ViewerID][session.Token] = session
}

func (s *Sessions) unindexLocked(session *ControlSession) {
	delete(s.byPair, sessionKey{viewer: session.ViewerID, agent: session.AgentID})
	if tokens := s.byAgent[session.AgentID]; tokens != nil {
		delete(tokens, session.Token)
		if len(tokens) == 0 {
			delete(s.byAgent, session.AgentID)
		}
	}
	if tokens := s.byViewer[session.ViewerID]; tokens != nil {
		delete(tokens, session.Token)
		if len(tokens) == 0 {
			delete(s.byViewer, session.ViewerID)
		}
	}
}

func (s *Sessions) revokeLocked(session *ControlSession) {
	session.Revoked = true
	s.unindexLocked(session)
	delete(s.byToken, session.Token)
}
