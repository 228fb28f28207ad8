package broker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"
)

// DefaultRequestTTL bounds how long an unanswered access request stays
// pending before it expires as a denial.
const DefaultRequestTTL = 120 * time.Second

// RequestStatus is the state of an access request.
type RequestStatus string

// Access request states. Pending is the only non-terminal state.
const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
	RequestExpired  RequestStatus = "expired"
)

// AccessRequest is an in-flight permission handshake between a requester
// and the owner of the screen it wants to view.
type AccessRequest struct {
	ID          string
	RequesterID string
	TargetID    string
	RoomID      string
	CreatedAt   time.Time
	Status      RequestStatus
}

type requestKey struct {
	requester string
	target    string
}

// Permissions runs the request/accept/reject handshake. At most one
// pending request exists per (requester, target) pair; a newer submission
// supersedes the older one.
type Permissions struct {
	mu       sync.Mutex
	pending  map[requestKey]*AccessRequest
	byID     map[string]*AccessRequest
	registry *Registry
	ttl      time.Duration
	now      func() time.Time
	logger   pslog.Logger
}

// NewPermissions returns an empty coordinator. A ttl of zero falls back
// to DefaultRequestTTL.
func NewPermissions(registry *Registry, ttl time.Duration, logger pslog.Logger) *Permissions {
	if ttl <= 0 {
		ttl = DefaultRequestTTL
	}
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	return &Permissions{
		pending:  make(map[requestKey]*AccessRequest),
		byID:     make(map[string]*AccessRequest),
		registry: registry,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Submit opens a pending request from requester to target. Both must be
// members of roomID. An existing pending request for the same pair is
// superseded: it transitions to expired and only the new one resolves.
func (pc *Permissions) Submit(requesterID, targetID, roomID string) (AccessRequest, error) {
	requester, err := pc.registry.Lookup(requesterID)
	if err != nil || requester.RoomID == "" || requester.RoomID != roomID {
		return AccessRequest{}, ErrNotInRoom
	}
	target, err := pc.registry.Lookup(targetID)
	if err != nil || target.RoomID != roomID {
		return AccessRequest{}, ErrNotInRoom
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	key := requestKey{requester: requesterID, target: targetID}
	if old, ok := pc.pending[key]; ok {
		old.Status = RequestExpired
		delete(pc.byID, old.ID)
		pc.logger.Debug("superseded pending request", "request", old.ID)
	}
	req := &AccessRequest{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		TargetID:    targetID,
		RoomID:      roomID,
		CreatedAt:   pc.now(),
		Status:      RequestPending,
	}
	pc.pending[key] = req
	pc.byID[req.ID] = req
	return *req, nil
}

// Resolve transitions a pending request to accepted or rejected. Only the
// designated target may resolve; a stale request id fails with
// ErrNoSuchRequest so superseded prompts cannot be acted on.
func (pc *Permissions) Resolve(targetID, requesterID, requestID string, accepted bool) (AccessRequest, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if requestID != "" {
		req, ok := pc.byID[requestID]
		if !ok {
			return AccessRequest{}, ErrNoSuchRequest
		}
		if req.TargetID != targetID {
			return AccessRequest{}, ErrUnauthorized
		}
		return pc.resolveLocked(req, accepted), nil
	}

	key := requestKey{requester: requesterID, target: targetID}
	req, ok := pc.pending[key]
	if !ok {
		return AccessRequest{}, ErrNoSuchRequest
	}
	return pc.resolveLocked(req, accepted), nil
}

func (pc *Permissions) resolveLocked(req *AccessRequest, accepted bool) AccessRequest {
	if accepted {
		req.Status = RequestAccepted
	} else {
		req.Status = RequestRejected
	}
	delete(pc.pending, requestKey{requester: req.RequesterID, target: req.TargetID})
	delete(pc.byID, req.ID)
	return *req
}

// ExpireStale transitions pending requests older than the TTL to expired
// and returns them so the broker can notify the requesters with a denial.
func (pc *Permissions) ExpireStale() []AccessRequest {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	cutoff := pc.now().Add(-pc.ttl)
	var expired []AccessRequest
	for key, req := range pc.pending {
		if req.CreatedAt.Before(cutoff) {
			req.Status = RequestExpired
			delete(pc.pending, key)
			delete(pc.byID, req.ID)
			expired = append(expired, *req)
		}
	}
	return expired
}

// DropFor expires pending requests involving a departed connection, as
// requester or as target, and returns those where the counterparty still
// needs a denial notification.
func (pc *Permissions) DropFor(connID string) []AccessRequest {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	var dropped []AccessRequest
	for key, req := range pc.pending {
		if req.RequesterID != connID && req.TargetID != connID {
			continue
		}
		req.Status = RequestExpired
		delete(pc.pending, key)
		delete(pc.byID, req.ID)
		dropped = append(dropped, *req)
	}
	return dropped
}
