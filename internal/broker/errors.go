package broker

import "errors"

// Failure taxonomy for broker operations. Validation errors are reported
// only to the originating connection, never broadcast.
var (
	// ErrDuplicateConnection is returned when a connection id is already registered.
	ErrDuplicateConnection = errors.New("connection already registered")
	// ErrNotFound is returned when a connection id is unknown.
	ErrNotFound = errors.New("participant not found")
	// ErrInvalidInput is returned for an empty name or malformed payload.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidRoomID is returned when a room id is empty.
	ErrInvalidRoomID = errors.New("invalid room id")
	// ErrNotInRoom is returned when requester or target is not a member of the room.
	ErrNotInRoom = errors.New("not in room")
	// ErrNoSuchRequest is returned when no pending access request matches.
	ErrNoSuchRequest = errors.New("no such request")
	// ErrUnauthorized is returned when the wrong actor resolves a request.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenExpired is returned when resuming a revoked or unknown token.
	ErrTokenExpired = errors.New("token expired")
	// ErrRoomMismatch is returned when resuming from outside the originating room.
	ErrRoomMismatch = errors.New("room mismatch")
	// ErrUnknownAgent is returned when a frame publisher is not a registered agent in a room.
	ErrUnknownAgent = errors.New("unknown agent")
)
