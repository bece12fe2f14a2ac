package core

import "errors"

var (
	// ErrRoomNotFound reports an absent room; fatal to the current operation.
	ErrRoomNotFound = errors.New("room not found")
	// ErrParticipantNotFound reports an absent participant.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrUnauthorized reports an actor lacking the required role.
	ErrUnauthorized = errors.New("actor is not authorized")
	// ErrBadToken reports an unreadable or unverifiable capability token.
	ErrBadToken = errors.New("invalid token")
)
