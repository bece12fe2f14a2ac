// Package core defines the service-facing contracts: the remote room store
// and the capability token service. Implementations live in adapters.
package core

import (
	"context"
	"time"

	"github.com/stagelink/server/internal/domain"
)

// Room is the store's view of a room plus its decoded metadata document.
type Room struct {
	Name     string
	Metadata domain.RoomMetadata
}

// Grants is the permission scope carried by capability tokens and applied
// to participants on update.
type Grants struct {
	RoomJoin          bool `json:"room_join"`
	RoomAdmin         bool `json:"room_admin,omitempty"`
	CanPublish        bool `json:"can_publish"`
	CanSubscribe      bool `json:"can_subscribe"`
	CanPublishData    bool `json:"can_publish_data"`
	CanUpdateMetadata bool `json:"can_update_metadata,omitempty"`
}

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is a published media track as reported by the store.
type Track struct {
	SID   string
	Kind  TrackKind
	Muted bool
}

// Participant is the store's view of one identity inside a room.
type Participant struct {
	Identity string
	Metadata domain.ParticipantMetadata
	Grants   Grants
	Tracks   []Track
}

// SendOptions narrows a message to specific identities; empty means the
// whole room.
type SendOptions struct {
	DestinationIdentities []string
}

// RoomStore is the remote room service. Calls are read-then-write with no
// transactions; concurrent writers race and the last write wins. That
// weak-consistency contract shapes every algorithm built on top, so
// implementations must not add locking of their own.
type RoomStore interface {
	CreateRoom(ctx context.Context, name string, meta domain.RoomMetadata) error
	DeleteRoom(ctx context.Context, name string) error
	// ListRooms returns all rooms, or only the named ones when names are given.
	ListRooms(ctx context.Context, names ...string) ([]Room, error)
	ListParticipants(ctx context.Context, room string) ([]Participant, error)
	GetParticipant(ctx context.Context, room, identity string) (Participant, error)
	UpdateParticipant(ctx context.Context, room, identity string, meta domain.ParticipantMetadata, grants Grants) error
	UpdateRoomMetadata(ctx context.Context, room string, meta domain.RoomMetadata) error
	RemoveParticipant(ctx context.Context, room, identity string) error
	SendMessage(ctx context.Context, room string, payload []byte, opts SendOptions) error
	MutePublishedTrack(ctx context.Context, room, identity, trackSID string, muted bool) error
}

// Claims is the decoded content of a capability token.
type Claims struct {
	Identity  string
	Room      string
	Grants    Grants
	ExpiresAt time.Time
}

// TokenService mints and reads signed, time-bounded capability tokens
// scoping an identity's permissions within a named room.
type TokenService interface {
	// Mint signs a token; ttl <= 0 means no expiry.
	Mint(identity, room string, grants Grants, ttl time.Duration) (string, error)
	// Decode reads claims without verifying the signature. Internal
	// bookkeeping only; never use it for authentication.
	Decode(token string) (Claims, error)
	// Verify parses and verifies a token for session introspection.
	Verify(token string) (Claims, error)
}
