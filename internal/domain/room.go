// Package domain holds the metadata documents this service stores on the
// external room service, plus pure transformations over them. No I/O here.
package domain

import (
	"math/rand"
	"time"
)

type RoomKind string

const (
	KindSingleSpeaker RoomKind = "single-speaker"
	KindAudioOnly     RoomKind = "audio-only"
	KindMultiVideo    RoomKind = "multi-video"
	KindBattleLinked  RoomKind = "battle-linked"
	KindTeam          RoomKind = "team"
)

func (k RoomKind) Valid() bool {
	switch k {
	case KindSingleSpeaker, KindAudioOnly, KindMultiVideo, KindBattleLinked, KindTeam:
		return true
	}
	return false
}

// SeatCount is the fixed seat count for seat-based kinds, 0 for the rest.
func (k RoomKind) SeatCount() int {
	switch k {
	case KindAudioOnly:
		return 9
	case KindMultiVideo:
		return 5
	}
	return 0
}

// StageCeiling is how many participants may already be on stage before one
// more admission is refused.
func (k RoomKind) StageCeiling() int {
	if k == KindAudioOnly {
		return 8
	}
	return 4
}

type BattleSide string

const (
	BattleSideSrc BattleSide = "src"
	BattleSideTgt BattleSide = "tgt"
)

// BattleState marks a room as one half of an active pairwise merge.
type BattleState struct {
	Side       BattleSide `json:"side"`
	TTLSeconds int64      `json:"ttl_seconds"`
	CreatedAt  time.Time  `json:"created_at"`
}

type TeamVariant string

const (
	TeamVersus4 TeamVariant = "versus-4"
	TeamVersus6 TeamVariant = "versus-6"
)

// InviteQuota is how many extra rooms the team admin may pull in after the
// first merge.
func (v TeamVariant) InviteQuota() int {
	switch v {
	case TeamVersus4:
		return 1
	case TeamVersus6:
		return 2
	}
	return 0
}

// TeamState is attached to every room belonging to one team. TeamID, the
// admin, the variant, TTLSeconds and CreatedAt are shared verbatim by all
// rooms of the team; the team clock starts once, at first merge.
type TeamState struct {
	TeamID        string      `json:"team_id"`
	AdminIdentity string      `json:"admin_identity"`
	Variant       TeamVariant `json:"variant"`
	TTLSeconds    int64       `json:"ttl_seconds"`
	CreatedAt     time.Time   `json:"created_at"`
	InvitesUsed   int         `json:"invites_used"`
	Defending     bool        `json:"defending"`
	Members       []string    `json:"members"`
}

// Remaining is the team TTL minus elapsed time, clamped at zero.
func (t *TeamState) Remaining(now time.Time) time.Duration {
	deadline := t.CreatedAt.Add(time.Duration(t.TTLSeconds) * time.Second)
	if !now.Before(deadline) {
		return 0
	}
	return deadline.Sub(now)
}

func (t *TeamState) HasMember(identity string) bool {
	for _, m := range t.Members {
		if m == identity {
			return true
		}
	}
	return false
}

func (t *TeamState) AddMember(identity string) {
	if !t.HasMember(identity) {
		t.Members = append(t.Members, identity)
	}
}

func (t *TeamState) RemoveMember(identity string) {
	kept := t.Members[:0]
	for _, m := range t.Members {
		if m != identity {
			kept = append(kept, m)
		}
	}
	t.Members = kept
}

// RoomMetadata is the room document. It is the sole source of truth; every
// operation re-reads it from the store before mutating.
type RoomMetadata struct {
	CreatorIdentity string       `json:"creator_identity"`
	Kind            RoomKind     `json:"kind"`
	ChatEnabled     bool         `json:"chat_enabled"`
	Seats           []Seat       `json:"seats,omitempty"`
	Blocked         []string     `json:"blocked,omitempty"`
	Battle          *BattleState `json:"battle,omitempty"`
	Team            *TeamState   `json:"team,omitempty"`
}

// IsBlocked reports whether identity has been banned from the room.
func (m *RoomMetadata) IsBlocked(identity string) bool {
	for _, b := range m.Blocked {
		if b == identity {
			return true
		}
	}
	return false
}

// Merged reports whether the room is already part of a battle or team link.
func (m *RoomMetadata) Merged() bool {
	return m.Battle != nil || m.Team != nil
}

const roomNameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewRoomName returns a generated room name of the form "xxxx-xxxx".
// The same generator is used for team ids.
func NewRoomName() string {
	buf := make([]byte, 9)
	for i := range buf {
		if i == 4 {
			buf[i] = '-'
			continue
		}
		buf[i] = roomNameAlphabet[rand.Intn(len(roomNameAlphabet))]
	}
	return string(buf)
}
