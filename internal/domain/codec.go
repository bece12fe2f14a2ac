package domain

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

var (
	ErrBadMetadata    = errors.New("malformed metadata document")
	ErrUnknownKind    = errors.New("unknown room kind")
	ErrSeatInvariant  = errors.New("seat invariant violated")
	ErrMissingCreator = errors.New("missing creator identity")
)

// EncodeRoomMetadata serializes the room document for storage.
func EncodeRoomMetadata(m RoomMetadata) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode room metadata: %w", err)
	}
	return string(raw), nil
}

// DecodeRoomMetadata deserializes-or-rejects a stored room document.
// Permissive "any shape" blobs are not accepted past this boundary.
func DecodeRoomMetadata(raw string) (RoomMetadata, error) {
	var m RoomMetadata
	if raw == "" {
		return m, ErrBadMetadata
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return RoomMetadata{}, fmt.Errorf("%w: %v", ErrBadMetadata, err)
	}
	if !m.Kind.Valid() {
		return RoomMetadata{}, fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	if m.CreatorIdentity == "" {
		return RoomMetadata{}, ErrMissingCreator
	}
	for _, s := range m.Seats {
		if s.Occupied != (s.AssignedIdentity != "") {
			return RoomMetadata{}, fmt.Errorf("%w: seat %d occupancy", ErrSeatInvariant, s.ID)
		}
		if s.Locked && s.Occupied {
			return RoomMetadata{}, fmt.Errorf("%w: seat %d locked and occupied", ErrSeatInvariant, s.ID)
		}
	}
	return m, nil
}

// EncodeParticipantMetadata serializes the participant document for storage.
func EncodeParticipantMetadata(m ParticipantMetadata) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode participant metadata: %w", err)
	}
	return string(raw), nil
}

// participantDoc distinguishes absent seat fields from seat 0 so that old
// documents without them decode to NoSeat.
type participantDoc struct {
	IsAdmin          bool     `json:"is_admin"`
	InvitedToStage   bool     `json:"invited_to_stage"`
	RequestedToCall  bool     `json:"requested_to_call"`
	ReqToPresent     bool     `json:"req_to_present"`
	SeatID           *int     `json:"seat_id"`
	ReqSeatID        *int     `json:"req_seat_id"`
	BattleToken      string   `json:"battle_token"`
	TeamAccessTokens []string `json:"team_access_tokens"`
}

// DecodeParticipantMetadata deserializes a stored participant document.
// An empty blob decodes to the audience state: participants joining through
// the external service start with no metadata at all.
func DecodeParticipantMetadata(raw string) (ParticipantMetadata, error) {
	if raw == "" {
		return NewParticipantMetadata(), nil
	}
	var doc participantDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return ParticipantMetadata{}, fmt.Errorf("%w: %v", ErrBadMetadata, err)
	}
	m := ParticipantMetadata{
		IsAdmin:          doc.IsAdmin,
		InvitedToStage:   doc.InvitedToStage,
		RequestedToCall:  doc.RequestedToCall,
		ReqToPresent:     doc.ReqToPresent,
		SeatID:           NoSeat,
		ReqSeatID:        NoSeat,
		BattleToken:      doc.BattleToken,
		TeamAccessTokens: doc.TeamAccessTokens,
	}
	if doc.SeatID != nil {
		m.SeatID = *doc.SeatID
	}
	if doc.ReqSeatID != nil {
		m.ReqSeatID = *doc.ReqSeatID
	}
	return m, nil
}
