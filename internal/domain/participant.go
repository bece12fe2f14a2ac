package domain

// ParticipantMetadata is the per-participant state document within one room.
// While a participant awaits admission at most one of RequestedToCall and
// ReqToPresent is true; both drop to false once InvitedToStage is granted.
type ParticipantMetadata struct {
	IsAdmin          bool     `json:"is_admin"`
	InvitedToStage   bool     `json:"invited_to_stage"`
	RequestedToCall  bool     `json:"requested_to_call"`
	ReqToPresent     bool     `json:"req_to_present"`
	SeatID           int      `json:"seat_id"`
	ReqSeatID        int      `json:"req_seat_id"`
	BattleToken      string   `json:"battle_token,omitempty"`
	TeamAccessTokens []string `json:"team_access_tokens,omitempty"`
}

// NewParticipantMetadata returns the audience-state document.
func NewParticipantMetadata() ParticipantMetadata {
	return ParticipantMetadata{SeatID: NoSeat, ReqSeatID: NoSeat}
}

// ClearStage resets every admission flag and seat binding, returning the
// participant to the audience.
func (m *ParticipantMetadata) ClearStage() {
	m.InvitedToStage = false
	m.RequestedToCall = false
	m.ReqToPresent = false
	m.SeatID = NoSeat
	m.ReqSeatID = NoSeat
}
