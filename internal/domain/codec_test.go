package domain

import (
	"errors"
	"testing"
)

func TestRoomMetadataRoundTrip(t *testing.T) {
	in := RoomMetadata{
		CreatorIdentity: "alice",
		Kind:            KindAudioOnly,
		ChatEnabled:     true,
		Seats:           NewSeats(9),
	}
	AssignSeat(in.Seats, 3, "bob")
	LockSeat(in.Seats, 7, true)

	raw, err := EncodeRoomMetadata(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeRoomMetadata(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.CreatorIdentity != "alice" || out.Kind != KindAudioOnly || !out.ChatEnabled {
		t.Fatalf("round trip mangled header fields: %+v", out)
	}
	if len(out.Seats) != 9 || out.Seats[2].AssignedIdentity != "bob" || !out.Seats[6].Locked {
		t.Fatalf("round trip mangled seats: %+v", out.Seats)
	}
}

func TestDecodeRoomMetadataRejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"empty", "", ErrBadMetadata},
		{"not json", "{nope", ErrBadMetadata},
		{"unknown kind", `{"creator_identity":"a","kind":"karaoke"}`, ErrUnknownKind},
		{"missing creator", `{"kind":"audio-only"}`, ErrMissingCreator},
		{
			"occupied without identity",
			`{"creator_identity":"a","kind":"audio-only","seats":[{"id":1,"occupied":true}]}`,
			ErrSeatInvariant,
		},
		{
			"locked and occupied",
			`{"creator_identity":"a","kind":"audio-only","seats":[{"id":1,"occupied":true,"locked":true,"assigned_identity":"b"}]}`,
			ErrSeatInvariant,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRoomMetadata(tt.raw); !errors.Is(err, tt.wantErr) {
				t.Fatalf("DecodeRoomMetadata(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}

func TestDecodeParticipantMetadataEmptyIsAudience(t *testing.T) {
	m, err := DecodeParticipantMetadata("")
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if m.InvitedToStage || m.SeatID != NoSeat || m.ReqSeatID != NoSeat {
		t.Fatalf("empty blob is not audience state: %+v", m)
	}
}

func TestDecodeParticipantMetadataMissingSeatFields(t *testing.T) {
	m, err := DecodeParticipantMetadata(`{"is_admin":true}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !m.IsAdmin || m.SeatID != NoSeat || m.ReqSeatID != NoSeat {
		t.Fatalf("missing seat fields must decode to NoSeat: %+v", m)
	}
}

func TestParticipantMetadataRoundTrip(t *testing.T) {
	in := NewParticipantMetadata()
	in.InvitedToStage = true
	in.SeatID = 4
	in.BattleToken = "tok"
	in.TeamAccessTokens = []string{"t1", "t2"}

	raw, err := EncodeParticipantMetadata(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeParticipantMetadata(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.InvitedToStage || out.SeatID != 4 || out.BattleToken != "tok" || len(out.TeamAccessTokens) != 2 {
		t.Fatalf("round trip mangled document: %+v", out)
	}
}
