package app

import (
	"context"
	"strings"
	"testing"

	"github.com/stagelink/server/internal/core"
	"github.com/stagelink/server/internal/domain"
)

func TestCreateStreamSeatsByKind(t *testing.T) {
	tests := []struct {
		kind  domain.RoomKind
		seats int
	}{
		{domain.KindAudioOnly, 9},
		{domain.KindMultiVideo, 5},
		{domain.KindSingleSpeaker, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			c, store, _ := newTestCoordinator(t)
			creds, err := c.CreateStream(context.Background(), CreateStreamParams{
				Identity: "alice",
				Kind:     tt.kind,
			})
			if err != nil {
				t.Fatalf("CreateStream: %v", err)
			}
			if creds.ConnectionToken == "" || creds.AuthToken == "" {
				t.Fatalf("missing credentials: %+v", creds)
			}
			room := getRoom(t, store, creds.RoomName)
			if len(room.Metadata.Seats) != tt.seats {
				t.Fatalf("seats = %d, want %d", len(room.Metadata.Seats), tt.seats)
			}
			if !getMeta(t, store, creds.RoomName, "alice").InvitedToStage {
				t.Fatalf("creator must start on stage")
			}
		})
	}
}

func TestCreateStreamRejectsUnknownKind(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	if _, err := c.CreateStream(context.Background(), CreateStreamParams{Identity: "alice", Kind: "karaoke"}); err == nil {
		t.Fatalf("unknown kind must fail")
	}
}

func TestCreateStreamGeneratedName(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	creds, err := c.CreateStream(context.Background(), CreateStreamParams{Identity: "alice", Kind: domain.KindSingleSpeaker})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if len(creds.RoomName) != 9 || !strings.Contains(creds.RoomName, "-") {
		t.Fatalf("generated name %q not of the form xxxx-xxxx", creds.RoomName)
	}
}

func TestJoinStreamGuards(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	seedRoom(t, store, "room", "host", domain.KindAudioOnly)

	creds, status, err := c.JoinStream(context.Background(), "room", "guest")
	if err != nil || status.Code != StatusOK {
		t.Fatalf("JoinStream = %+v, %v", status, err)
	}
	claims, err := c.Tokens.Verify(creds.ConnectionToken)
	if err != nil {
		t.Fatalf("verify connection token: %v", err)
	}
	if claims.Grants.CanPublish {
		t.Fatalf("audience join must be subscribe-only, got %+v", claims.Grants)
	}

	if _, status, _ = c.JoinStream(context.Background(), "room", "guest"); status.Code != StatusAlreadyInState {
		t.Fatalf("duplicate join status = %+v, want already_in_state", status)
	}

	room := getRoom(t, store, "room")
	room.Metadata.Blocked = []string{"banned"}
	if err := store.UpdateRoomMetadata(context.Background(), "room", room.Metadata); err != nil {
		t.Fatalf("update room: %v", err)
	}
	if _, status, _ = c.JoinStream(context.Background(), "room", "banned"); status.Code != StatusRejected {
		t.Fatalf("blocked join status = %+v, want rejected", status)
	}
}

func TestStopStreamCreatorOnly(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	seedRoom(t, store, "room", "host", domain.KindSingleSpeaker)
	seedParticipant(t, store, "room", "guest", domain.NewParticipantMetadata())

	if _, err := c.StopStream(context.Background(), Session{Identity: "guest", RoomName: "room"}); err == nil {
		t.Fatalf("non-creator stop must fail")
	}
	status, err := c.StopStream(context.Background(), Session{Identity: "host", RoomName: "room"})
	if err != nil || status.Code != StatusOK {
		t.Fatalf("StopStream = %+v, %v", status, err)
	}
	if _, err := store.ListParticipants(context.Background(), "room"); err == nil {
		t.Fatalf("room must be gone after stop")
	}
}

func TestSendDataChatDisabled(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	seedRoom(t, store, "room", "host", domain.KindSingleSpeaker)
	room := getRoom(t, store, "room")
	room.Metadata.ChatEnabled = false
	if err := store.UpdateRoomMetadata(context.Background(), "room", room.Metadata); err != nil {
		t.Fatalf("update room: %v", err)
	}
	seedParticipant(t, store, "room", "guest", domain.NewParticipantMetadata())

	status, err := c.SendData(context.Background(), Session{Identity: "guest", RoomName: "room"}, "hi")
	if err != nil {
		t.Fatalf("SendData: %v", err)
	}
	if status.Code != StatusRejected {
		t.Fatalf("status = %+v, want rejected", status)
	}
	// The creator may still talk.
	if status, _ = c.SendData(context.Background(), Session{Identity: "host", RoomName: "room"}, "hi"); status.Code != StatusOK {
		t.Fatalf("creator status = %+v, want ok", status)
	}
}

func TestSendDataFansOutToBattlePeer(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	seedRoom(t, store, "red", "alice", domain.KindSingleSpeaker)
	seedRoom(t, store, "blue", "bob", domain.KindSingleSpeaker)
	acceptBattle(t, c)

	before := len(store.Messages())
	status, err := c.SendData(context.Background(), Session{Identity: "alice", RoomName: "red"}, "gl hf")
	if err != nil || status.Code != StatusOK {
		t.Fatalf("SendData = %+v, %v", status, err)
	}
	msgs := store.Messages()[before:]
	if len(msgs) != 2 {
		t.Fatalf("battle chat must reach both rooms, got %d messages", len(msgs))
	}
	rooms := map[string]bool{msgs[0].Room: true, msgs[1].Room: true}
	if !rooms["red"] || !rooms["blue"] {
		t.Fatalf("chat rooms = %v, want red and blue", rooms)
	}
}

func TestSendDataFansOutToTeamSiblings(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	seedRoom(t, store, "red", "alice", domain.KindSingleSpeaker)
	seedRoom(t, store, "blue", "bob", domain.KindSingleSpeaker)
	acceptFirstTeam(t, c, domain.TeamVersus4)

	before := len(store.Messages())
	status, err := c.SendData(context.Background(), Session{Identity: "bob", RoomName: "blue"}, "hello")
	if err != nil || status.Code != StatusOK {
		t.Fatalf("SendData = %+v, %v", status, err)
	}
	msgs := store.Messages()[before:]
	if len(msgs) != 2 {
		t.Fatalf("team chat must reach every room, got %d messages", len(msgs))
	}
}

func TestSetChatEnabled(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	seedRoom(t, store, "room", "host", domain.KindSingleSpeaker)

	if status, _ := c.SetChatEnabled(context.Background(), Session{Identity: "host", RoomName: "room"}, true); status.Code != StatusAlreadyInState {
		t.Fatalf("same-state toggle = %+v, want already_in_state", status)
	}
	status, err := c.SetChatEnabled(context.Background(), Session{Identity: "host", RoomName: "room"}, false)
	if err != nil || status.Code != StatusOK {
		t.Fatalf("SetChatEnabled = %+v, %v", status, err)
	}
	if getRoom(t, store, "room").Metadata.ChatEnabled {
		t.Fatalf("chat not disabled")
	}
}

func TestMuteTracksByKind(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	seedRoom(t, store, "room", "host", domain.KindMultiVideo)
	meta := domain.NewParticipantMetadata()
	meta.InvitedToStage = true
	seedParticipant(t, store, "room", "speaker", meta)
	if err := store.SetTracks("room", "speaker", []core.Track{
		{SID: "a1", Kind: core.TrackAudio},
		{SID: "v1", Kind: core.TrackVideo},
	}); err != nil {
		t.Fatalf("set tracks: %v", err)
	}

	status, err := c.MuteTracks(context.Background(), Session{Identity: "host", RoomName: "room"}, "speaker", core.TrackAudio, true)
	if err != nil || status.Code != StatusOK {
		t.Fatalf("MuteTracks = %+v, %v", status, err)
	}
	p, err := store.GetParticipant(context.Background(), "room", "speaker")
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	for _, track := range p.Tracks {
		if track.Kind == core.TrackAudio && !track.Muted {
			t.Fatalf("audio track not muted: %+v", track)
		}
		if track.Kind == core.TrackVideo && track.Muted {
			t.Fatalf("video track must stay live: %+v", track)
		}
	}
}

func TestBlockParticipant(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	seedRoom(t, store, "room", "host", domain.KindSingleSpeaker)
	seedParticipant(t, store, "room", "troll", domain.NewParticipantMetadata())
	session := Session{Identity: "host", RoomName: "room"}

	status, err := c.BlockParticipant(context.Background(), session, "troll")
	if err != nil || status.Code != StatusOK {
		t.Fatalf("BlockParticipant = %+v, %v", status, err)
	}
	blockedRoom := getRoom(t, store, "room")
	if !blockedRoom.Metadata.IsBlocked("troll") {
		t.Fatalf("identity not on block list")
	}
	if status, _ = c.BlockParticipant(context.Background(), session, "troll"); status.Code != StatusAlreadyInState {
		t.Fatalf("repeat block = %+v, want already_in_state", status)
	}
	if status, _ = c.BlockParticipant(context.Background(), session, "host"); status.Code != StatusRejected {
		t.Fatalf("blocking the creator = %+v, want rejected", status)
	}
	if _, status, _ = c.JoinStream(context.Background(), "room", "troll"); status.Code != StatusRejected {
		t.Fatalf("blocked rejoin = %+v, want rejected", status)
	}
}
