package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stagelink/server/internal/core"
	"github.com/stagelink/server/internal/domain"
)

func acceptFirstTeam(t *testing.T, c *Coordinator, variant domain.TeamVariant) {
	t.Helper()
	status, err := c.AcceptTeam(context.Background(), Session{Identity: "bob", RoomName: "blue"}, AcceptTeamParams{
		RoomName:   "red",
		Variant:    variant,
		TTLSeconds: 600,
	})
	if err != nil {
		t.Fatalf("AcceptTeam first merge: %v", err)
	}
	if status.Code != StatusOK {
		t.Fatalf("first merge status = %+v, want ok", status)
	}
}

func joinTeamVia(t *testing.T, c *Coordinator, identity, room string) Status {
	t.Helper()
	status, err := c.AcceptTeam(context.Background(), Session{Identity: identity, RoomName: room}, AcceptTeamParams{
		RoomName: "red",
	})
	if err != nil {
		t.Fatalf("AcceptTeam join via red: %v", err)
	}
	return status
}

func TestAcceptTeamFirstMerge(t *testing.T) {
	c, store, tasks := newTestCoordinator(t)
	seedRoom(t, store, "red", "alice", domain.KindSingleSpeaker)
	seedRoom(t, store, "blue", "bob", domain.KindSingleSpeaker)

	acceptFirstTeam(t, c, domain.TeamVersus6)

	red := getRoom(t, store, "red").Metadata.Team
	blue := getRoom(t, store, "blue").Metadata.Team
	if red == nil || blue == nil {
		t.Fatalf("both rooms must carry team state")
	}
	if red.TeamID == "" || red.TeamID != blue.TeamID {
		t.Fatalf("team id mismatch: %q vs %q", red.TeamID, blue.TeamID)
	}
	if red.AdminIdentity != "alice" || blue.AdminIdentity != "alice" {
		t.Fatalf("admin must be the inviter's creator")
	}
	if !red.Defending || blue.Defending {
		t.Fatalf("only the inviter room defends: red=%v blue=%v", red.Defending, blue.Defending)
	}
	if !red.HasMember("bob") || !blue.HasMember("alice") {
		t.Fatalf("member ledgers wrong: red=%v blue=%v", red.Members, blue.Members)
	}

	aliceTokens := getMeta(t, store, "red", "alice").TeamAccessTokens
	if len(aliceTokens) != 1 {
		t.Fatalf("alice must hold one team token, got %d", len(aliceTokens))
	}
	claims, err := c.Tokens.Decode(aliceTokens[0])
	if err != nil || claims.Room != "blue" {
		t.Fatalf("alice token must scope blue, got %+v (%v)", claims, err)
	}
	if len(*tasks) != 1 {
		t.Fatalf("first merge must schedule exactly one expiry, got %d", len(*tasks))
	}
}

func TestAcceptTeamQuota(t *testing.T) {
	// versus-4 allows one extra room after the first merge, versus-6 two.
	tests := []struct {
		name    string
		variant domain.TeamVariant
		extra   int
	}{
		{"versus-4", domain.TeamVersus4, 1},
		{"versus-6", domain.TeamVersus6, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, store, _ := newTestCoordinator(t)
			seedRoom(t, store, "red", "alice", domain.KindSingleSpeaker)
			seedRoom(t, store, "blue", "bob", domain.KindSingleSpeaker)
			acceptFirstTeam(t, c, tt.variant)

			joiners := []struct{ identity, room string }{
				{"carol", "green"}, {"dave", "yellow"}, {"erin", "purple"},
			}
			for i, j := range joiners[:tt.extra+1] {
				seedRoom(t, store, j.room, j.identity, domain.KindSingleSpeaker)
				status := joinTeamVia(t, c, j.identity, j.room)
				if i < tt.extra && status.Code != StatusOK {
					t.Fatalf("join %d status = %+v, want ok", i+1, status)
				}
				if i == tt.extra && status.Code != StatusRejected {
					t.Fatalf("join past quota status = %+v, want rejected", status)
				}
			}
		})
	}
}

func TestAcceptTeamCrossTokens(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	seedRoom(t, store, "red", "alice", domain.KindSingleSpeaker)
	seedRoom(t, store, "blue", "bob", domain.KindSingleSpeaker)
	seedRoom(t, store, "green", "carol", domain.KindSingleSpeaker)
	acceptFirstTeam(t, c, domain.TeamVersus6)
	joinTeamVia(t, c, "carol", "green")

	// Carol holds one token per sibling room; every sibling creator gained a
	// token into carol's room.
	carolTokens := getMeta(t, store, "green", "carol").TeamAccessTokens
	rooms := map[string]bool{}
	for _, tok := range carolTokens {
		claims, err := c.Tokens.Decode(tok)
		if err != nil {
			t.Fatalf("decode carol token: %v", err)
		}
		rooms[claims.Room] = true
	}
	if len(carolTokens) != 2 || !rooms["red"] || !rooms["blue"] {
		t.Fatalf("carol tokens must scope red and blue, got %v", rooms)
	}

	aliceTokens := getMeta(t, store, "red", "alice").TeamAccessTokens
	if len(aliceTokens) != 2 {
		t.Fatalf("alice must hold two team tokens, got %d", len(aliceTokens))
	}
	last, err := c.Tokens.Decode(aliceTokens[1])
	if err != nil || last.Room != "green" {
		t.Fatalf("alice's new token must scope green, got %+v (%v)", last, err)
	}

	if used := getRoom(t, store, "red").Metadata.Team.InvitesUsed; used != 1 {
		t.Fatalf("inviter room invites used = %d, want 1", used)
	}
	if used := getRoom(t, store, "green").Metadata.Team.InvitesUsed; used != 0 {
		t.Fatalf("joined room must start with zero invites used, got %d", used)
	}
}

func TestRemoveTeamMemberPrunesSiblings(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	seedRoom(t, store, "red", "alice", domain.KindSingleSpeaker)
	seedRoom(t, store, "blue", "bob", domain.KindSingleSpeaker)
	seedRoom(t, store, "green", "carol", domain.KindSingleSpeaker)
	acceptFirstTeam(t, c, domain.TeamVersus6)
	joinTeamVia(t, c, "carol", "green")

	status, err := c.RemoveTeamMember(context.Background(), Session{Identity: "alice", RoomName: "red"}, "bob")
	if err != nil {
		t.Fatalf("RemoveTeamMember: %v", err)
	}
	if status.Code != StatusOK {
		t.Fatalf("status = %+v, want ok", status)
	}

	if getRoom(t, store, "blue").Metadata.Team != nil {
		t.Fatalf("removed member's home room must leave the team")
	}
	if getMeta(t, store, "blue", "bob").TeamAccessTokens != nil {
		t.Fatalf("removed member's tokens must be cleared")
	}
	red := getRoom(t, store, "red").Metadata.Team
	green := getRoom(t, store, "green").Metadata.Team
	if red == nil || green == nil {
		t.Fatalf("remaining rooms must stay in the team")
	}
	if red.HasMember("bob") || green.HasMember("bob") {
		t.Fatalf("siblings must prune the removed member from their ledgers")
	}
	for _, tok := range getMeta(t, store, "red", "alice").TeamAccessTokens {
		claims, err := c.Tokens.Decode(tok)
		if err != nil {
			t.Fatalf("decode token: %v", err)
		}
		if claims.Room == "blue" {
			t.Fatalf("alice must no longer hold a token into the removed room")
		}
	}
}

func TestRemoveTeamMemberAuthority(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	seedRoom(t, store, "red", "alice", domain.KindSingleSpeaker)
	seedRoom(t, store, "blue", "bob", domain.KindSingleSpeaker)
	seedRoom(t, store, "green", "carol", domain.KindSingleSpeaker)
	acceptFirstTeam(t, c, domain.TeamVersus6)
	joinTeamVia(t, c, "carol", "green")

	// A non-admin may not remove someone else, but may remove itself.
	if _, err := c.RemoveTeamMember(context.Background(), Session{Identity: "bob", RoomName: "blue"}, "carol"); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	status, err := c.RemoveTeamMember(context.Background(), Session{Identity: "bob", RoomName: "blue"}, "bob")
	if err != nil || status.Code != StatusOK {
		t.Fatalf("self removal = %+v, %v", status, err)
	}
}

func TestEndTeamThenExpiryIsNoOp(t *testing.T) {
	c, store, tasks := newTestCoordinator(t)
	seedRoom(t, store, "red", "alice", domain.KindSingleSpeaker)
	seedRoom(t, store, "blue", "bob", domain.KindSingleSpeaker)
	acceptFirstTeam(t, c, domain.TeamVersus4)

	if _, err := c.EndTeam(context.Background(), Session{Identity: "bob", RoomName: "blue"}); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("non-admin end error = %v, want ErrUnauthorized", err)
	}
	status, err := c.EndTeam(context.Background(), Session{Identity: "alice", RoomName: "red"})
	if err != nil || status.Code != StatusOK {
		t.Fatalf("EndTeam = %+v, %v", status, err)
	}
	if getRoom(t, store, "red").Metadata.Team != nil || getRoom(t, store, "blue").Metadata.Team != nil {
		t.Fatalf("team state must clear on every room")
	}

	(*tasks)[0]()
	if getRoom(t, store, "red").Metadata.Team != nil || getRoom(t, store, "blue").Metadata.Team != nil {
		t.Fatalf("expiry after explicit end must be a no-op")
	}
}

func TestExpiryClearsActiveTeam(t *testing.T) {
	c, store, tasks := newTestCoordinator(t)
	seedRoom(t, store, "red", "alice", domain.KindSingleSpeaker)
	seedRoom(t, store, "blue", "bob", domain.KindSingleSpeaker)
	acceptFirstTeam(t, c, domain.TeamVersus4)

	(*tasks)[0]()
	if getRoom(t, store, "red").Metadata.Team != nil || getRoom(t, store, "blue").Metadata.Team != nil {
		t.Fatalf("expiry must clear team state on every room")
	}
	if getMeta(t, store, "red", "alice").TeamAccessTokens != nil {
		t.Fatalf("expiry must clear the admin's team tokens")
	}
}
