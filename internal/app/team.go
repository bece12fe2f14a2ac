package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stagelink/server/internal/core"
	"github.com/stagelink/server/internal/domain"
)

type teamInvite struct {
	Action          string             `json:"action"`
	MessageID       string             `json:"message_id"`
	CreatorIdentity string             `json:"creator_identity"`
	RoomName        string             `json:"room_name"`
	Variant         domain.TeamVariant `json:"variant"`
	TTLSeconds      int64              `json:"ttl_seconds"`
	Defending       bool               `json:"defending"`
}

// TeamInviteParams names the room whose creator is being invited into the
// actor's team.
type TeamInviteParams struct {
	RoomName   string
	Variant    domain.TeamVariant
	TTLSeconds int64
}

// InviteToTeam delivers a team invite to the target creator. When the
// actor's room already belongs to a team, only the team admin may invite,
// the invite quota must not be exhausted, and the advertised TTL is the
// team's remaining TTL rather than a fresh one.
func (c *Coordinator) InviteToTeam(ctx context.Context, session Session, params TeamInviteParams) (Status, error) {
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	if session.Identity != room.Metadata.CreatorIdentity {
		return Status{}, fmt.Errorf("team invite: %w", core.ErrUnauthorized)
	}
	target, err := c.room(ctx, params.RoomName)
	if err != nil {
		return Status{}, err
	}
	if target.Metadata.Team != nil {
		return conflict("cannot merge two team rooms"), nil
	}
	if room.Metadata.Battle != nil || target.Metadata.Battle != nil {
		return conflict("room is mid-battle"), nil
	}

	invite := teamInvite{
		Action:          "team_invite",
		MessageID:       newMessageID(),
		CreatorIdentity: session.Identity,
		RoomName:        session.RoomName,
		Variant:         params.Variant,
		TTLSeconds:      int64(ttlOrDefault(params.TTLSeconds) / time.Second),
	}
	if team := room.Metadata.Team; team != nil {
		if session.Identity != team.AdminIdentity {
			return Status{}, fmt.Errorf("team invite: only the team admin may invite: %w", core.ErrUnauthorized)
		}
		if team.InvitesUsed >= team.Variant.InviteQuota() {
			return rejected("team invite quota exhausted"), nil
		}
		remaining := team.Remaining(c.now())
		if remaining <= 0 {
			return rejected("team TTL has expired"), nil
		}
		invite.Variant = team.Variant
		invite.TTLSeconds = int64(remaining / time.Second)
		invite.Defending = team.Defending
	}

	if err := c.notify(ctx, params.RoomName, invite, target.Metadata.CreatorIdentity); err != nil {
		return Status{}, err
	}
	log.Info().Str("module", "app.team").Str("from", session.RoomName).
		Str("to", params.RoomName).Msg("team invite sent")
	return ok("team invite sent"), nil
}

// AcceptTeamParams names the inviting room; the session actor is the target
// room's creator confirming the merge.
type AcceptTeamParams struct {
	RoomName   string
	Variant    domain.TeamVariant
	TTLSeconds int64
}

// AcceptTeam merges the actor's room into the inviter's team. On first
// merge it creates the team: fresh team id, inviter's creator as admin,
// membership seeded with the opposite creator, one cross-access token per
// direction, clock started now and teardown scheduled once. On subsequent
// invites it checks quota and remaining TTL, then links the new room with
// every existing team room, minting fresh tokens both ways and extending
// every membership ledger.
func (c *Coordinator) AcceptTeam(ctx context.Context, session Session, params AcceptTeamParams) (Status, error) {
	src, err := c.room(ctx, params.RoomName)
	if err != nil {
		return Status{}, err
	}
	tgt, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	if session.Identity != tgt.Metadata.CreatorIdentity {
		return Status{}, fmt.Errorf("team accept: %w", core.ErrUnauthorized)
	}
	if src.Metadata.Team != nil && tgt.Metadata.Team != nil {
		return conflict("cannot merge two team rooms"), nil
	}
	if src.Metadata.Battle != nil || tgt.Metadata.Battle != nil {
		return conflict("room is mid-battle"), nil
	}

	if src.Metadata.Team != nil {
		return c.joinExistingTeam(ctx, session, src, tgt)
	}
	return c.createTeam(ctx, session, src, tgt, params)
}

func (c *Coordinator) createTeam(ctx context.Context, session Session, src, tgt core.Room, params AcceptTeamParams) (Status, error) {
	variant := params.Variant
	if variant.InviteQuota() == 0 {
		variant = domain.TeamVersus6
	}
	ttl := ttlOrDefault(params.TTLSeconds)
	ttlSeconds := int64(ttl / time.Second)
	now := c.now()
	teamID := domain.NewRoomName()
	srcCreator := src.Metadata.CreatorIdentity

	srcToken, err := c.Tokens.Mint(srcCreator, tgt.Name, publishGrants(), ttl)
	if err != nil {
		return Status{}, err
	}
	tgtToken, err := c.Tokens.Mint(session.Identity, src.Name, publishGrants(), ttl)
	if err != nil {
		return Status{}, err
	}

	src.Metadata.Team = &domain.TeamState{
		TeamID:        teamID,
		AdminIdentity: srcCreator,
		Variant:       variant,
		TTLSeconds:    ttlSeconds,
		CreatedAt:     now,
		Defending:     true,
		Members:       []string{session.Identity},
	}
	tgt.Metadata.Team = &domain.TeamState{
		TeamID:        teamID,
		AdminIdentity: srcCreator,
		Variant:       variant,
		TTLSeconds:    ttlSeconds,
		CreatedAt:     now,
		Members:       []string{srcCreator},
	}

	if err := c.appendTeamToken(ctx, src.Name, srcCreator, srcToken); err != nil {
		return Status{}, err
	}
	if err := c.appendTeamToken(ctx, tgt.Name, session.Identity, tgtToken); err != nil {
		return Status{}, err
	}
	if err := c.Store.UpdateRoomMetadata(ctx, src.Name, src.Metadata); err != nil {
		return Status{}, err
	}
	if err := c.Store.UpdateRoomMetadata(ctx, tgt.Name, tgt.Metadata); err != nil {
		return Status{}, err
	}

	// One timer per team, armed at first merge. Later invites ride the
	// remaining TTL and never re-arm it.
	c.schedule(ttl, func() {
		c.expireTeam(context.Background(), teamID)
	})

	log.Info().Str("module", "app.team").Str("team_id", teamID).
		Str("src", src.Name).Str("tgt", tgt.Name).Int64("ttl_seconds", ttlSeconds).
		Msg("team created")
	return ok("team created"), nil
}

func (c *Coordinator) joinExistingTeam(ctx context.Context, session Session, src, tgt core.Room) (Status, error) {
	team := src.Metadata.Team
	if team.InvitesUsed >= team.Variant.InviteQuota() {
		return rejected("team invite quota exhausted"), nil
	}
	remaining := team.Remaining(c.now())
	if remaining <= 0 {
		return rejected("team TTL has expired"), nil
	}

	siblings, err := c.teamRooms(ctx, team.TeamID)
	if err != nil {
		return Status{}, err
	}

	joiner, err := c.Store.GetParticipant(ctx, tgt.Name, session.Identity)
	if err != nil {
		return Status{}, err
	}
	joinerMeta := joiner.Metadata
	var members []string

	for _, sib := range siblings {
		sibCreator := sib.Metadata.CreatorIdentity
		// Joiner gets access into the sibling room.
		inbound, err := c.Tokens.Mint(session.Identity, sib.Name, publishGrants(), remaining)
		if err != nil {
			return Status{}, err
		}
		joinerMeta.TeamAccessTokens = append(joinerMeta.TeamAccessTokens, inbound)
		// Sibling creator gets access into the joiner's room.
		outbound, err := c.Tokens.Mint(sibCreator, tgt.Name, publishGrants(), remaining)
		if err != nil {
			return Status{}, err
		}
		if err := c.appendTeamToken(ctx, sib.Name, sibCreator, outbound); err != nil {
			return Status{}, err
		}

		sib.Metadata.Team.AddMember(session.Identity)
		if sib.Name == src.Name {
			sib.Metadata.Team.InvitesUsed++
		}
		if err := c.Store.UpdateRoomMetadata(ctx, sib.Name, sib.Metadata); err != nil {
			return Status{}, err
		}
		members = append(members, sibCreator)
	}

	tgt.Metadata.Team = &domain.TeamState{
		TeamID:        team.TeamID,
		AdminIdentity: team.AdminIdentity,
		Variant:       team.Variant,
		TTLSeconds:    team.TTLSeconds,
		CreatedAt:     team.CreatedAt,
		Members:       members,
	}
	if err := c.Store.UpdateParticipant(ctx, tgt.Name, session.Identity, joinerMeta, joiner.Grants); err != nil {
		return Status{}, err
	}
	if err := c.Store.UpdateRoomMetadata(ctx, tgt.Name, tgt.Metadata); err != nil {
		return Status{}, err
	}

	log.Info().Str("module", "app.team").Str("team_id", team.TeamID).
		Str("joined", tgt.Name).Int("rooms", len(siblings)+1).Msg("room joined team")
	return ok("room joined team"), nil
}

// appendTeamToken pushes a token onto a creator's team access list.
func (c *Coordinator) appendTeamToken(ctx context.Context, room, identity, token string) error {
	p, err := c.Store.GetParticipant(ctx, room, identity)
	if err != nil {
		return err
	}
	meta := p.Metadata
	meta.TeamAccessTokens = append(meta.TeamAccessTokens, token)
	return c.Store.UpdateParticipant(ctx, room, identity, meta, p.Grants)
}

// teamRooms lists every room carrying the given team id. Teardown paths
// recompute membership from this linkage rather than trusting any counter,
// so a crash mid-merge cannot strand rooms permanently.
func (c *Coordinator) teamRooms(ctx context.Context, teamID string) ([]core.Room, error) {
	rooms, err := c.Store.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	var out []core.Room
	for _, r := range rooms {
		if r.Metadata.Team != nil && r.Metadata.Team.TeamID == teamID {
			out = append(out, r)
		}
	}
	return out, nil
}

// expireTeam is the deferred team teardown. Rooms whose team state was
// already cleared by an explicit end no longer match the team id, which
// makes the task a natural no-op after EndTeam.
func (c *Coordinator) expireTeam(ctx context.Context, teamID string) {
	rooms, err := c.teamRooms(ctx, teamID)
	if err != nil {
		logTaskErr("app.team", err)
		return
	}
	for _, room := range rooms {
		logTaskErr("app.team", c.teardownTeamRoom(ctx, room))
	}
	log.Info().Str("module", "app.team").Str("team_id", teamID).
		Int("rooms", len(rooms)).Msg("team expired")
}

// EndTeam tears the whole team down immediately. Team admin only.
func (c *Coordinator) EndTeam(ctx context.Context, session Session) (Status, error) {
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	team := room.Metadata.Team
	if team == nil {
		return alreadyInState("room is not in a team"), nil
	}
	if session.Identity != team.AdminIdentity {
		return Status{}, fmt.Errorf("team end: %w", core.ErrUnauthorized)
	}
	rooms, err := c.teamRooms(ctx, team.TeamID)
	if err != nil {
		return Status{}, err
	}
	for _, r := range rooms {
		if err := c.teardownTeamRoom(ctx, r); err != nil {
			return Status{}, err
		}
	}
	return ok("team ended"), nil
}

// teardownTeamRoom removes every ledger member from the room's live
// participant list, clears the creator's team tokens and drops the team
// state. Idempotent: absent participants and already-cleared state are
// tolerated.
func (c *Coordinator) teardownTeamRoom(ctx context.Context, room core.Room) error {
	team := room.Metadata.Team
	if team == nil {
		return nil
	}
	for _, member := range team.Members {
		if err := c.Store.RemoveParticipant(ctx, room.Name, member); err != nil {
			log.Debug().Err(err).Str("module", "app.team").Str("room", room.Name).
				Str("identity", member).Msg("team member already gone")
		}
	}
	creatorIdentity := room.Metadata.CreatorIdentity
	creator, err := c.Store.GetParticipant(ctx, room.Name, creatorIdentity)
	if err != nil {
		return err
	}
	meta := creator.Metadata
	meta.TeamAccessTokens = nil
	if err := c.Store.UpdateParticipant(ctx, room.Name, creatorIdentity, meta, creator.Grants); err != nil {
		return err
	}
	room.Metadata.Team = nil
	return c.Store.UpdateRoomMetadata(ctx, room.Name, room.Metadata)
}

// RemoveTeamMember detaches one member's room from the team without tearing
// the rest down. Admin or the member itself only. The member's home room
// leaves the team; every sibling prunes the identity from its ledger,
// removes it from its live participants and filters the member's tokens out
// of its creator's access list by decoded room scope.
func (c *Coordinator) RemoveTeamMember(ctx context.Context, session Session, identity string) (Status, error) {
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	team := room.Metadata.Team
	if team == nil {
		return alreadyInState("room is not in a team"), nil
	}
	if identity != session.Identity && session.Identity != team.AdminIdentity {
		return Status{}, fmt.Errorf("team member removal: %w", core.ErrUnauthorized)
	}

	siblings, err := c.teamRooms(ctx, team.TeamID)
	if err != nil {
		return Status{}, err
	}
	var home *core.Room
	for i := range siblings {
		if siblings[i].Metadata.CreatorIdentity == identity {
			home = &siblings[i]
			break
		}
	}
	if home == nil {
		return rejected("member has no room in this team"), nil
	}

	if err := c.teardownTeamRoom(ctx, *home); err != nil {
		return Status{}, err
	}

	for _, sib := range siblings {
		if sib.Name == home.Name {
			continue
		}
		if err := c.pruneTeamMember(ctx, sib, identity, home.Name); err != nil {
			return Status{}, err
		}
	}
	log.Info().Str("module", "app.team").Str("team_id", team.TeamID).
		Str("identity", identity).Msg("team member removed")
	return ok("team member removed"), nil
}

// pruneTeamMember drops one identity from a sibling room: ledger entry,
// live participation and the creator's cross-access token for the member's
// home room.
func (c *Coordinator) pruneTeamMember(ctx context.Context, room core.Room, identity, homeRoom string) error {
	creatorIdentity := room.Metadata.CreatorIdentity
	creator, err := c.Store.GetParticipant(ctx, room.Name, creatorIdentity)
	if err != nil {
		return err
	}
	meta := creator.Metadata
	kept := meta.TeamAccessTokens[:0]
	for _, tok := range meta.TeamAccessTokens {
		claims, err := c.Tokens.Decode(tok)
		if err != nil {
			// Unreadable tokens stay; dropping them blindly could revoke
			// access to a room still in the team.
			kept = append(kept, tok)
			continue
		}
		if claims.Room != homeRoom {
			kept = append(kept, tok)
		}
	}
	meta.TeamAccessTokens = kept
	if err := c.Store.UpdateParticipant(ctx, room.Name, creatorIdentity, meta, creator.Grants); err != nil {
		return err
	}

	room.Metadata.Team.RemoveMember(identity)
	if err := c.Store.RemoveParticipant(ctx, room.Name, identity); err != nil {
		log.Debug().Err(err).Str("module", "app.team").Str("room", room.Name).
			Str("identity", identity).Msg("member already gone")
	}
	return c.Store.UpdateRoomMetadata(ctx, room.Name, room.Metadata)
}
