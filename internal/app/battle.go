package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stagelink/server/internal/core"
	"github.com/stagelink/server/internal/domain"
)

// battleInvite is the structured invite delivered to the target creator only.
type battleInvite struct {
	Action          string `json:"action"`
	MessageID       string `json:"message_id"`
	CreatorIdentity string `json:"creator_identity"`
	RoomName        string `json:"room_name"`
	TTLSeconds      int64  `json:"ttl_seconds"`
}

type battleMerged struct {
	Action    string `json:"action"`
	MessageID string `json:"message_id"`
	Message   string `json:"message"`
}

// BattleInviteParams selects a target room explicitly, or, when RoomName is
// empty, asks for a uniformly-random pick among currently unlinked rooms.
type BattleInviteParams struct {
	RoomName   string
	TTLSeconds int64
}

// InviteToBattle sends a battle invite and waits a bounded interval for the
// target creator to accept. Acceptance is observed as a side-channel
// rendezvous: AcceptBattle stamps battle state onto the inviter's room, and
// the inviter re-reads its own metadata after the wait. In random mode the
// invite repeats against new candidates until accepted or ctx is cancelled.
func (c *Coordinator) InviteToBattle(ctx context.Context, session Session, params BattleInviteParams) (Status, error) {
	src, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	if session.Identity != src.Metadata.CreatorIdentity {
		return Status{}, fmt.Errorf("battle invite: %w", core.ErrUnauthorized)
	}
	if src.Metadata.Merged() {
		return conflict("room is already merged"), nil
	}
	if params.RoomName == session.RoomName {
		return rejected("cannot merge a room with itself"), nil
	}
	ttl := int64(ttlOrDefault(params.TTLSeconds) / time.Second)

	if params.RoomName != "" {
		accepted, status, err := c.inviteOnce(ctx, session, params.RoomName, ttl)
		if err != nil || status.Code != StatusOK {
			return status, err
		}
		if !accepted {
			return declined("target creator declined the battle"), nil
		}
		return ok("battle invite accepted"), nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return declined("battle invite cancelled"), nil
		}
		candidates, err := c.battleCandidates(ctx, session.RoomName)
		if err != nil {
			return Status{}, err
		}
		if len(candidates) == 0 {
			return declined("no rooms available to merge"), nil
		}
		target := candidates[c.pick(len(candidates))]
		accepted, status, err := c.inviteOnce(ctx, session, target, ttl)
		if err != nil {
			return Status{}, err
		}
		if status.Code == StatusConflictingMerge {
			// Own room got merged meanwhile; stop inviting.
			return status, nil
		}
		if accepted {
			return ok("battle invite accepted"), nil
		}
	}
}

// battleCandidates lists rooms currently unlinked and non-team, excluding
// the inviter's own room.
func (c *Coordinator) battleCandidates(ctx context.Context, selfRoom string) ([]string, error) {
	rooms, err := c.Store.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, r := range rooms {
		if r.Name == selfRoom || r.Metadata.Merged() {
			continue
		}
		names = append(names, r.Name)
	}
	return names, nil
}

// inviteOnce validates both sides, delivers the invite to the target creator
// and blocks once for AcceptWait before checking for acceptance. A conflict
// on either side sends nothing.
func (c *Coordinator) inviteOnce(ctx context.Context, session Session, targetRoom string, ttlSeconds int64) (bool, Status, error) {
	src, err := c.room(ctx, session.RoomName)
	if err != nil {
		return false, Status{}, err
	}
	if src.Metadata.Merged() {
		return false, conflict("room is already merged"), nil
	}
	target, err := c.room(ctx, targetRoom)
	if err != nil {
		return false, Status{}, err
	}
	if target.Metadata.Merged() {
		return false, conflict("target room is already merged"), nil
	}

	invite := battleInvite{
		Action:          "battle_invite",
		MessageID:       newMessageID(),
		CreatorIdentity: session.Identity,
		RoomName:        session.RoomName,
		TTLSeconds:      ttlSeconds,
	}
	if err := c.notify(ctx, targetRoom, invite, target.Metadata.CreatorIdentity); err != nil {
		return false, Status{}, err
	}
	log.Info().Str("module", "app.battle").Str("from", session.RoomName).
		Str("to", targetRoom).Msg("battle invite sent")

	c.wait(ctx, c.AcceptWait)

	src, err = c.room(ctx, session.RoomName)
	if err != nil {
		return false, Status{}, err
	}
	return src.Metadata.Battle != nil, ok(""), nil
}

// AcceptBattleParams names the inviting room; the session actor is the
// target room's creator confirming the merge.
type AcceptBattleParams struct {
	RoomName   string
	TTLSeconds int64
}

// AcceptBattle completes the pairwise merge: it mints one cross-access token
// per direction, stores each on the respective creator, stamps battle state
// on both rooms and schedules the TTL teardown.
func (c *Coordinator) AcceptBattle(ctx context.Context, session Session, params AcceptBattleParams) (Status, error) {
	src, err := c.room(ctx, params.RoomName)
	if err != nil {
		return Status{}, err
	}
	tgt, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	if session.Identity != tgt.Metadata.CreatorIdentity {
		return Status{}, fmt.Errorf("battle accept: %w", core.ErrUnauthorized)
	}
	if src.Metadata.Merged() || tgt.Metadata.Merged() {
		return conflict("no available rooms to merge"), nil
	}

	ttl := ttlOrDefault(params.TTLSeconds)
	srcCreator := src.Metadata.CreatorIdentity

	// Each creator's token admits them into the other room; decoding your
	// own battle token is how the peer room is found later.
	srcToken, err := c.Tokens.Mint(srcCreator, tgt.Name, publishGrants(), ttl)
	if err != nil {
		return Status{}, err
	}
	tgtToken, err := c.Tokens.Mint(session.Identity, src.Name, publishGrants(), ttl)
	if err != nil {
		return Status{}, err
	}

	srcInfo, err := c.Store.GetParticipant(ctx, src.Name, srcCreator)
	if err != nil {
		return Status{}, err
	}
	srcMeta := srcInfo.Metadata
	srcMeta.BattleToken = srcToken
	if err := c.Store.UpdateParticipant(ctx, src.Name, srcCreator, srcMeta, srcInfo.Grants); err != nil {
		return Status{}, err
	}

	tgtInfo, err := c.Store.GetParticipant(ctx, tgt.Name, session.Identity)
	if err != nil {
		return Status{}, err
	}
	tgtMeta := tgtInfo.Metadata
	tgtMeta.BattleToken = tgtToken
	if err := c.Store.UpdateParticipant(ctx, tgt.Name, session.Identity, tgtMeta, tgtInfo.Grants); err != nil {
		return Status{}, err
	}

	now := c.now()
	ttlSeconds := int64(ttl / time.Second)
	src.Metadata.Battle = &domain.BattleState{Side: domain.BattleSideSrc, TTLSeconds: ttlSeconds, CreatedAt: now}
	tgt.Metadata.Battle = &domain.BattleState{Side: domain.BattleSideTgt, TTLSeconds: ttlSeconds, CreatedAt: now}
	if err := c.Store.UpdateRoomMetadata(ctx, src.Name, src.Metadata); err != nil {
		return Status{}, err
	}
	if err := c.Store.UpdateRoomMetadata(ctx, tgt.Name, tgt.Metadata); err != nil {
		return Status{}, err
	}

	merged := battleMerged{Action: "battle_merged", MessageID: newMessageID(), Message: "rooms are battle-linked"}
	if err := c.notify(ctx, src.Name, merged); err != nil {
		return Status{}, err
	}
	if err := c.notify(ctx, tgt.Name, merged); err != nil {
		return Status{}, err
	}

	srcName, tgtName := src.Name, tgt.Name
	c.schedule(ttl, func() {
		c.expireBattle(context.Background(), srcName, tgtName, srcToken)
	})

	log.Info().Str("module", "app.battle").Str("src", srcName).Str("tgt", tgtName).
		Int64("ttl_seconds", ttlSeconds).Msg("battle merge accepted")
	return ok("rooms merged"), nil
}

// expireBattle is the deferred teardown. It compares the stored token with
// the one minted at accept time: token identity, not mere presence, guards
// against clearing a newer merge that reused the fields after an explicit
// end. No caller awaits it, so failures are logged and swallowed.
func (c *Coordinator) expireBattle(ctx context.Context, srcRoom, tgtRoom, srcToken string) {
	src, err := c.room(ctx, srcRoom)
	if err != nil {
		logTaskErr("app.battle", err)
		return
	}
	creator, err := c.Store.GetParticipant(ctx, srcRoom, src.Metadata.CreatorIdentity)
	if err != nil {
		logTaskErr("app.battle", err)
		return
	}
	if creator.Metadata.BattleToken != srcToken {
		log.Debug().Str("module", "app.battle").Str("room", srcRoom).
			Msg("battle token changed since accept, skipping expiry")
		return
	}
	logTaskErr("app.battle", c.teardownBattle(ctx, srcRoom, tgtRoom))
}

// EndBattle tears the link down immediately. Either creator may end it. The
// clear is idempotent against the later-firing expiry task.
func (c *Coordinator) EndBattle(ctx context.Context, session Session) (Status, error) {
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	if session.Identity != room.Metadata.CreatorIdentity {
		return Status{}, fmt.Errorf("battle end: %w", core.ErrUnauthorized)
	}
	creator, err := c.Store.GetParticipant(ctx, session.RoomName, session.Identity)
	if err != nil {
		return Status{}, err
	}
	if creator.Metadata.BattleToken == "" && room.Metadata.Battle == nil {
		return alreadyInState("no active battle"), nil
	}
	peerRoom := ""
	if creator.Metadata.BattleToken != "" {
		claims, err := c.Tokens.Decode(creator.Metadata.BattleToken)
		if err != nil {
			return Status{}, fmt.Errorf("battle end: %w", err)
		}
		peerRoom = claims.Room
	}
	if err := c.teardownBattle(ctx, session.RoomName, peerRoom); err != nil {
		return Status{}, err
	}
	return ok("battle ended"), nil
}

// teardownBattle clears tokens and battle state on both rooms and removes
// each visiting creator from the other's room. Every step tolerates state
// that was already cleared.
func (c *Coordinator) teardownBattle(ctx context.Context, roomA, roomB string) error {
	creatorA, errA := c.clearBattleSide(ctx, roomA)
	var creatorB string
	var errB error
	if roomB != "" {
		creatorB, errB = c.clearBattleSide(ctx, roomB)
	}
	if errA != nil {
		return errA
	}
	if errB != nil {
		return errB
	}
	if creatorB != "" {
		if err := c.Store.RemoveParticipant(ctx, roomA, creatorB); err != nil {
			log.Debug().Err(err).Str("module", "app.battle").Msg("visiting creator already gone")
		}
	}
	if creatorA != "" && roomB != "" {
		if err := c.Store.RemoveParticipant(ctx, roomB, creatorA); err != nil {
			log.Debug().Err(err).Str("module", "app.battle").Msg("visiting creator already gone")
		}
	}
	log.Info().Str("module", "app.battle").Str("src", roomA).Str("tgt", roomB).Msg("battle link cleared")
	return nil
}

// clearBattleSide wipes one room's battle state and its creator's battle
// token, returning the creator identity for cross-removal.
func (c *Coordinator) clearBattleSide(ctx context.Context, roomName string) (string, error) {
	room, err := c.room(ctx, roomName)
	if err != nil {
		return "", err
	}
	creatorIdentity := room.Metadata.CreatorIdentity
	creator, err := c.Store.GetParticipant(ctx, roomName, creatorIdentity)
	if err != nil {
		return creatorIdentity, err
	}
	meta := creator.Metadata
	meta.BattleToken = ""
	if err := c.Store.UpdateParticipant(ctx, roomName, creatorIdentity, meta, creator.Grants); err != nil {
		return creatorIdentity, err
	}
	if room.Metadata.Battle != nil {
		room.Metadata.Battle = nil
		if err := c.Store.UpdateRoomMetadata(ctx, roomName, room.Metadata); err != nil {
			return creatorIdentity, err
		}
	}
	return creatorIdentity, nil
}
