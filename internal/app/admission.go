package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stagelink/server/internal/core"
	"github.com/stagelink/server/internal/domain"
)

// InviteToStage runs the admission decision for target identity. The actor
// must be the creator, an admin, or the target must already hold a pending
// request (self-escalation once a request exists).
//
// Exactly one branch executes, first match wins:
//  1. capacity exceeded: force audience, clear all flags, release any seat
//  2. requested-to-call pending: admit
//  3. request-to-present pending: admit
//  4. actor is creator/admin: admit directly
func (c *Coordinator) InviteToStage(ctx context.Context, session Session, identity string, seatID int) (Status, error) {
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	target, err := c.Store.GetParticipant(ctx, session.RoomName, identity)
	if err != nil {
		return Status{}, err
	}
	privileged, err := c.isPrivileged(ctx, session, room)
	if err != nil {
		return Status{}, err
	}
	meta := target.Metadata
	grants := target.Grants
	if !privileged && !meta.RequestedToCall && !meta.ReqToPresent {
		return Status{}, fmt.Errorf("invite to stage: %w", core.ErrUnauthorized)
	}

	seats := room.Metadata.Seats
	if seatID != domain.NoSeat && seatID > len(seats) {
		return rejected("seat id out of bounds"), nil
	}
	// A requested seat recorded at hand-raise time wins over the explicit one.
	if meta.ReqSeatID != domain.NoSeat {
		seatID = meta.ReqSeatID
	}

	fits, err := c.ValidateCapacity(ctx, session.RoomName, room.Metadata.Kind)
	if err != nil {
		return Status{}, err
	}

	var status Status
	switch {
	case !fits:
		if meta.SeatID != domain.NoSeat {
			domain.ReleaseSeat(seats, meta.SeatID)
		}
		meta.ClearStage()
		grants.CanPublish = false
		status = capacityExceeded(room.Metadata.Kind.StageCeiling() + 1)
	case meta.RequestedToCall, meta.ReqToPresent, privileged:
		meta.InvitedToStage = true
		meta.RequestedToCall = false
		meta.ReqToPresent = false
		meta.ReqSeatID = domain.NoSeat
		grants.CanPublish = true
		meta.SeatID = resolveSeat(seats, seatID, identity)
		status = ok("invited to stage")
	}

	if err := c.Store.UpdateParticipant(ctx, session.RoomName, identity, meta, grants); err != nil {
		return Status{}, err
	}
	if len(seats) > 0 {
		if err := c.Store.UpdateRoomMetadata(ctx, session.RoomName, room.Metadata); err != nil {
			return Status{}, err
		}
	}
	log.Info().Str("module", "app.admission").Str("room", session.RoomName).
		Str("identity", identity).Str("code", string(status.Code)).Msg("invite to stage")
	return status, nil
}

// resolveSeat honors the requested seat only when it is free and unlocked,
// falls back to the first free seat, and admits seatless when neither works.
// A seat is optional metadata, not a hard precondition; admission must not
// starve on seat contention.
func resolveSeat(seats []domain.Seat, seatID int, identity string) int {
	if len(seats) == 0 {
		return domain.NoSeat
	}
	if seatID != domain.NoSeat && domain.AssignSeat(seats, seatID, identity) {
		return seatID
	}
	if free, found := domain.FindFreeSeat(seats); found && domain.AssignSeat(seats, free, identity) {
		return free
	}
	return domain.NoSeat
}

// RequestToPresent is the self-serve admission path. No authority check;
// refuses with an informational status when the actor is already on stage or
// already requesting.
func (c *Coordinator) RequestToPresent(ctx context.Context, session Session, seatID int) (Status, error) {
	if _, err := c.room(ctx, session.RoomName); err != nil {
		return Status{}, err
	}
	p, err := c.Store.GetParticipant(ctx, session.RoomName, session.Identity)
	if err != nil {
		return Status{}, err
	}
	meta := p.Metadata
	if meta.InvitedToStage {
		return alreadyInState("already on stage"), nil
	}
	if meta.ReqToPresent {
		return alreadyInState("already requested to present"), nil
	}
	meta.ReqToPresent = true
	meta.RequestedToCall = false
	meta.ReqSeatID = seatID
	if err := c.Store.UpdateParticipant(ctx, session.RoomName, session.Identity, meta, p.Grants); err != nil {
		return Status{}, err
	}
	return ok("requested to present"), nil
}

// SetRequestedToCall toggles the admin-gated hand-raise flag. Only the
// creator or an admin may set it true; any identity may clear it for itself.
// Setting it true never grants the stage by itself.
func (c *Coordinator) SetRequestedToCall(ctx context.Context, session Session, identity string, clear bool) (Status, error) {
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	if identity == "" {
		identity = session.Identity
	}
	privileged, err := c.isPrivileged(ctx, session, room)
	if err != nil {
		return Status{}, err
	}
	if !privileged && !(clear && identity == session.Identity) {
		return Status{}, fmt.Errorf("requested to call: %w", core.ErrUnauthorized)
	}
	target, err := c.Store.GetParticipant(ctx, session.RoomName, identity)
	if err != nil {
		return Status{}, err
	}
	meta := target.Metadata
	grants := target.Grants
	if clear {
		if meta.SeatID != domain.NoSeat {
			domain.ReleaseSeat(room.Metadata.Seats, meta.SeatID)
			if err := c.Store.UpdateRoomMetadata(ctx, session.RoomName, room.Metadata); err != nil {
				return Status{}, err
			}
		}
		meta.ClearStage()
		grants.CanPublish = false
		if err := c.Store.UpdateParticipant(ctx, session.RoomName, identity, meta, grants); err != nil {
			return Status{}, err
		}
		return ok("cleared requested to call"), nil
	}
	meta.RequestedToCall = true
	meta.ReqToPresent = false
	if err := c.Store.UpdateParticipant(ctx, session.RoomName, identity, meta, grants); err != nil {
		return Status{}, err
	}
	return ok("requested to call"), nil
}

// RemoveFromStage resets the target's admission state entirely: all flags
// cleared, publish permission revoked, seat released. Idempotent regardless
// of prior state. The actor must be creator, admin or the target itself.
func (c *Coordinator) RemoveFromStage(ctx context.Context, session Session, identity string) (Status, error) {
	if identity == "" {
		identity = session.Identity
	}
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	if err := c.requireRemovalAuthority(ctx, session, room, identity); err != nil {
		return Status{}, err
	}
	target, err := c.Store.GetParticipant(ctx, session.RoomName, identity)
	if err != nil {
		return Status{}, err
	}
	meta := target.Metadata
	grants := target.Grants
	if meta.SeatID != domain.NoSeat && len(room.Metadata.Seats) > 0 {
		domain.ReleaseSeat(room.Metadata.Seats, meta.SeatID)
		if err := c.Store.UpdateRoomMetadata(ctx, session.RoomName, room.Metadata); err != nil {
			return Status{}, err
		}
	}
	meta.ClearStage()
	grants.CanPublish = false
	grants.CanUpdateMetadata = false
	if err := c.Store.UpdateParticipant(ctx, session.RoomName, identity, meta, grants); err != nil {
		return Status{}, err
	}
	log.Info().Str("module", "app.admission").Str("room", session.RoomName).
		Str("identity", identity).Msg("removed from stage")
	return ok("removed from stage"), nil
}

// RejectRequest clears a pending admission request without ever having
// granted the stage. Same authority rule as RemoveFromStage.
func (c *Coordinator) RejectRequest(ctx context.Context, session Session, identity string) (Status, error) {
	if identity == "" {
		identity = session.Identity
	}
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	if err := c.requireRemovalAuthority(ctx, session, room, identity); err != nil {
		return Status{}, err
	}
	target, err := c.Store.GetParticipant(ctx, session.RoomName, identity)
	if err != nil {
		return Status{}, err
	}
	meta := target.Metadata
	grants := target.Grants
	meta.RequestedToCall = false
	meta.ReqToPresent = false
	meta.InvitedToStage = false
	grants.CanPublish = false
	if err := c.Store.UpdateParticipant(ctx, session.RoomName, identity, meta, grants); err != nil {
		return Status{}, err
	}
	return ok("request rejected"), nil
}

// requireRemovalAuthority allows creator, admin, or the target itself.
func (c *Coordinator) requireRemovalAuthority(ctx context.Context, session Session, room core.Room, identity string) error {
	if identity == session.Identity {
		return nil
	}
	privileged, err := c.isPrivileged(ctx, session, room)
	if err != nil {
		return err
	}
	if !privileged {
		return fmt.Errorf("remove authority: %w", core.ErrUnauthorized)
	}
	return nil
}

// LockSeat sets the lock state of a seat. Creator or admin only. Locking
// evicts any occupant's seat binding at the room level; the occupant's own
// seat field is corrected lazily on their next transition.
func (c *Coordinator) LockSeat(ctx context.Context, session Session, seatID int, locked bool) (Status, error) {
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	privileged, err := c.isPrivileged(ctx, session, room)
	if err != nil {
		return Status{}, err
	}
	if !privileged {
		return Status{}, fmt.Errorf("lock seat: %w", core.ErrUnauthorized)
	}
	if !domain.LockSeat(room.Metadata.Seats, seatID, locked) {
		return rejected("seat id out of bounds"), nil
	}
	if err := c.Store.UpdateRoomMetadata(ctx, session.RoomName, room.Metadata); err != nil {
		return Status{}, err
	}
	return ok("seat lock updated"), nil
}

// MakeAdmin grants the admin role to identity. Creator or admin only.
func (c *Coordinator) MakeAdmin(ctx context.Context, session Session, identity string) (Status, error) {
	return c.setAdmin(ctx, session, identity, true)
}

// RemoveAdmin revokes the admin role. Creator or admin only.
func (c *Coordinator) RemoveAdmin(ctx context.Context, session Session, identity string) (Status, error) {
	return c.setAdmin(ctx, session, identity, false)
}

func (c *Coordinator) setAdmin(ctx context.Context, session Session, identity string, admin bool) (Status, error) {
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	privileged, err := c.isPrivileged(ctx, session, room)
	if err != nil {
		return Status{}, err
	}
	if !privileged {
		return Status{}, fmt.Errorf("set admin: %w", core.ErrUnauthorized)
	}
	if identity == "" {
		identity = session.Identity
	}
	target, err := c.Store.GetParticipant(ctx, session.RoomName, identity)
	if err != nil {
		return Status{}, err
	}
	meta := target.Metadata
	meta.IsAdmin = admin
	if err := c.Store.UpdateParticipant(ctx, session.RoomName, identity, meta, target.Grants); err != nil {
		return Status{}, err
	}
	if admin {
		return ok("admin granted"), nil
	}
	return ok("admin revoked"), nil
}
