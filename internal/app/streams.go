package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stagelink/server/internal/core"
	"github.com/stagelink/server/internal/domain"
)

// StreamCredentials is handed to a client after create or join: the token to
// connect to the room service with, and the bearer token authenticating
// subsequent control-plane calls.
type StreamCredentials struct {
	RoomName        string `json:"room_name"`
	ConnectionToken string `json:"connection_token"`
	AuthToken       string `json:"auth_token"`
}

// CreateStreamParams configures a new room.
type CreateStreamParams struct {
	Identity    string
	RoomName    string
	Kind        domain.RoomKind
	ChatEnabled bool
}

// CreateStream provisions a room of the requested kind and returns creator
// credentials. Seat-based kinds get their fixed seat map; the creator starts
// with full publish rights and room admin scope on the connection token.
func (c *Coordinator) CreateStream(ctx context.Context, params CreateStreamParams) (StreamCredentials, error) {
	if !params.Kind.Valid() {
		return StreamCredentials{}, fmt.Errorf("create stream: unknown room kind %q", params.Kind)
	}
	name := params.RoomName
	if name == "" {
		name = domain.NewRoomName()
	}
	meta := domain.RoomMetadata{
		CreatorIdentity: params.Identity,
		Kind:            params.Kind,
		ChatEnabled:     params.ChatEnabled,
	}
	if n := params.Kind.SeatCount(); n > 0 {
		meta.Seats = domain.NewSeats(n)
	}
	if err := c.Store.CreateRoom(ctx, name, meta); err != nil {
		return StreamCredentials{}, err
	}

	grants := publishGrants()
	grants.RoomAdmin = true
	grants.CanUpdateMetadata = true
	conn, err := c.Tokens.Mint(params.Identity, name, grants, c.SessionTTL)
	if err != nil {
		return StreamCredentials{}, err
	}
	auth, err := c.Tokens.Mint(params.Identity, name, core.Grants{RoomJoin: true}, c.SessionTTL)
	if err != nil {
		return StreamCredentials{}, err
	}

	creatorMeta := domain.NewParticipantMetadata()
	creatorMeta.InvitedToStage = true
	if err := c.Store.UpdateParticipant(ctx, name, params.Identity, creatorMeta, grants); err != nil {
		return StreamCredentials{}, err
	}

	log.Info().Str("module", "app.streams").Str("room", name).
		Str("kind", string(params.Kind)).Msg("stream created")
	return StreamCredentials{RoomName: name, ConnectionToken: conn, AuthToken: auth}, nil
}

// JoinStream admits an identity into the audience: subscribe-only connection
// grants, no stage access. Duplicate identities and blocked identities are
// refused.
func (c *Coordinator) JoinStream(ctx context.Context, roomName, identity string) (StreamCredentials, Status, error) {
	room, err := c.room(ctx, roomName)
	if err != nil {
		return StreamCredentials{}, Status{}, err
	}
	if room.Metadata.IsBlocked(identity) {
		return StreamCredentials{}, rejected("identity is blocked from this room"), nil
	}
	participants, err := c.Store.ListParticipants(ctx, roomName)
	if err != nil {
		return StreamCredentials{}, Status{}, err
	}
	for _, p := range participants {
		if p.Identity == identity {
			return StreamCredentials{}, alreadyInState("identity already in room"), nil
		}
	}

	grants := core.Grants{
		RoomJoin:       true,
		CanSubscribe:   true,
		CanPublishData: true,
	}
	conn, err := c.Tokens.Mint(identity, roomName, grants, c.SessionTTL)
	if err != nil {
		return StreamCredentials{}, Status{}, err
	}
	auth, err := c.Tokens.Mint(identity, roomName, core.Grants{RoomJoin: true}, c.SessionTTL)
	if err != nil {
		return StreamCredentials{}, Status{}, err
	}
	if err := c.Store.UpdateParticipant(ctx, roomName, identity, domain.NewParticipantMetadata(), grants); err != nil {
		return StreamCredentials{}, Status{}, err
	}
	return StreamCredentials{RoomName: roomName, ConnectionToken: conn, AuthToken: auth}, ok("joined"), nil
}

// StopStream deletes the room. Creator only. Any active merge is torn down
// first so linked rooms are not left pointing at a dead peer.
func (c *Coordinator) StopStream(ctx context.Context, session Session) (Status, error) {
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	if session.Identity != room.Metadata.CreatorIdentity {
		return Status{}, fmt.Errorf("stop stream: %w", core.ErrUnauthorized)
	}
	if room.Metadata.Battle != nil {
		if _, err := c.EndBattle(ctx, session); err != nil {
			logTaskErr("app.streams", err)
		}
	}
	if team := room.Metadata.Team; team != nil {
		if session.Identity == team.AdminIdentity {
			if _, err := c.EndTeam(ctx, session); err != nil {
				logTaskErr("app.streams", err)
			}
		} else {
			// Detach the room so siblings do not keep pointing at it.
			if _, err := c.RemoveTeamMember(ctx, session, session.Identity); err != nil {
				logTaskErr("app.streams", err)
			}
		}
	}
	if err := c.Store.DeleteRoom(ctx, session.RoomName); err != nil {
		return Status{}, err
	}
	log.Info().Str("module", "app.streams").Str("room", session.RoomName).Msg("stream stopped")
	return ok("stream stopped"), nil
}

type chatMessage struct {
	Action    string `json:"action"`
	MessageID string `json:"message_id"`
	Identity  string `json:"identity"`
	Room      string `json:"room"`
	Text      string `json:"text"`
}

// SendData publishes a chat message into the actor's room and fans it out to
// every merged peer room: the battle partner, found by decoding the
// creator's battle token, and every team sibling by team id.
func (c *Coordinator) SendData(ctx context.Context, session Session, text string) (Status, error) {
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	if !room.Metadata.ChatEnabled {
		privileged, err := c.isPrivileged(ctx, session, room)
		if err != nil {
			return Status{}, err
		}
		if !privileged {
			return rejected("chat is disabled"), nil
		}
	}

	msg := chatMessage{
		Action:    "chat",
		MessageID: newMessageID(),
		Identity:  session.Identity,
		Room:      session.RoomName,
		Text:      text,
	}
	targets := []string{session.RoomName}

	if room.Metadata.Battle != nil {
		creator, err := c.Store.GetParticipant(ctx, session.RoomName, room.Metadata.CreatorIdentity)
		if err == nil && creator.Metadata.BattleToken != "" {
			if claims, err := c.Tokens.Decode(creator.Metadata.BattleToken); err == nil {
				targets = append(targets, claims.Room)
			}
		}
	}
	if team := room.Metadata.Team; team != nil {
		siblings, err := c.teamRooms(ctx, team.TeamID)
		if err != nil {
			return Status{}, err
		}
		for _, sib := range siblings {
			if sib.Name != session.RoomName {
				targets = append(targets, sib.Name)
			}
		}
	}

	for _, target := range targets {
		if err := c.notify(ctx, target, msg); err != nil {
			return Status{}, err
		}
	}
	return ok("message sent"), nil
}

type chatToggle struct {
	Action    string `json:"action"`
	MessageID string `json:"message_id"`
	Enabled   bool   `json:"enabled"`
}

// SetChatEnabled toggles room chat. Creator only; the room is notified.
func (c *Coordinator) SetChatEnabled(ctx context.Context, session Session, enabled bool) (Status, error) {
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	if session.Identity != room.Metadata.CreatorIdentity {
		return Status{}, fmt.Errorf("set chat enabled: %w", core.ErrUnauthorized)
	}
	if room.Metadata.ChatEnabled == enabled {
		return alreadyInState("chat already in requested state"), nil
	}
	room.Metadata.ChatEnabled = enabled
	if err := c.Store.UpdateRoomMetadata(ctx, session.RoomName, room.Metadata); err != nil {
		return Status{}, err
	}
	if err := c.notify(ctx, session.RoomName, chatToggle{
		Action:    "chat_enabled",
		MessageID: newMessageID(),
		Enabled:   enabled,
	}); err != nil {
		return Status{}, err
	}
	return ok("chat state updated"), nil
}

type muteNotice struct {
	Action    string         `json:"action"`
	MessageID string         `json:"message_id"`
	Kind      core.TrackKind `json:"kind"`
	Muted     bool           `json:"muted"`
}

// MuteTracks mutes or unmutes every published track of the given kind on the
// target. Creator, admin, or the target itself. The target is notified
// directly.
func (c *Coordinator) MuteTracks(ctx context.Context, session Session, identity string, kind core.TrackKind, muted bool) (Status, error) {
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
	touched := 0
	for _, track := range target.Tracks {
		if track.Kind != kind {
			continue
		}
		if err := c.Store.MutePublishedTrack(ctx, session.RoomName, identity, track.SID, muted); err != nil {
			return Status{}, err
		}
		touched++
	}
	if touched == 0 {
		return alreadyInState("no tracks of requested kind"), nil
	}
	if err := c.notify(ctx, session.RoomName, muteNotice{
		Action:    "tracks_muted",
		MessageID: newMessageID(),
		Kind:      kind,
		Muted:     muted,
	}, identity); err != nil {
		return Status{}, err
	}
	return ok("tracks updated"), nil
}

// RemoveParticipant kicks an identity out of the room, releasing any held
// seat first. Creator or admin only; a participant leaves through the room
// service directly, not through here.
func (c *Coordinator) RemoveParticipant(ctx context.Context, session Session, identity string) (Status, error) {
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	privileged, err := c.isPrivileged(ctx, session, room)
	if err != nil {
		return Status{}, err
	}
	if !privileged {
		return Status{}, fmt.Errorf("remove participant: %w", core.ErrUnauthorized)
	}
	target, err := c.Store.GetParticipant(ctx, session.RoomName, identity)
	if err != nil {
		return Status{}, err
	}
	if target.Metadata.SeatID != domain.NoSeat && len(room.Metadata.Seats) > 0 {
		domain.ReleaseSeat(room.Metadata.Seats, target.Metadata.SeatID)
		if err := c.Store.UpdateRoomMetadata(ctx, session.RoomName, room.Metadata); err != nil {
			return Status{}, err
		}
	}
	if err := c.Store.RemoveParticipant(ctx, session.RoomName, identity); err != nil {
		return Status{}, err
	}
	log.Info().Str("module", "app.streams").Str("room", session.RoomName).
		Str("identity", identity).Msg("participant removed")
	return ok("participant removed"), nil
}

// BlockParticipant removes an identity and bans it from rejoining.
func (c *Coordinator) BlockParticipant(ctx context.Context, session Session, identity string) (Status, error) {
	room, err := c.room(ctx, session.RoomName)
	if err != nil {
		return Status{}, err
	}
	privileged, err := c.isPrivileged(ctx, session, room)
	if err != nil {
		return Status{}, err
	}
	if !privileged {
		return Status{}, fmt.Errorf("block participant: %w", core.ErrUnauthorized)
	}
	if identity == room.Metadata.CreatorIdentity {
		return rejected("cannot block the room creator"), nil
	}
	if room.Metadata.IsBlocked(identity) {
		return alreadyInState("identity already blocked"), nil
	}
	room.Metadata.Blocked = append(room.Metadata.Blocked, identity)
	if err := c.Store.UpdateRoomMetadata(ctx, session.RoomName, room.Metadata); err != nil {
		return Status{}, err
	}
	if err := c.Store.RemoveParticipant(ctx, session.RoomName, identity); err != nil {
		log.Debug().Err(err).Str("module", "app.streams").Str("room", session.RoomName).
			Str("identity", identity).Msg("blocked identity not present")
	}
	return ok("participant blocked"), nil
}

// Rooms lists live rooms, narrowed to one kind when given.
func (c *Coordinator) Rooms(ctx context.Context, kind domain.RoomKind) ([]core.Room, error) {
	rooms, err := c.Store.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return rooms, nil
	}
	filtered := rooms[:0]
	for _, room := range rooms {
		if room.Metadata.Kind == kind {
			filtered = append(filtered, room)
		}
	}
	return filtered, nil
}

// RoomWithParticipants pairs a room with its current participant list.
type RoomWithParticipants struct {
	Room         core.Room
	Participants []core.Participant
}

// RoomsWithParticipants lists live rooms with their participants, narrowed
// to one kind when given.
func (c *Coordinator) RoomsWithParticipants(ctx context.Context, kind domain.RoomKind) ([]RoomWithParticipants, error) {
	rooms, err := c.Rooms(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]RoomWithParticipants, 0, len(rooms))
	for _, room := range rooms {
		participants, err := c.Store.ListParticipants(ctx, room.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, RoomWithParticipants{Room: room, Participants: participants})
	}
	return out, nil
}
