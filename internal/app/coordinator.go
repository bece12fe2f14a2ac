// Package app implements the control-plane state machines: stage admission,
// the pairwise battle merge and the N-ary team merge. All authoritative
// state lives in the remote room store; every operation re-reads it, computes
// the next state and writes it back without locks. Races between concurrent
// operations resolve last-write-wins; that is an accepted tradeoff, do not
// retrofit locking here.
package app

import (
	"context"
	"math/rand"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stagelink/server/internal/core"
)

const (
	// DefaultAcceptWait bounds the single suspension while a battle invite
	// awaits acceptance.
	DefaultAcceptWait = 5 * time.Second
	// DefaultMergeTTL applies when a merge request names no TTL.
	DefaultMergeTTL = 15 * time.Minute
	// DefaultSessionTTL bounds connection and session auth tokens.
	DefaultSessionTTL = 6 * time.Hour
)

// Session identifies the actor of an inbound operation.
type Session struct {
	Identity string
	RoomName string
}

// Coordinator executes every state-machine transition against the store.
// The zero value is not usable; construct with NewCoordinator.
type Coordinator struct {
	Store  core.RoomStore
	Tokens core.TokenService

	// AcceptWait bounds the battle invite rendezvous.
	AcceptWait time.Duration
	// SessionTTL bounds minted connection tokens.
	SessionTTL time.Duration

	now      func() time.Time
	wait     func(ctx context.Context, d time.Duration)
	schedule func(d time.Duration, task func())
	pick     func(n int) int
}

func NewCoordinator(store core.RoomStore, tokens core.TokenService) *Coordinator {
	return &Coordinator{
		Store:      store,
		Tokens:     tokens,
		AcceptWait: DefaultAcceptWait,
		SessionTTL: DefaultSessionTTL,
		now:        time.Now,
		wait: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
		schedule: func(d time.Duration, task func()) { time.AfterFunc(d, task) },
		pick:     rand.Intn,
	}
}

// room loads a single room by name.
func (c *Coordinator) room(ctx context.Context, name string) (core.Room, error) {
	rooms, err := c.Store.ListRooms(ctx, name)
	if err != nil {
		return core.Room{}, err
	}
	if len(rooms) == 0 {
		return core.Room{}, core.ErrRoomNotFound
	}
	return rooms[0], nil
}

// isPrivileged reports whether the session actor is the room creator or an
// admin of the room.
func (c *Coordinator) isPrivileged(ctx context.Context, session Session, room core.Room) (bool, error) {
	if session.Identity == room.Metadata.CreatorIdentity {
		return true, nil
	}
	actor, err := c.Store.GetParticipant(ctx, session.RoomName, session.Identity)
	if err != nil {
		return false, err
	}
	return actor.Metadata.IsAdmin, nil
}

// notify marshals payload and sends it into room, optionally narrowed to
// specific identities.
func (c *Coordinator) notify(ctx context.Context, room string, payload any, to ...string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.Store.SendMessage(ctx, room, raw, core.SendOptions{DestinationIdentities: to})
}

func newMessageID() string { return uuid.NewString() }

// ttlOrDefault normalizes a caller-supplied TTL in seconds.
func ttlOrDefault(ttlSeconds int64) time.Duration {
	if ttlSeconds <= 0 {
		return DefaultMergeTTL
	}
	return time.Duration(ttlSeconds) * time.Second
}

// publishGrants is the scope granted to a creator visiting a merged room.
func publishGrants() core.Grants {
	return core.Grants{
		RoomJoin:       true,
		CanPublish:     true,
		CanSubscribe:   true,
		CanPublishData: true,
	}
}

// logTaskErr records a deferred-task failure; expiry tasks have no caller
// awaiting them, so remote failures are logged and swallowed.
func logTaskErr(module string, err error) {
	if err != nil {
		log.Error().Err(err).Str("module", module).Msg("deferred task remote call failed")
	}
}
