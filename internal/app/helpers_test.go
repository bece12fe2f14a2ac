package app

import (
	"context"
	"testing"
	"time"

	"github.com/stagelink/server/internal/adapters/memstore"
	"github.com/stagelink/server/internal/adapters/token"
	"github.com/stagelink/server/internal/core"
	"github.com/stagelink/server/internal/domain"
)

var testEpoch = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// newTestCoordinator builds a coordinator over the in-memory store with a
// frozen clock, an instant accept wait and captured deferred tasks.
func newTestCoordinator(t *testing.T) (*Coordinator, *memstore.Store, *[]func()) {
	t.Helper()
	store := memstore.New()
	c := NewCoordinator(store, token.NewService("test-secret", "test"))
	c.now = func() time.Time { return testEpoch }
	c.wait = func(ctx context.Context, d time.Duration) {}
	c.pick = func(n int) int { return 0 }
	tasks := &[]func(){}
	c.schedule = func(d time.Duration, task func()) {
		*tasks = append(*tasks, task)
	}
	return c, store, tasks
}

func seedRoom(t *testing.T, store *memstore.Store, name, creator string, kind domain.RoomKind) {
	t.Helper()
	meta := domain.RoomMetadata{
		CreatorIdentity: creator,
		Kind:            kind,
		ChatEnabled:     true,
	}
	if n := kind.SeatCount(); n > 0 {
		meta.Seats = domain.NewSeats(n)
	}
	if err := store.CreateRoom(context.Background(), name, meta); err != nil {
		t.Fatalf("seed room %s: %v", name, err)
	}
	creatorMeta := domain.NewParticipantMetadata()
	creatorMeta.InvitedToStage = true
	seedParticipant(t, store, name, creator, creatorMeta)
}

func seedParticipant(t *testing.T, store *memstore.Store, room, identity string, meta domain.ParticipantMetadata) {
	t.Helper()
	grants := core.Grants{RoomJoin: true, CanSubscribe: true, CanPublishData: true}
	if err := store.UpdateParticipant(context.Background(), room, identity, meta, grants); err != nil {
		t.Fatalf("seed participant %s/%s: %v", room, identity, err)
	}
}

func getMeta(t *testing.T, store *memstore.Store, room, identity string) domain.ParticipantMetadata {
	t.Helper()
	p, err := store.GetParticipant(context.Background(), room, identity)
	if err != nil {
		t.Fatalf("get participant %s/%s: %v", room, identity, err)
	}
	return p.Metadata
}

func getRoom(t *testing.T, store *memstore.Store, name string) core.Room {
	t.Helper()
	rooms, err := store.ListRooms(context.Background(), name)
	if err != nil || len(rooms) == 0 {
		t.Fatalf("get room %s: %v", name, err)
	}
	return rooms[0]
}
