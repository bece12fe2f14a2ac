// Package memstore is an in-memory RoomStore. It backs local development
// and tests; production deployments point at the remote room service
// instead. The mutex only protects the maps themselves; operations stay
// read-then-write with last-write-wins semantics, same as the remote store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stagelink/server/internal/core"
	"github.com/stagelink/server/internal/domain"
)

// MessageSink receives every message sent through the store, typically a
// websocket hub fanning out to connected clients.
type MessageSink interface {
	Deliver(room string, payload []byte, to []string)
}

// Message is a recorded SendMessage call.
type Message struct {
	Room    string
	Payload []byte
	To      []string
}

type roomState struct {
	meta         domain.RoomMetadata
	participants map[string]*core.Participant
}

// Store implements core.RoomStore in process memory.
type Store struct {
	mu       sync.Mutex
	rooms    map[string]*roomState
	messages []Message
	sink     MessageSink
}

func New() *Store {
	return &Store{rooms: make(map[string]*roomState)}
}

// SetSink attaches a delivery sink; nil detaches it.
func (s *Store) SetSink(sink MessageSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

func (s *Store) CreateRoom(ctx context.Context, name string, meta domain.RoomMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[name]; exists {
		return fmt.Errorf("room %q already exists", name)
	}
	s.rooms[name] = &roomState{
		meta:         meta,
		participants: make(map[string]*core.Participant),
	}
	return nil
}

func (s *Store) DeleteRoom(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[name]; !exists {
		return core.ErrRoomNotFound
	}
	delete(s.rooms, name)
	return nil
}

func (s *Store) ListRooms(ctx context.Context, names ...string) ([]core.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Room
	if len(names) > 0 {
		for _, name := range names {
			if r, ok := s.rooms[name]; ok {
				out = append(out, core.Room{Name: name, Metadata: r.meta})
			}
		}
		return out, nil
	}
	for name, r := range s.rooms {
		out = append(out, core.Room{Name: name, Metadata: r.meta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListParticipants(ctx context.Context, room string) ([]core.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	out := make([]core.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (s *Store) GetParticipant(ctx context.Context, room, identity string) (core.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return core.Participant{}, core.ErrRoomNotFound
	}
	p, ok := r.participants[identity]
	if !ok {
		return core.Participant{}, core.ErrParticipantNotFound
	}
	return *p, nil
}

// UpdateParticipant upserts: the remote service registers identities on
// connect, here the first metadata write creates the record.
func (s *Store) UpdateParticipant(ctx context.Context, room, identity string, meta domain.ParticipantMetadata, grants core.Grants) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return core.ErrRoomNotFound
	}
	p, ok := r.participants[identity]
	if !ok {
		p = &core.Participant{Identity: identity}
		r.participants[identity] = p
	}
	p.Metadata = meta
	p.Grants = grants
	return nil
}

func (s *Store) UpdateRoomMetadata(ctx context.Context, room string, meta domain.RoomMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return core.ErrRoomNotFound
	}
	r.meta = meta
	return nil
}

func (s *Store) RemoveParticipant(ctx context.Context, room, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return core.ErrRoomNotFound
	}
	if _, ok := r.participants[identity]; !ok {
		return core.ErrParticipantNotFound
	}
	delete(r.participants, identity)
	return nil
}

func (s *Store) SendMessage(ctx context.Context, room string, payload []byte, opts core.SendOptions) error {
	s.mu.Lock()
	if _, ok := s.rooms[room]; !ok {
		s.mu.Unlock()
		return core.ErrRoomNotFound
	}
	s.messages = append(s.messages, Message{Room: room, Payload: payload, To: opts.DestinationIdentities})
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.Deliver(room, payload, opts.DestinationIdentities)
	}
	return nil
}

func (s *Store) MutePublishedTrack(ctx context.Context, room, identity, trackSID string, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return core.ErrRoomNotFound
	}
	p, ok := r.participants[identity]
	if !ok {
		return core.ErrParticipantNotFound
	}
	for i := range p.Tracks {
		if p.Tracks[i].SID == trackSID {
			p.Tracks[i].Muted = muted
			return nil
		}
	}
	return fmt.Errorf("track %q not found", trackSID)
}

// Messages returns a copy of every recorded SendMessage call.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// SetTracks replaces a participant's published track list. Test helper.
func (s *Store) SetTracks(room, identity string, tracks []core.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return core.ErrRoomNotFound
	}
	p, ok := r.participants[identity]
	if !ok {
		return core.ErrParticipantNotFound
	}
	p.Tracks = tracks
	return nil
}
