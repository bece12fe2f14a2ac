package roomstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/stagelink/server/internal/adapters/token"
	"github.com/stagelink/server/internal/core"
	"github.com/stagelink/server/internal/domain"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, token.NewService("secret", "test")), srv
}

func TestListRoomsDecodesMetadata(t *testing.T) {
	meta, err := domain.EncodeRoomMetadata(domain.RoomMetadata{
		CreatorIdentity: "alice",
		Kind:            domain.KindAudioOnly,
		Seats:           domain.NewSeats(9),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rooms/list" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Errorf("missing bearer token")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"rooms": []map[string]string{{"name": "room-1", "metadata": meta}},
		})
	})

	rooms, err := client.ListRooms(context.Background())
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].Name != "room-1" || rooms[0].Metadata.Kind != domain.KindAudioOnly {
		t.Fatalf("rooms = %+v", rooms)
	}
}

func TestListRoomsRejectsMalformedMetadata(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"rooms": []map[string]string{{"name": "room-1", "metadata": `{"kind":"karaoke"}`}},
		})
	})
	if _, err := client.ListRooms(context.Background()); err == nil {
		t.Fatalf("malformed metadata must be rejected at the boundary")
	}
}

func TestGetParticipantEmptyMetadataIsAudience(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"identity": "guest",
			"metadata": "",
			"grants":   core.Grants{RoomJoin: true},
		})
	})
	p, err := client.GetParticipant(context.Background(), "room-1", "guest")
	if err != nil {
		t.Fatalf("GetParticipant: %v", err)
	}
	if p.Metadata.InvitedToStage || p.Metadata.SeatID != domain.NoSeat {
		t.Fatalf("empty metadata must decode to audience state: %+v", p.Metadata)
	}
}

func TestNotFoundMapsToSentinel(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if err := client.DeleteRoom(context.Background(), "gone"); err != core.ErrRoomNotFound {
		t.Fatalf("error = %v, want ErrRoomNotFound", err)
	}
}
