// Package roomstore implements core.RoomStore against the remote room
// service's HTTP API. Metadata travels as opaque strings on the wire and is
// decoded-or-rejected at this boundary; malformed documents never reach the
// state machines.
package roomstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/stagelink/server/internal/core"
	"github.com/stagelink/server/internal/domain"
)

const requestTokenTTL = 10 * time.Minute

// Client talks to the room service. Every request carries a short-lived
// admin token minted from the shared API secret.
type Client struct {
	baseURL string
	tokens  core.TokenService
	http    *http.Client
}

func New(baseURL string, tokens core.TokenService) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type wireRoom struct {
	Name     string `json:"name"`
	Metadata string `json:"metadata"`
}

type wireTrack struct {
	SID   string `json:"sid"`
	Kind  string `json:"kind"`
	Muted bool   `json:"muted"`
}

type wireParticipant struct {
	Identity string      `json:"identity"`
	Metadata string      `json:"metadata"`
	Grants   core.Grants `json:"grants"`
	Tracks   []wireTrack `json:"tracks"`
}

func (c *Client) CreateRoom(ctx context.Context, name string, meta domain.RoomMetadata) error {
	encoded, err := domain.EncodeRoomMetadata(meta)
	if err != nil {
		return err
	}
	return c.call(ctx, "/rooms/create", map[string]any{
		"name":     name,
		"metadata": encoded,
	}, nil)
}

func (c *Client) DeleteRoom(ctx context.Context, name string) error {
	return c.call(ctx, "/rooms/delete", map[string]any{"name": name}, nil)
}

func (c *Client) ListRooms(ctx context.Context, names ...string) ([]core.Room, error) {
	var resp struct {
		Rooms []wireRoom `json:"rooms"`
	}
	if err := c.call(ctx, "/rooms/list", map[string]any{"names": names}, &resp); err != nil {
		return nil, err
	}
	out := make([]core.Room, 0, len(resp.Rooms))
	for _, r := range resp.Rooms {
		meta, err := domain.DecodeRoomMetadata(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("room %q: %w", r.Name, err)
		}
		out = append(out, core.Room{Name: r.Name, Metadata: meta})
	}
	return out, nil
}

func (c *Client) ListParticipants(ctx context.Context, room string) ([]core.Participant, error) {
	var resp struct {
		Participants []wireParticipant `json:"participants"`
	}
	if err := c.call(ctx, "/participants/list", map[string]any{"room": room}, &resp); err != nil {
		return nil, err
	}
	out := make([]core.Participant, 0, len(resp.Participants))
	for _, p := range resp.Participants {
		decoded, err := toParticipant(p)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

func (c *Client) GetParticipant(ctx context.Context, room, identity string) (core.Participant, error) {
	var resp wireParticipant
	err := c.call(ctx, "/participants/get", map[string]any{
		"room":     room,
		"identity": identity,
	}, &resp)
	if err != nil {
		return core.Participant{}, err
	}
	return toParticipant(resp)
}

func (c *Client) UpdateParticipant(ctx context.Context, room, identity string, meta domain.ParticipantMetadata, grants core.Grants) error {
	encoded, err := domain.EncodeParticipantMetadata(meta)
	if err != nil {
		return err
	}
	return c.call(ctx, "/participants/update", map[string]any{
		"room":     room,
		"identity": identity,
		"metadata": encoded,
		"grants":   grants,
	}, nil)
}

func (c *Client) UpdateRoomMetadata(ctx context.Context, room string, meta domain.RoomMetadata) error {
	encoded, err := domain.EncodeRoomMetadata(meta)
	if err != nil {
		return err
	}
	return c.call(ctx, "/rooms/update_metadata", map[string]any{
		"room":     room,
		"metadata": encoded,
	}, nil)
}

func (c *Client) RemoveParticipant(ctx context.Context, room, identity string) error {
	return c.call(ctx, "/participants/remove", map[string]any{
		"room":     room,
		"identity": identity,
	}, nil)
}

func (c *Client) SendMessage(ctx context.Context, room string, payload []byte, opts core.SendOptions) error {
	return c.call(ctx, "/rooms/send_data", map[string]any{
		"room":                   room,
		"payload":                payload,
		"destination_identities": opts.DestinationIdentities,
	}, nil)
}

func (c *Client) MutePublishedTrack(ctx context.Context, room, identity, trackSID string, muted bool) error {
	return c.call(ctx, "/participants/mute_track", map[string]any{
		"room":      room,
		"identity":  identity,
		"track_sid": trackSID,
		"muted":     muted,
	}, nil)
}

// call POSTs a JSON body and decodes the JSON response into out when given.
func (c *Client) call(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	admin, err := c.tokens.Mint("server", "", core.Grants{RoomAdmin: true}, requestTokenTTL)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+admin)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return core.ErrRoomNotFound
	default:
		slurped, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("room service %s: status %d: %s", path, resp.StatusCode, slurped)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func toParticipant(p wireParticipant) (core.Participant, error) {
	meta, err := domain.DecodeParticipantMetadata(p.Metadata)
	if err != nil {
		return core.Participant{}, fmt.Errorf("participant %q: %w", p.Identity, err)
	}
	tracks := make([]core.Track, 0, len(p.Tracks))
	for _, t := range p.Tracks {
		tracks = append(tracks, core.Track{SID: t.SID, Kind: core.TrackKind(t.Kind), Muted: t.Muted})
	}
	return core.Participant{
		Identity: p.Identity,
		Metadata: meta,
		Grants:   p.Grants,
		Tracks:   tracks,
	}, nil
}
