package app

import (
	"context"

	"github.com/stagelink/server/internal/domain"
)

// ValidateCapacity reports whether one more participant may be admitted to
// the stage of room. The check is advisory: state is read fresh and written
// back without a transaction, so concurrent admissions can race past the
// ceiling by a small margin. That is accepted; do not serialize admissions
// to close the window.
func (c *Coordinator) ValidateCapacity(ctx context.Context, room string, kind domain.RoomKind) (bool, error) {
	participants, err := c.Store.ListParticipants(ctx, room)
	if err != nil {
		return false, err
	}
	onStage := 0
	for _, p := range participants {
		if p.Metadata.InvitedToStage {
			onStage++
		}
	}
	return onStage <= kind.StageCeiling(), nil
}
