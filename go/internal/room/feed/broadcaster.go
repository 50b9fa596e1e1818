package feed

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointroom/go/internal/room/events"
)

// Broadcaster publishes ephemeral hints to a room's live subscribers,
// including the sender. Messages are fire-and-forget: the authoritative store
// remains the ledger, these are UI hints only.
type Broadcaster struct {
	nc *nats.Conn
}

// NewBroadcaster creates a broadcaster on the feed's NATS connection.
func NewBroadcaster(nc *nats.Conn) *Broadcaster {
	return &Broadcaster{nc: nc}
}

// PublishAction announces a reveal or start action to the room.
func (b *Broadcaster) PublishAction(roomID uuid.UUID, payload events.ActionPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal action payload: %w", err)
	}
	if err := b.nc.Publish(actionSubject(roomID), data); err != nil {
		return fmt.Errorf("failed to publish room action: %w", err)
	}
	log.Debug().
		Str("room_id", roomID.String()).
		Str("kind", string(payload.Kind)).
		Msg("room action broadcast")
	return nil
}

// PublishRefresh asks every live client in the room to re-fetch from the
// store, covering silent feed gaps.
func (b *Broadcaster) PublishRefresh(roomID, actorID uuid.UUID) error {
	data, err := json.Marshal(events.RefreshPayload{ActorID: actorID})
	if err != nil {
		return fmt.Errorf("failed to marshal refresh payload: %w", err)
	}
	if err := b.nc.Publish(refreshSubject(roomID), data); err != nil {
		return fmt.Errorf("failed to publish force refresh: %w", err)
	}
	log.Debug().Str("room_id", roomID.String()).Msg("force refresh broadcast")
	return nil
}
