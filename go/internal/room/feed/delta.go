package feed

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/pointroom/go/internal/models"
	"github.com/mcdev12/pointroom/go/internal/room/events"
)

// Handlers are the typed callbacks a subscriber provides for one room's feed.
// Nil handlers are skipped. Delivery across distinct rows is unordered; only
// per-row delivery is monotonic, so consumers must not assume global ordering.
type Handlers struct {
	RoomUpdated        func(models.Room)
	ParticipantJoined  func(models.Participant)
	ParticipantUpdated func(models.Participant)
	ParticipantLeft    func(uuid.UUID)
	Action             func(events.ActionPayload)
	Refresh            func()
}

// change is the envelope emitted by the room_changes NOTIFY triggers.
type change struct {
	Table  string          `json:"table"`
	Op     string          `json:"op"`
	RoomID uuid.UUID       `json:"room_id"`
	Row    json.RawMessage `json:"row,omitempty"`
	Old    json.RawMessage `json:"old,omitempty"`
}

// dispatchChange decodes one NOTIFY payload and routes it to the handlers,
// dropping anything for other rooms. Unknown tables and ops are ignored so the
// feed survives schema additions.
func dispatchChange(data []byte, roomID uuid.UUID, h Handlers) error {
	var c change
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("failed to unmarshal change payload: %w", err)
	}
	if c.RoomID != roomID {
		return nil
	}

	switch c.Table {
	case "rooms":
		if c.Op != "UPDATE" || h.RoomUpdated == nil {
			return nil
		}
		var room models.Room
		if err := json.Unmarshal(c.Row, &room); err != nil {
			return fmt.Errorf("failed to unmarshal room row: %w", err)
		}
		h.RoomUpdated(room)

	case "participants":
		switch c.Op {
		case "INSERT", "UPDATE":
			var p models.Participant
			if err := json.Unmarshal(c.Row, &p); err != nil {
				return fmt.Errorf("failed to unmarshal participant row: %w", err)
			}
			if c.Op == "INSERT" {
				if h.ParticipantJoined != nil {
					h.ParticipantJoined(p)
				}
			} else if h.ParticipantUpdated != nil {
				h.ParticipantUpdated(p)
			}
		case "DELETE":
			if h.ParticipantLeft == nil {
				return nil
			}
			var old struct {
				ID uuid.UUID `json:"id"`
			}
			if err := json.Unmarshal(c.Old, &old); err != nil {
				return fmt.Errorf("failed to unmarshal deleted participant: %w", err)
			}
			h.ParticipantLeft(old.ID)
		}
	}
	return nil
}
