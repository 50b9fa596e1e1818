package engine

import (
	"github.com/google/uuid"

	"github.com/mcdev12/pointroom/go/internal/models"
	"github.com/mcdev12/pointroom/go/internal/room/events"
)

// Notification is the short-lived action bubble currently on display, if any.
// Notifications are never queued; a newer one replaces the old.
type Notification struct {
	ActorID uuid.UUID         `json:"actor_id"`
	Kind    events.ActionKind `json:"kind"`
}

// View is the engine's merged room state. Snapshots handed out by the engine
// are value copies; readers never share mutable state with the reconcile loop.
type View struct {
	Room         *models.Room         `json:"room"`
	Participants []models.Participant `json:"participants"`
	CurrentUser  *models.Participant  `json:"current_user"`
	Notification *Notification        `json:"notification,omitempty"`
	Version      uint64               `json:"version"`
}

// CanReveal reports whether at least one voter has a vote on the table.
func (v View) CanReveal() bool {
	for i := range v.Participants {
		p := &v.Participants[i]
		if !p.IsObserver && p.HasVoted() {
			return true
		}
	}
	return false
}

// clone returns a deep enough copy for handing outside the loop. Participant
// votes are pointers to immutable strings, so sharing them is safe.
func (v View) clone() View {
	out := v
	if v.Room != nil {
		room := *v.Room
		room.VotingOptions = append([]string(nil), v.Room.VotingOptions...)
		out.Room = &room
	}
	if v.Participants != nil {
		out.Participants = append([]models.Participant(nil), v.Participants...)
	}
	if v.CurrentUser != nil {
		user := *v.CurrentUser
		out.CurrentUser = &user
	}
	if v.Notification != nil {
		n := *v.Notification
		out.Notification = &n
	}
	return out
}
