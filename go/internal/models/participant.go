package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant represents one seat in a room, voter or observer.
type Participant struct {
	ID         uuid.UUID `json:"id"`
	RoomID     uuid.UUID `json:"room_id"`
	Name       string    `json:"name"`
	IsObserver bool      `json:"is_observer"`
	Vote       *string   `json:"vote"`
	JoinedAt   time.Time `json:"joined_at"`
}

// HasVoted reports whether the participant has a vote on the table.
func (p *Participant) HasVoted() bool {
	return p.Vote != nil
}
