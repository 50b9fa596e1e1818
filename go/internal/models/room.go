package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus defines the voting state of a room.
type RoomStatus string

const (
	RoomStatusVoting   RoomStatus = "voting"
	RoomStatusRevealed RoomStatus = "revealed"
)

// VoteSkip is the sentinel option for sitting a round out. It counts as a cast
// vote for reveal purposes but never produces consensus.
const VoteSkip = "Skip"

// Room represents a voting room instance.
type Room struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	VotingOptions []string   `json:"voting_options"`
	Status        RoomStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsRevealed reports whether the room currently exposes votes.
func (r *Room) IsRevealed() bool {
	return r.Status == RoomStatusRevealed
}
