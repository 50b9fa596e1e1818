package events

import "github.com/google/uuid"

// Broadcast payload types shared between the feed, engine and lifecycle packages.

// ActionKind identifies which room action a broadcast announces.
type ActionKind string

const (
	ActionReveal ActionKind = "reveal"
	ActionStart  ActionKind = "start"
)

// ActionPayload is the body of a room_action broadcast. It is a transient UI
// hint tagged with the acting participant, never part of durable state.
type ActionPayload struct {
	ActorID uuid.UUID  `json:"actor_id"`
	Kind    ActionKind `json:"kind"`
}

// RefreshPayload is the body of a force_refresh broadcast. Receivers discard
// their local view and reload from the authoritative store.
type RefreshPayload struct {
	ActorID uuid.UUID `json:"actor_id"`
}
