package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointroom/go/internal/models"
	"github.com/mcdev12/pointroom/go/internal/room/events"
	"github.com/mcdev12/pointroom/go/internal/room/feed"
)

// Loader is what the engine needs to rebuild its view on a force refresh.
type Loader interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error)
}

// Config holds engine tunables.
type Config struct {
	EventBuffer        int
	NotificationWindow time.Duration
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		EventBuffer:        256,
		NotificationWindow: 4 * time.Second,
	}
}

type eventKind int

const (
	evSeed eventKind = iota
	evRoomUpdated
	evParticipantJoined
	evParticipantUpdated
	evParticipantLeft
	evSetCurrentUser
	evLocalVote
	evActionNotice
	evClearNotice
	evRefresh
	evClear
)

// event is one typed delta delivered to the reconcile loop. Local optimistic
// mutations and remote deltas travel through the same bounded channel, so no
// two are ever applied concurrently against the view.
type event struct {
	kind        eventKind
	room        *models.Room
	roster      []models.Participant
	participant *models.Participant
	id          uuid.UUID
	vote        *string
	action      events.ActionPayload
	seq         uint64
}

// Engine owns the authoritative in-memory room view. A single goroutine
// (Run) consumes the event channel and is the only writer of the view.
type Engine struct {
	loader Loader
	clock  clockwork.Clock
	cfg    Config

	eventCh chan event
	updates chan View

	mu       sync.RWMutex
	snapshot View
}

// New creates an engine. Run must be started for events to apply.
func New(loader Loader, clock clockwork.Clock, cfg Config) *Engine {
	return &Engine{
		loader:  loader,
		clock:   clock,
		cfg:     cfg,
		eventCh: make(chan event, cfg.EventBuffer),
		updates: make(chan View, 1),
	}
}

// Run is the reconcile loop. It returns when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	log.Debug().Msg("reconcile loop started")

	// state is loop-owned; snapshots are published copies.
	var state View
	var noticeSeq uint64

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("reconcile loop shutting down")
			return nil
		case ev := <-e.eventCh:
			noticeSeq = e.apply(ctx, &state, ev, noticeSeq)
			state.Version++
			e.publish(state.clone())
		}
	}
}

// View returns a copy of the current merged view.
func (e *Engine) View() View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot.clone()
}

// Updates returns a coalescing stream of view snapshots. Slow consumers see
// only the most recent view, never a backlog.
func (e *Engine) Updates() <-chan View {
	return e.updates
}

// Handlers adapts the engine into change feed callbacks.
func (e *Engine) Handlers() feed.Handlers {
	return feed.Handlers{
		RoomUpdated: func(r models.Room) {
			e.enqueue(event{kind: evRoomUpdated, room: &r})
		},
		ParticipantJoined: func(p models.Participant) {
			e.enqueue(event{kind: evParticipantJoined, participant: &p})
		},
		ParticipantUpdated: func(p models.Participant) {
			e.enqueue(event{kind: evParticipantUpdated, participant: &p})
		},
		ParticipantLeft: func(id uuid.UUID) {
			e.enqueue(event{kind: evParticipantLeft, id: id})
		},
		Action: func(a events.ActionPayload) {
			e.enqueue(event{kind: evActionNotice, action: a})
		},
		Refresh: func() {
			e.enqueue(event{kind: evRefresh})
		},
	}
}

// Seed replaces the whole view with a point-in-time read of the store.
func (e *Engine) Seed(room models.Room, roster []models.Participant) {
	e.enqueue(event{kind: evSeed, room: &room, roster: roster})
}

// SetCurrentUser records which participant this client is. A nil participant
// clears the current user (leave).
func (e *Engine) SetCurrentUser(p *models.Participant) {
	e.enqueue(event{kind: evSetCurrentUser, participant: p})
}

// ApplyLocalVote applies the current user's vote optimistically, without
// waiting for the remote echo. The echo is a no-op by the update merge rule.
func (e *Engine) ApplyLocalVote(vote *string) {
	e.enqueue(event{kind: evLocalVote, vote: vote})
}

// ApplyLocalReset optimistically clears the current user's vote after a
// start-new-voting write.
func (e *Engine) ApplyLocalReset() {
	e.enqueue(event{kind: evLocalVote, vote: nil})
}

// RequestRefresh discards the local view and re-fetches room and roster.
func (e *Engine) RequestRefresh() {
	e.enqueue(event{kind: evRefresh})
}

// Clear empties the view entirely, for leaving or switching rooms.
func (e *Engine) Clear() {
	e.enqueue(event{kind: evClear})
}

func (e *Engine) enqueue(ev event) {
	select {
	case e.eventCh <- ev:
	default:
		// A full channel means deltas are lost; convergence is recovered by
		// the next force refresh rather than by blocking callers.
		log.Warn().Int("kind", int(ev.kind)).Msg("event channel full, dropping delta")
	}
}

// apply merges one event into the loop-owned state, in arrival order, and
// returns the updated notification sequence.
func (e *Engine) apply(ctx context.Context, state *View, ev event, noticeSeq uint64) uint64 {
	switch ev.kind {
	case evSeed:
		state.Room = ev.room
		state.Participants = ev.roster
		// Re-point the current user at the authoritative row when present.
		if state.CurrentUser != nil {
			if p := findParticipant(state.Participants, state.CurrentUser.ID); p != nil {
				user := *p
				state.CurrentUser = &user
			}
		}

	case evRoomUpdated:
		// The remote row is final truth; any local guess is overwritten.
		state.Room = ev.room

	case evParticipantJoined:
		// De-duplicate by id: our own optimistic insert and its remote echo
		// collide here.
		if findParticipant(state.Participants, ev.participant.ID) == nil {
			state.Participants = append(state.Participants, *ev.participant)
		}

	case evParticipantUpdated:
		for i := range state.Participants {
			if state.Participants[i].ID == ev.participant.ID {
				state.Participants[i] = *ev.participant
				break
			}
		}
		// Keep "my vote" and the roster's copy of it from diverging.
		if state.CurrentUser != nil && state.CurrentUser.ID == ev.participant.ID {
			user := *ev.participant
			state.CurrentUser = &user
		}

	case evParticipantLeft:
		for i := range state.Participants {
			if state.Participants[i].ID == ev.id {
				state.Participants = append(state.Participants[:i], state.Participants[i+1:]...)
				break
			}
		}

	case evSetCurrentUser:
		state.CurrentUser = ev.participant
		if ev.participant != nil && findParticipant(state.Participants, ev.participant.ID) == nil {
			state.Participants = append(state.Participants, *ev.participant)
		}

	case evLocalVote:
		if state.CurrentUser == nil {
			break
		}
		user := *state.CurrentUser
		user.Vote = ev.vote
		state.CurrentUser = &user
		for i := range state.Participants {
			if state.Participants[i].ID == user.ID {
				state.Participants[i].Vote = ev.vote
				break
			}
		}

	case evActionNotice:
		state.Notification = &Notification{
			ActorID: ev.action.ActorID,
			Kind:    ev.action.Kind,
		}
		noticeSeq++
		e.scheduleNoticeClear(ctx, noticeSeq)

	case evClearNotice:
		// A newer notice restarted the window; its clear carries a newer seq.
		if ev.seq == noticeSeq {
			state.Notification = nil
		}

	case evRefresh:
		if state.Room != nil {
			e.reload(ctx, state.Room.ID)
		}

	case evClear:
		*state = View{Version: state.Version}
	}
	return noticeSeq
}

// scheduleNoticeClear arms the fixed visibility window for the notification
// carrying seq. The clear is delivered through the event channel so the loop
// stays the only writer.
func (e *Engine) scheduleNoticeClear(ctx context.Context, seq uint64) {
	timer := e.clock.After(e.cfg.NotificationWindow)
	go func() {
		select {
		case <-timer:
			e.enqueue(event{kind: evClearNotice, seq: seq})
		case <-ctx.Done():
		}
	}()
}

// reload re-fetches room and roster in the background and seeds the view with
// the result. Used to recover from missed or out-of-order deltas.
func (e *Engine) reload(ctx context.Context, roomID uuid.UUID) {
	go func() {
		room, err := e.loader.GetRoom(ctx, roomID)
		if err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("refresh: failed to load room")
			return
		}
		participants, err := e.loader.ListParticipants(ctx, roomID)
		if err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("refresh: failed to load participants")
			return
		}
		e.Seed(*room, participants)
	}()
}

func (e *Engine) publish(v View) {
	e.mu.Lock()
	e.snapshot = v
	e.mu.Unlock()

	// Coalesce: drop the stale pending snapshot, keep the newest.
	select {
	case e.updates <- v:
	default:
		select {
		case <-e.updates:
		default:
		}
		select {
		case e.updates <- v:
		default:
		}
	}
}

func findParticipant(participants []models.Participant, id uuid.UUID) *models.Participant {
	for i := range participants {
		if participants[i].ID == id {
			return &participants[i]
		}
	}
	return nil
}
