package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointroom/go/internal/models"
	"github.com/mcdev12/pointroom/go/internal/room/events"
	"github.com/mcdev12/pointroom/go/internal/room/store"
)

// Repository defines what the controller needs from the room state repository.
type Repository interface {
	CreateOrReuseRoom(ctx context.Context, name string, options []string) (uuid.UUID, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error)
	GetParticipant(ctx context.Context, id, roomID uuid.UUID) (*models.Participant, error)
	UpsertParticipant(ctx context.Context, roomID uuid.UUID, name string, isObserver bool) (*models.Participant, error)
	SetVote(ctx context.Context, participantID uuid.UUID, vote *string) error
	SetRoomStatus(ctx context.Context, roomID uuid.UUID, status models.RoomStatus) error
	ClearAllVotes(ctx context.Context, roomID uuid.UUID) error
	DeleteParticipant(ctx context.Context, id uuid.UUID) error
}

// Sessions is the device-local session store.
type Sessions interface {
	Save(ctx context.Context, roomID uuid.UUID, p models.Participant, isObserver bool) error
	Load(ctx context.Context, roomID uuid.UUID) (*models.LocalSession, error)
	Clear(ctx context.Context, roomID uuid.UUID) error
	NicknameHint(ctx context.Context) (string, error)
	SetNicknameHint(ctx context.Context, name string) error
	ClearNicknameHint(ctx context.Context) error
}

// Broadcaster publishes ephemeral hints to the room's live clients.
type Broadcaster interface {
	PublishAction(roomID uuid.UUID, payload events.ActionPayload) error
	PublishRefresh(roomID, actorID uuid.UUID) error
}

// Engine is the controller's handle on the reconciliation engine.
type Engine interface {
	Seed(room models.Room, roster []models.Participant)
	SetCurrentUser(p *models.Participant)
	ApplyLocalVote(vote *string)
	ApplyLocalReset()
	RequestRefresh()
	Clear()
}

// Controller exposes the room operations as the engine's public contract.
// Each operation translates into repository writes plus ephemeral broadcasts;
// the merged view itself stays exclusively owned by the engine.
type Controller struct {
	repo      Repository
	sessions  Sessions
	broadcast Broadcaster
	engine    Engine

	mu      sync.Mutex
	current *models.Participant
}

// NewController creates a lifecycle controller bound to one engine instance.
func NewController(repo Repository, sessions Sessions, broadcast Broadcaster, eng Engine) *Controller {
	return &Controller{
		repo:      repo,
		sessions:  sessions,
		broadcast: broadcast,
		engine:    eng,
	}
}

// CreateRoom creates a room, or reuses an existing one by name and refreshes
// its option set. Requires only a repository, not a joined session.
func CreateRoom(ctx context.Context, repo Repository, name string, options []string) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, fmt.Errorf("room name must not be empty: %w", ErrValidation)
	}

	id, err := repo.CreateOrReuseRoom(ctx, name, options)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create room: %w", err)
	}

	log.Info().Str("room_id", id.String()).Str("name", name).Msg("room created or reused")
	return id, nil
}

// JoinRoom joins (or rejoins) a room under the given display name. On success
// the local session and nickname hint are persisted and the engine view gains
// its current user.
func (c *Controller) JoinRoom(ctx context.Context, roomID uuid.UUID, name string, isObserver bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("participant name must not be empty: %w", ErrValidation)
	}

	room, err := c.repo.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("room %s: %w", roomID, ErrRoomNotFound)
		}
		return fmt.Errorf("failed to load room: %w", err)
	}

	participant, err := c.repo.UpsertParticipant(ctx, roomID, name, isObserver)
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}

	if err := c.sessions.Save(ctx, roomID, *participant, isObserver); err != nil {
		// The join itself succeeded; a session write failure only costs the
		// next resume.
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to persist local session")
	}
	if err := c.sessions.SetNicknameHint(ctx, name); err != nil {
		log.Error().Err(err).Msg("failed to persist nickname hint")
	}

	roster, err := c.repo.ListParticipants(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}

	c.setCurrent(participant)
	c.engine.Seed(*room, roster)
	c.engine.SetCurrentUser(participant)

	log.Info().
		Str("room_id", roomID.String()).
		Str("participant_id", participant.ID.String()).
		Str("name", name).
		Bool("is_observer", isObserver).
		Msg("joined room")
	return nil
}

// ResumeSession tries to re-enter a room without prompting. Order of attempts:
// a valid local session whose remote row still matches restores silently; a
// stale session is cleared and the cross-room nickname hint auto-joins; with
// neither the caller must prompt for a name.
func (c *Controller) ResumeSession(ctx context.Context, roomID uuid.UUID) (bool, error) {
	sess, err := c.sessions.Load(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("failed to load local session: %w", err)
	}

	if sess != nil {
		participant, err := c.repo.GetParticipant(ctx, sess.ParticipantID, roomID)
		if err == nil && participant.Name == sess.Name {
			c.setCurrent(participant)
			c.engine.SetCurrentUser(participant)
			log.Info().
				Str("room_id", roomID.String()).
				Str("participant_id", participant.ID.String()).
				Msg("session restored")
			return true, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("failed to verify session: %w", err)
		}
		// The remote participant is gone or no longer ours.
		if err := c.sessions.Clear(ctx, roomID); err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to clear stale session")
		}
	}

	hint, err := c.sessions.NicknameHint(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load nickname hint: %w", err)
	}
	if hint == "" {
		return false, nil
	}

	if err := c.JoinRoom(ctx, roomID, hint, false); err != nil {
		return false, fmt.Errorf("failed to auto-join with nickname hint: %w", err)
	}
	return true, nil
}

// LoadRoom seeds the engine with a point-in-time read of room and roster.
func (c *Controller) LoadRoom(ctx context.Context, roomID uuid.UUID) error {
	room, err := c.repo.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("room %s: %w", roomID, ErrRoomNotFound)
		}
		return fmt.Errorf("failed to load room: %w", err)
	}
	participants, err := c.repo.ListParticipants(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	c.engine.Seed(*room, participants)
	return nil
}

// SubmitVote writes the current user's vote remotely, then applies it to the
// local view without waiting; the remote echo is a no-op. A failed write is
// returned but the optimistic state is not rolled back.
func (c *Controller) SubmitVote(ctx context.Context, value string) error {
	current := c.Current()
	if current == nil {
		return ErrNoCurrentUser
	}

	if err := c.repo.SetVote(ctx, current.ID, &value); err != nil {
		log.Error().Err(err).Str("participant_id", current.ID.String()).Msg("failed to submit vote")
		return fmt.Errorf("failed to submit vote: %w", err)
	}

	c.engine.ApplyLocalVote(&value)
	return nil
}

// RevealCards flips the room to revealed and announces who did it. Quorum
// (at least one vote on the table) is the caller's check, via View.CanReveal;
// a concurrent reset simply wins or loses at the store, and every client
// converges on whatever the room row settles on.
func (c *Controller) RevealCards(ctx context.Context, roomID uuid.UUID) error {
	current := c.Current()
	if current == nil {
		return ErrNoCurrentUser
	}

	if err := c.repo.SetRoomStatus(ctx, roomID, models.RoomStatusRevealed); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to reveal cards")
		return fmt.Errorf("failed to reveal cards: %w", err)
	}

	if err := c.broadcast.PublishAction(roomID, events.ActionPayload{
		ActorID: current.ID,
		Kind:    events.ActionReveal,
	}); err != nil {
		// Broadcasts are hints; the durable flip already happened.
		log.Warn().Err(err).Str("room_id", roomID.String()).Msg("failed to broadcast reveal")
	}
	return nil
}

// StartNewVoting resets the round: status first, votes second. A client
// polling mid-sequence sees "voting with stale votes", which the vote clear
// then corrects, rather than "revealed with no votes".
func (c *Controller) StartNewVoting(ctx context.Context, roomID uuid.UUID) error {
	current := c.Current()
	if current == nil {
		return ErrNoCurrentUser
	}

	if err := c.repo.SetRoomStatus(ctx, roomID, models.RoomStatusVoting); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to reset room status")
		return fmt.Errorf("failed to start new voting: %w", err)
	}
	if err := c.repo.ClearAllVotes(ctx, roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to clear votes")
		return fmt.Errorf("failed to clear votes: %w", err)
	}

	c.engine.ApplyLocalReset()

	if err := c.broadcast.PublishAction(roomID, events.ActionPayload{
		ActorID: current.ID,
		Kind:    events.ActionStart,
	}); err != nil {
		log.Warn().Err(err).Str("room_id", roomID.String()).Msg("failed to broadcast new voting")
	}
	return nil
}

// LeaveRoom hard-removes the current user: durable row, local session and
// nickname hint all go. Rejoining creates a fresh identity unless the
// (room, name) de-duplication reunifies it.
func (c *Controller) LeaveRoom(ctx context.Context) error {
	current := c.Current()
	if current == nil {
		return ErrNoCurrentUser
	}

	if err := c.repo.DeleteParticipant(ctx, current.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to leave room: %w", err)
	}
	if err := c.sessions.Clear(ctx, current.RoomID); err != nil {
		log.Error().Err(err).Str("room_id", current.RoomID.String()).Msg("failed to clear session")
	}
	if err := c.sessions.ClearNicknameHint(ctx); err != nil {
		log.Error().Err(err).Msg("failed to clear nickname hint")
	}

	c.setCurrent(nil)
	c.engine.SetCurrentUser(nil)

	log.Info().
		Str("room_id", current.RoomID.String()).
		Str("participant_id", current.ID.String()).
		Msg("left room")
	return nil
}

// ForceRefresh reloads this client's view and broadcasts a refresh hint so
// other connected clients reconcile too, covering silent feed gaps.
func (c *Controller) ForceRefresh(ctx context.Context, roomID uuid.UUID) error {
	if err := c.LoadRoom(ctx, roomID); err != nil {
		return err
	}

	actorID := uuid.Nil
	if current := c.Current(); current != nil {
		actorID = current.ID
	}
	if err := c.broadcast.PublishRefresh(roomID, actorID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID.String()).Msg("failed to broadcast refresh")
	}
	return nil
}

// Current returns the controller's copy of the current user, or nil before a
// join.
func (c *Controller) Current() *models.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	p := *c.current
	return &p
}

func (c *Controller) setCurrent(p *models.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = p
}
