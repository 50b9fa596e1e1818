package lifecycle

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pointroom/go/internal/models"
	"github.com/mcdev12/pointroom/go/internal/room/events"
	"github.com/mcdev12/pointroom/go/internal/room/store"
)

// fakeRepo is an in-memory stand-in for the Postgres repository, including the
// (room, name) de-duplication the real upsert performs.
type fakeRepo struct {
	mu           sync.Mutex
	rooms        map[uuid.UUID]*models.Room
	participants map[uuid.UUID]*models.Participant
	now          time.Time

	statusWrites []models.RoomStatus
	clearAt      int // index into statusWrites when ClearAllVotes ran
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rooms:        make(map[uuid.UUID]*models.Room),
		participants: make(map[uuid.UUID]*models.Participant),
		now:          time.Unix(1700000000, 0),
		clearAt:      -1,
	}
}

func (f *fakeRepo) tick() time.Time {
	f.now = f.now.Add(time.Second)
	return f.now
}

func (f *fakeRepo) CreateOrReuseRoom(ctx context.Context, name string, options []string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rooms {
		if r.Name == name {
			r.VotingOptions = options
			return r.ID, nil
		}
	}
	room := &models.Room{
		ID:            uuid.New(),
		Name:          name,
		VotingOptions: options,
		Status:        models.RoomStatusVoting,
	}
	f.rooms[room.ID] = room
	return room.ID, nil
}

func (f *fakeRepo) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	room := *r
	return &room, nil
}

func (f *fakeRepo) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Participant
	for _, p := range f.participants {
		if p.RoomID == roomID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (f *fakeRepo) GetParticipant(ctx context.Context, id, roomID uuid.UUID) (*models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[id]
	if !ok || p.RoomID != roomID {
		return nil, store.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (f *fakeRepo) UpsertParticipant(ctx context.Context, roomID uuid.UUID, name string, isObserver bool) (*models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var earliest *models.Participant
	for _, p := range f.participants {
		if p.RoomID != roomID || p.Name != name {
			continue
		}
		if earliest == nil || p.JoinedAt.Before(earliest.JoinedAt) {
			earliest = p
		}
	}
	if earliest != nil {
		for id, p := range f.participants {
			if p.RoomID == roomID && p.Name == name && id != earliest.ID {
				delete(f.participants, id)
			}
		}
		earliest.IsObserver = isObserver
		out := *earliest
		return &out, nil
	}
	p := &models.Participant{
		ID:         uuid.New(),
		RoomID:     roomID,
		Name:       name,
		IsObserver: isObserver,
		JoinedAt:   f.tick(),
	}
	f.participants[p.ID] = p
	out := *p
	return &out, nil
}

func (f *fakeRepo) SetVote(ctx context.Context, participantID uuid.UUID, vote *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[participantID]
	if !ok {
		return store.ErrNotFound
	}
	p.Vote = vote
	return nil
}

func (f *fakeRepo) SetRoomStatus(ctx context.Context, roomID uuid.UUID, status models.RoomStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = status
	f.statusWrites = append(f.statusWrites, status)
	return nil
}

func (f *fakeRepo) ClearAllVotes(ctx context.Context, roomID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants {
		if p.RoomID == roomID {
			p.Vote = nil
		}
	}
	f.clearAt = len(f.statusWrites)
	return nil
}

func (f *fakeRepo) DeleteParticipant(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.participants[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.participants, id)
	return nil
}

// fakeSessions is an in-memory Sessions implementation.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]models.LocalSession
	hint     string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[uuid.UUID]models.LocalSession)}
}

func (f *fakeSessions) Save(ctx context.Context, roomID uuid.UUID, p models.Participant, isObserver bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[roomID] = models.LocalSession{
		ParticipantID: p.ID,
		RoomID:        roomID,
		Name:          p.Name,
		IsObserver:    isObserver,
	}
	return nil
}

func (f *fakeSessions) Load(ctx context.Context, roomID uuid.UUID) (*models.LocalSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[roomID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeSessions) Clear(ctx context.Context, roomID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, roomID)
	return nil
}

func (f *fakeSessions) NicknameHint(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hint, nil
}

func (f *fakeSessions) SetNicknameHint(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hint = name
	return nil
}

func (f *fakeSessions) ClearNicknameHint(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hint = ""
	return nil
}

// fakeBroadcaster records published hints.
type fakeBroadcaster struct {
	mu        sync.Mutex
	actions   []events.ActionPayload
	refreshes []uuid.UUID
}

func (f *fakeBroadcaster) PublishAction(roomID uuid.UUID, payload events.ActionPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, payload)
	return nil
}

func (f *fakeBroadcaster) PublishRefresh(roomID, actorID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, actorID)
	return nil
}

// fakeEngine records the calls the controller makes.
type fakeEngine struct {
	mu      sync.Mutex
	seeds   int
	current *models.Participant
	votes   []*string
	resets  int
	cleared int
}

func (f *fakeEngine) Seed(room models.Room, roster []models.Participant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeds++
}

func (f *fakeEngine) SetCurrentUser(p *models.Participant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = p
}

func (f *fakeEngine) ApplyLocalVote(vote *string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes = append(f.votes, vote)
}

func (f *fakeEngine) ApplyLocalReset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeEngine) RequestRefresh() {}

func (f *fakeEngine) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

type fixture struct {
	repo      *fakeRepo
	sessions  *fakeSessions
	broadcast *fakeBroadcaster
	engine    *fakeEngine
	ctrl      *Controller
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newFakeRepo(),
		sessions:  newFakeSessions(),
		broadcast: &fakeBroadcaster{},
		engine:    &fakeEngine{},
	}
	f.ctrl = NewController(f.repo, f.sessions, f.broadcast, f.engine)
	return f
}

func (f *fixture) createRoom(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := CreateRoom(context.Background(), f.repo, "sprint-42", []string{"1", "2", "3", models.VoteSkip})
	require.NoError(t, err)
	return id
}

func TestCreateRoomValidation(t *testing.T) {
	f := newFixture()
	_, err := CreateRoom(context.Background(), f.repo, "   ", nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateRoomReusesByName(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := CreateRoom(ctx, f.repo, "sprint-42", []string{"1", "2"})
	require.NoError(t, err)
	second, err := CreateRoom(ctx, f.repo, "sprint-42", []string{"XS", "S", "M"})
	require.NoError(t, err)
	require.Equal(t, first, second)

	room, err := f.repo.GetRoom(ctx, first)
	require.NoError(t, err)
	require.Equal(t, []string{"XS", "S", "M"}, room.VotingOptions)
}

func TestJoinRoom(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	roomID := f.createRoom(t)

	require.NoError(t, f.ctrl.JoinRoom(ctx, roomID, " alice ", false))

	current := f.ctrl.Current()
	require.NotNil(t, current)
	require.Equal(t, "alice", current.Name)
	require.Equal(t, roomID, current.RoomID)

	sess, err := f.sessions.Load(ctx, roomID)
	require.NoError(t, err)
	require.Equal(t, current.ID, sess.ParticipantID)
	hint, _ := f.sessions.NicknameHint(ctx)
	require.Equal(t, "alice", hint)

	require.Equal(t, 1, f.engine.seeds)
	require.Equal(t, current.ID, f.engine.current.ID)
}

func TestJoinRoomValidation(t *testing.T) {
	f := newFixture()
	roomID := f.createRoom(t)

	err := f.ctrl.JoinRoom(context.Background(), roomID, "  ", false)
	require.ErrorIs(t, err, ErrValidation)
}

func TestJoinRoomUnknownRoom(t *testing.T) {
	f := newFixture()
	err := f.ctrl.JoinRoom(context.Background(), uuid.New(), "alice", false)
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinRoomIsIdempotentByName(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	roomID := f.createRoom(t)

	require.NoError(t, f.ctrl.JoinRoom(ctx, roomID, "alice", false))
	firstID := f.ctrl.Current().ID

	require.NoError(t, f.ctrl.JoinRoom(ctx, roomID, "alice", true))
	require.Equal(t, firstID, f.ctrl.Current().ID)
	require.True(t, f.ctrl.Current().IsObserver)

	roster, err := f.repo.ListParticipants(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
}

func TestResumeSessionRestoresValidSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	roomID := f.createRoom(t)
	require.NoError(t, f.ctrl.JoinRoom(ctx, roomID, "alice", false))
	joined := f.ctrl.Current()

	// Fresh controller simulating a page reload on the same device.
	ctrl2 := NewController(f.repo, f.sessions, f.broadcast, f.engine)
	ok, err := ctrl2.ResumeSession(ctx, roomID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, joined.ID, ctrl2.Current().ID)
}

func TestResumeSessionStaleFallsBackToHint(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	roomID := f.createRoom(t)
	require.NoError(t, f.ctrl.JoinRoom(ctx, roomID, "alice", false))
	joined := f.ctrl.Current()

	// The remote row vanished behind our back.
	require.NoError(t, f.repo.DeleteParticipant(ctx, joined.ID))

	ctrl2 := NewController(f.repo, f.sessions, f.broadcast, f.engine)
	ok, err := ctrl2.ResumeSession(ctx, roomID)
	require.NoError(t, err)
	require.True(t, ok)

	// The hint auto-joined under the same name with a fresh identity.
	current := ctrl2.Current()
	require.Equal(t, "alice", current.Name)
	require.NotEqual(t, joined.ID, current.ID)

	// The stale session was replaced, not merely cleared.
	sess, err := f.sessions.Load(ctx, roomID)
	require.NoError(t, err)
	require.Equal(t, current.ID, sess.ParticipantID)
}

func TestResumeSessionNothingToResume(t *testing.T) {
	f := newFixture()
	roomID := f.createRoom(t)

	ok, err := f.ctrl.ResumeSession(context.Background(), roomID)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, f.ctrl.Current())
}

func TestSubmitVote(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	roomID := f.createRoom(t)
	require.NoError(t, f.ctrl.JoinRoom(ctx, roomID, "alice", false))
	current := f.ctrl.Current()

	require.NoError(t, f.ctrl.SubmitVote(ctx, "5"))

	stored, err := f.repo.GetParticipant(ctx, current.ID, roomID)
	require.NoError(t, err)
	require.Equal(t, "5", *stored.Vote)

	require.Len(t, f.engine.votes, 1)
	require.Equal(t, "5", *f.engine.votes[0])
}

func TestSubmitVoteWithoutJoin(t *testing.T) {
	f := newFixture()
	err := f.ctrl.SubmitVote(context.Background(), "5")
	require.ErrorIs(t, err, ErrNoCurrentUser)
}

func TestRevealCards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	roomID := f.createRoom(t)
	require.NoError(t, f.ctrl.JoinRoom(ctx, roomID, "alice", false))
	require.NoError(t, f.ctrl.SubmitVote(ctx, "5"))

	require.NoError(t, f.ctrl.RevealCards(ctx, roomID))

	room, err := f.repo.GetRoom(ctx, roomID)
	require.NoError(t, err)
	require.True(t, room.IsRevealed())

	require.Len(t, f.broadcast.actions, 1)
	require.Equal(t, events.ActionReveal, f.broadcast.actions[0].Kind)
	require.Equal(t, f.ctrl.Current().ID, f.broadcast.actions[0].ActorID)
}

func TestStartNewVotingClearsAfterStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	roomID := f.createRoom(t)
	require.NoError(t, f.ctrl.JoinRoom(ctx, roomID, "alice", false))
	require.NoError(t, f.ctrl.SubmitVote(ctx, "5"))
	require.NoError(t, f.ctrl.RevealCards(ctx, roomID))

	require.NoError(t, f.ctrl.StartNewVoting(ctx, roomID))

	room, err := f.repo.GetRoom(ctx, roomID)
	require.NoError(t, err)
	require.Equal(t, models.RoomStatusVoting, room.Status)

	roster, err := f.repo.ListParticipants(ctx, roomID)
	require.NoError(t, err)
	require.Nil(t, roster[0].Vote)

	// Status flips to voting before the votes are wiped, never after.
	require.Equal(t, []models.RoomStatus{models.RoomStatusRevealed, models.RoomStatusVoting}, f.repo.statusWrites)
	require.Equal(t, 2, f.repo.clearAt)

	require.Equal(t, 1, f.engine.resets)
	require.Equal(t, events.ActionStart, f.broadcast.actions[len(f.broadcast.actions)-1].Kind)
}

func TestLeaveRoom(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	roomID := f.createRoom(t)
	require.NoError(t, f.ctrl.JoinRoom(ctx, roomID, "alice", false))
	current := f.ctrl.Current()

	require.NoError(t, f.ctrl.LeaveRoom(ctx))

	_, err := f.repo.GetParticipant(ctx, current.ID, roomID)
	require.ErrorIs(t, err, store.ErrNotFound)

	sess, err := f.sessions.Load(ctx, roomID)
	require.NoError(t, err)
	require.Nil(t, sess)
	hint, _ := f.sessions.NicknameHint(ctx)
	require.Empty(t, hint)

	require.Nil(t, f.ctrl.Current())
	require.Nil(t, f.engine.current)
}

func TestLeaveRoomToleratesMissingRow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	roomID := f.createRoom(t)
	require.NoError(t, f.ctrl.JoinRoom(ctx, roomID, "alice", false))

	// Someone else (or a cascade) already removed the row.
	require.NoError(t, f.repo.DeleteParticipant(ctx, f.ctrl.Current().ID))
	require.NoError(t, f.ctrl.LeaveRoom(ctx))
	require.Nil(t, f.ctrl.Current())
}

func TestForceRefresh(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	roomID := f.createRoom(t)
	require.NoError(t, f.ctrl.JoinRoom(ctx, roomID, "alice", false))
	seedsBefore := f.engine.seeds

	require.NoError(t, f.ctrl.ForceRefresh(ctx, roomID))

	require.Equal(t, seedsBefore+1, f.engine.seeds)
	require.Len(t, f.broadcast.refreshes, 1)
	require.Equal(t, f.ctrl.Current().ID, f.broadcast.refreshes[0])
}
