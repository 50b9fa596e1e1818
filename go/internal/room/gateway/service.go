package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointroom/go/internal/room/engine"
	"github.com/mcdev12/pointroom/go/internal/room/feed"
	"github.com/mcdev12/pointroom/go/internal/room/lifecycle"
)

// Config holds configuration for the room gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
	EngineConfig     engine.Config
}

// DefaultConfig returns default configuration for the room gateway.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		EngineConfig:     engine.DefaultConfig(),
	}
}

// Service hosts one room session per active room and fans merged view
// snapshots out to the attached presentation clients. A room session owns the
// engine, its feed subscription and a lifecycle controller; the session is
// torn down when the last client detaches, which closes the feed before any
// later re-subscribe.
type Service struct {
	cfg       Config
	cm        *ConnectionManager
	repo      lifecycle.Repository
	sessions  lifecycle.Sessions
	feed      *feed.Feed
	broadcast lifecycle.Broadcaster
	clock     clockwork.Clock

	mu      sync.Mutex
	rooms   map[uuid.UUID]*roomSession
	baseCtx context.Context
}

type roomSession struct {
	roomID     uuid.UUID
	engine     *engine.Engine
	controller *lifecycle.Controller
	sub        *feed.Subscription
	cancel     context.CancelFunc
	refs       int
}

// NewService creates a room gateway service.
func NewService(cfg Config, repo lifecycle.Repository, sessions lifecycle.Sessions, fd *feed.Feed, broadcast lifecycle.Broadcaster, clock clockwork.Clock) *Service {
	return &Service{
		cfg:       cfg,
		cm:        NewConnectionManager(cfg.ConnectionConfig),
		repo:      repo,
		sessions:  sessions,
		feed:      fd,
		broadcast: broadcast,
		clock:     clock,
		rooms:     make(map[uuid.UUID]*roomSession),
	}
}

// Start runs the gateway until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	log.Info().Msg("starting room gateway service")
	go s.cm.Start(ctx)

	<-ctx.Done()

	s.mu.Lock()
	for id, rs := range s.rooms {
		if err := rs.sub.Close(); err != nil {
			log.Error().Err(err).Str("room_id", id.String()).Msg("failed to close room feed")
		}
		rs.cancel()
		delete(s.rooms, id)
	}
	s.mu.Unlock()

	log.Info().Msg("room gateway service stopped")
	return nil
}

// GetStats returns statistics about the gateway service.
func (s *Service) GetStats() (connections, rooms int) {
	return s.cm.GetConnectionStats()
}

// attachRoom returns the live session for a room, creating it on first
// attach. The caller must balance with detachRoom.
func (s *Service) attachRoom(roomID uuid.UUID) (*roomSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.baseCtx == nil {
		return nil, errors.New("gateway not started")
	}
	if rs, ok := s.rooms[roomID]; ok {
		rs.refs++
		return rs, nil
	}

	ctx, cancel := context.WithCancel(s.baseCtx)

	eng := engine.New(s.repo, s.clock, s.cfg.EngineConfig)
	go func() {
		if err := eng.Run(ctx); err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("reconcile loop failed")
		}
	}()

	sub, err := s.feed.Subscribe(roomID, eng.Handlers())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe room feed: %w", err)
	}

	rs := &roomSession{
		roomID:     roomID,
		engine:     eng,
		controller: lifecycle.NewController(s.repo, s.sessions, s.broadcast, eng),
		sub:        sub,
		cancel:     cancel,
		refs:       1,
	}
	s.rooms[roomID] = rs

	go s.pumpViews(ctx, rs)
	go s.initRoom(ctx, rs)

	log.Info().Str("room_id", roomID.String()).Msg("room session opened")
	return rs, nil
}

// detachRoom drops one reference; the last detach closes the feed
// subscription and stops the engine so stale callbacks can never touch a
// future session's view.
func (s *Service) detachRoom(roomID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.rooms[roomID]
	if !ok {
		return
	}
	rs.refs--
	if rs.refs > 0 {
		return
	}

	if err := rs.sub.Close(); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to close room feed")
	}
	rs.cancel()
	delete(s.rooms, roomID)
	log.Info().Str("room_id", roomID.String()).Msg("room session closed")
}

// initRoom seeds the view and silently resumes any local session.
func (s *Service) initRoom(ctx context.Context, rs *roomSession) {
	if err := rs.controller.LoadRoom(ctx, rs.roomID); err != nil {
		log.Error().Err(err).Str("room_id", rs.roomID.String()).Msg("failed to load room")
		s.cm.BroadcastToRoom(rs.roomID, marshalError("room unavailable"))
		return
	}
	resumed, err := rs.controller.ResumeSession(ctx, rs.roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", rs.roomID.String()).Msg("session resume failed")
		return
	}
	if resumed {
		log.Info().Str("room_id", rs.roomID.String()).Msg("session resumed")
	}
}

// pumpViews forwards engine snapshots to the room's connections.
func (s *Service) pumpViews(ctx context.Context, rs *roomSession) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-rs.engine.Updates():
			payload, err := marshalView(v)
			if err != nil {
				log.Error().Err(err).Msg("failed to marshal view")
				continue
			}
			s.cm.BroadcastToRoom(rs.roomID, payload)
		}
	}
}

// handleIntent applies one client intent through the lifecycle controller.
func (s *Service) handleIntent(ctx context.Context, rs *roomSession, conn *Connection, data []byte) {
	intent, err := parseIntent(data)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Msg("bad client intent")
		s.sendTo(conn, marshalError("unrecognized intent"))
		return
	}

	switch intent.Type {
	case IntentJoin:
		err = rs.controller.JoinRoom(ctx, rs.roomID, intent.Name, intent.Observer)
	case IntentVote:
		err = rs.controller.SubmitVote(ctx, intent.Value)
	case IntentReveal:
		// Quorum lives at the presentation boundary: at least one vote must
		// be on the table.
		if !rs.engine.View().CanReveal() {
			err = errors.New("no votes to reveal")
			break
		}
		err = rs.controller.RevealCards(ctx, rs.roomID)
	case IntentStart:
		err = rs.controller.StartNewVoting(ctx, rs.roomID)
	case IntentLeave:
		err = rs.controller.LeaveRoom(ctx)
	case IntentRefresh:
		err = rs.controller.ForceRefresh(ctx, rs.roomID)
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("room_id", rs.roomID.String()).
			Str("intent", string(intent.Type)).
			Msg("intent failed")
		s.sendTo(conn, marshalError(err.Error()))
	}
}

func (s *Service) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

func (s *Service) sendTo(conn *Connection, payload []byte) {
	select {
	case conn.Send <- payload:
	default:
		log.Warn().Str("connection_id", conn.ID).Msg("send buffer full, dropping reply")
	}
}
