package feed

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointroom/go/internal/room/events"
)

// Config holds connection settings for the change feed.
type Config struct {
	DatabaseURL   string // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string // channel the schema triggers notify on
	NATSURL       string
	MaxReconnects int
	ReconnectWait time.Duration
	PingInterval  time.Duration
	MinReconnect  time.Duration
	MaxReconnect  time.Duration
}

// DefaultConfig returns default change feed configuration.
func DefaultConfig() Config {
	return Config{
		NotifyChannel: "room_changes",
		NATSURL:       nats.DefaultURL,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		PingInterval:  90 * time.Second,
		MinReconnect:  10 * time.Second,
		MaxReconnect:  time.Minute,
	}
}

// Feed owns the shared NATS connection and creates per-room subscriptions
// against the authoritative store's NOTIFY channel and the room's ephemeral
// broadcast subjects.
type Feed struct {
	nc  *nats.Conn
	cfg Config
}

// NewFeed connects to NATS and returns a feed ready to subscribe rooms.
func NewFeed(cfg Config) (*Feed, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Feed{nc: nc, cfg: cfg}, nil
}

// Conn exposes the underlying NATS connection for the broadcaster.
func (f *Feed) Conn() *nats.Conn {
	return f.nc
}

// Close tears down the shared NATS connection. Per-room subscriptions must be
// closed first.
func (f *Feed) Close() {
	if f.nc != nil {
		f.nc.Close()
	}
}

// Subscription is one room's live feed. Close is idempotent and deterministic;
// after it returns no handler will fire again.
type Subscription struct {
	roomID     uuid.UUID
	pg         *pq.Listener
	actionSub  *nats.Subscription
	refreshSub *nats.Subscription
	done       chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// Subscribe opens the change feed for one room and dispatches typed deltas to
// the handlers. Callers must hold at most one active subscription per room and
// close the previous one before re-subscribing on a room change, or stale
// callbacks will mutate the wrong view.
func (f *Feed) Subscribe(roomID uuid.UUID, h Handlers) (*Subscription, error) {
	pgListener := pq.NewListener(
		f.cfg.DatabaseURL,
		f.cfg.MinReconnect,
		f.cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := pgListener.Listen(f.cfg.NotifyChannel); err != nil {
		pgListener.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	sub := &Subscription{
		roomID: roomID,
		pg:     pgListener,
		done:   make(chan struct{}),
	}

	var err error
	sub.actionSub, err = f.nc.Subscribe(actionSubject(roomID), func(msg *nats.Msg) {
		if h.Action == nil {
			return
		}
		var payload events.ActionPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("bad room_action payload")
			return
		}
		h.Action(payload)
	})
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to room actions: %w", err)
	}

	sub.refreshSub, err = f.nc.Subscribe(refreshSubject(roomID), func(msg *nats.Msg) {
		if h.Refresh != nil {
			h.Refresh()
		}
	})
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to force refresh: %w", err)
	}

	go sub.run(f.cfg.PingInterval, h)

	log.Info().
		Str("room_id", roomID.String()).
		Str("channel", f.cfg.NotifyChannel).
		Msg("room feed subscribed")

	return sub, nil
}

func (s *Subscription) run(pingInterval time.Duration, h Handlers) {
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-s.done:
			return
		case note := <-s.pg.Notify:
			if note == nil {
				// nil notification means the connection was lost and
				// re-established; deltas may have been missed. Recovery is a
				// force refresh, not diagnosis.
				if h.Refresh != nil {
					h.Refresh()
				}
				continue
			}
			if err := dispatchChange([]byte(note.Extra), s.roomID, h); err != nil {
				log.Error().Err(err).Str("room_id", s.roomID.String()).Msg("failed to handle notification")
			}
		case <-pingTicker.C:
			if err := s.pg.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

// Close tears down the room's feed. Safe to call more than once.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.actionSub != nil {
			if err := s.actionSub.Unsubscribe(); err != nil {
				s.closeErr = err
			}
		}
		if s.refreshSub != nil {
			if err := s.refreshSub.Unsubscribe(); err != nil {
				s.closeErr = err
			}
		}
		if err := s.pg.Close(); err != nil {
			s.closeErr = err
		}
		log.Info().Str("room_id", s.roomID.String()).Msg("room feed closed")
	})
	return s.closeErr
}

func actionSubject(roomID uuid.UUID) string {
	return fmt.Sprintf("room.%s.action", roomID)
}

func refreshSubject(roomID uuid.UUID) string {
	return fmt.Sprintf("room.%s.refresh", roomID)
}
