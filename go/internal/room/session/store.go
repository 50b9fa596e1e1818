package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/mcdev12/pointroom/go/internal/models"
)

// TTL is the fixed expiry horizon for a local session.
const TTL = 8 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS room_sessions (
	room_id        TEXT PRIMARY KEY,
	participant_id TEXT NOT NULL,
	name           TEXT NOT NULL,
	is_observer    INTEGER NOT NULL DEFAULT 0,
	expires_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nickname_hint (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	name TEXT NOT NULL
);
`

// Store is the device-local session store: one expiring identity per room plus
// a cross-room nickname hint. It never touches the network.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Open opens (or creates) the local session database at path.
func Open(path string, clock clockwork.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session schema: %w", err)
	}
	return &Store{db: db, clock: clock}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save records which participant this device is in the given room, with a
// fresh expiry horizon. An existing session for the room is replaced.
func (s *Store) Save(ctx context.Context, roomID uuid.UUID, p models.Participant, isObserver bool) error {
	expiresAt := s.clock.Now().Add(TTL)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_sessions (room_id, participant_id, name, is_observer, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			participant_id = excluded.participant_id,
			name = excluded.name,
			is_observer = excluded.is_observer,
			expires_at = excluded.expires_at`,
		roomID.String(), p.ID.String(), p.Name, isObserver, expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Load returns the local session for a room, or nil when absent. Expiry is
// validated here: an expired session is deleted and reported as absent, so
// callers never special-case it.
func (s *Store) Load(ctx context.Context, roomID uuid.UUID) (*models.LocalSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT participant_id, name, is_observer, expires_at
		FROM room_sessions WHERE room_id = ?`, roomID.String())

	var participantID string
	var name string
	var isObserver bool
	var expiresAt int64
	if err := row.Scan(&participantID, &name, &isObserver, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess := &models.LocalSession{
		RoomID:     roomID,
		Name:       name,
		IsObserver: isObserver,
		ExpiresAt:  time.Unix(expiresAt, 0),
	}
	var err error
	if sess.ParticipantID, err = uuid.Parse(participantID); err != nil {
		// Unreadable session rows are treated like expired ones.
		_ = s.deleteSession(ctx, roomID)
		return nil, nil
	}

	if sess.ExpiredAt(s.clock.Now()) {
		log.Debug().
			Str("room_id", roomID.String()).
			Time("expired_at", sess.ExpiresAt).
			Msg("local session expired, clearing")
		if err := s.deleteSession(ctx, roomID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return sess, nil
}

// Clear removes the local session for a room.
func (s *Store) Clear(ctx context.Context, roomID uuid.UUID) error {
	return s.deleteSession(ctx, roomID)
}

// NicknameHint returns the last-used display name across rooms, or "" when
// none is stored. The hint never identifies an existing participant; it only
// pre-fills a fresh join.
func (s *Store) NicknameHint(ctx context.Context) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, "SELECT name FROM nickname_hint WHERE id = 1").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load nickname hint: %w", err)
	}
	return name, nil
}

// SetNicknameHint records the last-used display name.
func (s *Store) SetNicknameHint(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nickname_hint (id, name) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`, name)
	if err != nil {
		return fmt.Errorf("failed to set nickname hint: %w", err)
	}
	return nil
}

// ClearNicknameHint forgets the cross-room display name.
func (s *Store) ClearNicknameHint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM nickname_hint WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to clear nickname hint: %w", err)
	}
	return nil
}

func (s *Store) deleteSession(ctx context.Context, roomID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM room_sessions WHERE room_id = ?", roomID.String()); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
