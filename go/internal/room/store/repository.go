package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/pointroom/go/internal/models"
	"github.com/mcdev12/pointroom/go/internal/sqlutil"
)

// Repository is the only writer of durable room truth. Every method is a
// single request/response against Postgres; retry policy belongs to callers.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new room state repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db: db,
	}
}

const participantColumns = "id, room_id, name, is_observer, vote, joined_at"

// CreateOrReuseRoom looks a room up by name and returns its id, refreshing the
// option set if it already exists. Idempotent against double-submits: a known
// room name is re-launched with the new scale instead of duplicated.
func (r *Repository) CreateOrReuseRoom(ctx context.Context, name string, options []string) (uuid.UUID, error) {
	optionsBytes, err := json.Marshal(options)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal voting options: %w", err)
	}

	var id uuid.UUID
	err = r.db.QueryRowContext(ctx, "SELECT id FROM rooms WHERE name = $1", name).Scan(&id)
	switch {
	case err == nil:
		if _, err := r.db.ExecContext(ctx,
			"UPDATE rooms SET voting_options = $2, updated_at = now() WHERE id = $1",
			id, optionsBytes,
		); err != nil {
			return uuid.Nil, fmt.Errorf("failed to update room options: %w", storeErr(err))
		}
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		if err := r.db.QueryRowContext(ctx,
			"INSERT INTO rooms (name, voting_options, status) VALUES ($1, $2, $3) RETURNING id",
			name, optionsBytes, models.RoomStatusVoting,
		).Scan(&id); err != nil {
			return uuid.Nil, fmt.Errorf("failed to insert room: %w", storeErr(err))
		}
		return id, nil
	default:
		return uuid.Nil, fmt.Errorf("failed to look up room by name: %w", storeErr(err))
	}
}

// GetRoom retrieves a room by id.
func (r *Repository) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, voting_options, status, created_at, updated_at FROM rooms WHERE id = $1", id)

	room, err := scanRoom(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", storeErr(err))
	}
	return room, nil
}

// ListParticipants returns the room's roster ordered by joined_at ascending.
// The ordering is load-bearing: it is the de-duplication tie-break.
func (r *Repository) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE room_id = $1 ORDER BY joined_at ASC", roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", storeErr(err))
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", storeErr(err))
	}
	return participants, nil
}

// GetParticipant retrieves a participant by id, scoped to a room.
func (r *Repository) GetParticipant(ctx context.Context, id, roomID uuid.UUID) (*models.Participant, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE id = $1 AND room_id = $2", id, roomID)

	p, err := scanParticipant(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", storeErr(err))
	}
	return p, nil
}

// UpsertParticipant ensures exactly one durable row per (room, name). An
// existing earliest row is reused and refreshed; later duplicates left behind
// by a join race are garbage-collected here.
func (r *Repository) UpsertParticipant(ctx context.Context, roomID uuid.UUID, name string, isObserver bool) (*models.Participant, error) {
	var participant *models.Participant

	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT id FROM participants WHERE room_id = $1 AND name = $2 ORDER BY joined_at ASC",
			roomID, name)
		if err != nil {
			return fmt.Errorf("failed to query existing participants: %w", storeErr(err))
		}

		var ids []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan participant id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("failed to read existing participants: %w", storeErr(err))
		}

		if len(ids) == 0 {
			row := tx.QueryRowContext(ctx,
				"INSERT INTO participants (room_id, name, is_observer) VALUES ($1, $2, $3) RETURNING "+participantColumns,
				roomID, name, isObserver)
			participant, err = scanParticipant(row)
			if err != nil {
				return fmt.Errorf("failed to insert participant: %w", storeErr(err))
			}
			return nil
		}

		// Earliest joined_at wins identity.
		row := tx.QueryRowContext(ctx,
			"UPDATE participants SET is_observer = $2 WHERE id = $1 RETURNING "+participantColumns,
			ids[0], isObserver)
		participant, err = scanParticipant(row)
		if err != nil {
			return fmt.Errorf("failed to update participant: %w", storeErr(err))
		}

		if len(ids) > 1 {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM participants WHERE id = ANY($1)", pq.Array(ids[1:])); err != nil {
				return fmt.Errorf("failed to delete duplicate participants: %w", storeErr(err))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return participant, nil
}

// SetVote writes a participant's vote. A nil value clears it.
func (r *Repository) SetVote(ctx context.Context, participantID uuid.UUID, vote *string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE participants SET vote = $2 WHERE id = $1",
		participantID, sqlutil.ToSqlString(vote))
	if err != nil {
		return fmt.Errorf("failed to set vote: %w", storeErr(err))
	}
	return requireRow(res, "participant")
}

// SetRoomStatus flips the room's two-state machine row.
func (r *Repository) SetRoomStatus(ctx context.Context, roomID uuid.UUID, status models.RoomStatus) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE rooms SET status = $2, updated_at = now() WHERE id = $1",
		roomID, status)
	if err != nil {
		return fmt.Errorf("failed to set room status: %w", storeErr(err))
	}
	return requireRow(res, "room")
}

// ClearAllVotes nulls every vote in the room. Not atomic with the status flip;
// the caller orders the two writes.
func (r *Repository) ClearAllVotes(ctx context.Context, roomID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE participants SET vote = NULL WHERE room_id = $1", roomID); err != nil {
		return fmt.Errorf("failed to clear votes: %w", storeErr(err))
	}
	return nil
}

// DeleteParticipant removes a participant row for good.
func (r *Repository) DeleteParticipant(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM participants WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete participant: %w", storeErr(err))
	}
	return requireRow(res, "participant")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRoom(row rowScanner) (*models.Room, error) {
	var room models.Room
	var options pqtype.NullRawMessage

	if err := row.Scan(&room.ID, &room.Name, &options, &room.Status, &room.CreatedAt, &room.UpdatedAt); err != nil {
		return nil, err
	}
	if options.Valid {
		if err := json.Unmarshal(options.RawMessage, &room.VotingOptions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal voting options: %w", err)
		}
	}
	return &room, nil
}

func scanParticipant(row rowScanner) (*models.Participant, error) {
	var p models.Participant
	var vote sql.NullString

	if err := row.Scan(&p.ID, &p.RoomID, &p.Name, &p.IsObserver, &vote, &p.JoinedAt); err != nil {
		return nil, err
	}
	p.Vote = sqlutil.FromSqlStringPtr(vote)
	return &p, nil
}

func requireRow(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", storeErr(err))
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return nil
}

// storeErr maps a database error onto the repository's error taxonomy.
func storeErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
