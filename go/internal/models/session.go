package models

import (
	"time"

	"github.com/google/uuid"
)

// LocalSession is the device-local record of which participant this client is
// in a given room. It carries no authority beyond its expiry; the remote
// participant row is re-checked on every resume.
type LocalSession struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	RoomID        uuid.UUID `json:"room_id"`
	Name          string    `json:"name"`
	IsObserver    bool      `json:"is_observer"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the session is past its horizon at the given time.
func (s *LocalSession) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
