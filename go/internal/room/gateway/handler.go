package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointroom/go/internal/room/lifecycle"
	"github.com/mcdev12/pointroom/go/internal/room/store"
)

// HandleRoomConnection upgrades a presentation client onto a room's view
// stream.
func (s *Service) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomIDStr := r.URL.Query().Get("room_id")
	if roomIDStr == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	roomID, err := uuid.Parse(roomIDStr)
	if err != nil {
		http.Error(w, "invalid room_id format", http.StatusBadRequest)
		return
	}

	rs, err := s.attachRoom(roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to open room session")
		http.Error(w, "failed to open room session", http.StatusServiceUnavailable)
		return
	}

	ctx := s.runContext()
	conn, err := s.cm.UpgradeConnection(w, r, roomID,
		func(c *Connection, data []byte) { s.handleIntent(ctx, rs, c, data) },
		func() { s.detachRoom(roomID) },
	)
	if err != nil {
		s.detachRoom(roomID)
		return
	}

	// Hand the newcomer the current view right away instead of waiting for
	// the next delta.
	if payload, err := marshalView(rs.engine.View()); err == nil {
		s.sendTo(conn, payload)
	}
}

type createRoomRequest struct {
	Name          string   `json:"name"`
	VotingOptions []string `json:"voting_options"`
}

type createRoomResponse struct {
	RoomID uuid.UUID `json:"room_id"`
}

// HandleCreateRoom creates or reuses a room by name.
func (s *Service) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	roomID, err := lifecycle.CreateRoom(r.Context(), s.repo, req.Name, req.VotingOptions)
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, store.ErrStoreUnavailable):
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		default:
			http.Error(w, "failed to create room", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(createRoomResponse{RoomID: roomID}); err != nil {
		log.Error().Err(err).Msg("failed to write create room response")
	}
}

// RegisterRoutes registers the gateway's HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", s.HandleRoomConnection)
	mux.HandleFunc("/api/rooms", s.HandleCreateRoom)
	log.Info().Msg("room gateway routes registered")
}
