package lifecycle

import "errors"

var (
	// ErrValidation indicates bad input rejected before any network call.
	ErrValidation = errors.New("validation failed")

	// ErrRoomNotFound indicates the room id has no matching row.
	ErrRoomNotFound = errors.New("room not found")

	// ErrNoCurrentUser indicates an operation that needs a joined participant
	// was called before joining.
	ErrNoCurrentUser = errors.New("no current user")
)
