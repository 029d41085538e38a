package lavaclient

import "errors"

// Client errors
var (
	ErrPlayerNotFound = errors.New("no player for that guild")
	ErrNotInitialized = errors.New("client is not initialized")
	ErrClosed         = errors.New("client is closed")
)
