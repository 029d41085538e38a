package player

import "errors"

// Player command errors
var (
	ErrNothingPlaying = errors.New("no track is currently playing")
	ErrNotSeekable    = errors.New("current track is not seekable")
)
