package rest

import "errors"

// REST lookup errors
var (
	ErrBadResponse   = errors.New("node returned a non-200 response")
	ErrMalformedBody = errors.New("could not decode loadtracks response")
)
