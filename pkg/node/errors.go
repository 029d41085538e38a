package node

import "errors"

// Node connection errors
var (
	ErrNoNodesAvailable  = errors.New("no nodes available")
	ErrConnectTimeout    = errors.New("timed out connecting to node")
	ErrAuthRejected      = errors.New("node rejected the connection handshake")
	ErrShuttingDown      = errors.New("node is shutting down")
	ErrNotReady          = errors.New("node is not ready")
	ErrInvalidNodeConfig = errors.New("invalid node configuration")
)
