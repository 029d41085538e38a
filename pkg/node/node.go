package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/latoulicious/lavaclient/pkg/logging"
)

const (
	defaultResumeTimeout = 60 * time.Second
	reconnectBaseDelay   = time.Second
	reconnectMaxDelay    = 30 * time.Second
)

// Config holds the identity and credentials of a Lavalink node.
type Config struct {
	Host     string
	Port     int
	RestPort int
	Password string

	// UserID and NumShards identify the bot to the node
	UserID    string
	NumShards int

	// ResumeKey is the session resume token. A key is generated when the
	// host does not supply one.
	ResumeKey string
	// ResumeTimeout is how long the node buffers events for a dropped
	// session before discarding it.
	ResumeTimeout time.Duration
}

func (c *Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidNodeConfig)
	}
	if c.Port <= 0 {
		return fmt.Errorf("%w: missing websocket port", ErrInvalidNodeConfig)
	}
	if c.Password == "" {
		return fmt.Errorf("%w: missing password", ErrInvalidNodeConfig)
	}
	return nil
}

// wsConn is the subset of *websocket.Conn the node uses. Tests substitute
// their own implementation through DialFunc.
type wsConn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// DialFunc opens the websocket to the node.
type DialFunc func(ctx context.Context, url string, header http.Header) (wsConn, *http.Response, error)

func defaultDial(ctx context.Context, url string, header http.Header) (wsConn, *http.Response, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

// Node owns a single websocket session to one Lavalink node: it connects,
// authenticates, reconnects with backoff, buffers outbound messages while
// disconnected and runs the receive loop that feeds the dispatch bus.
type Node struct {
	cfg     Config
	handler MessageHandler
	logger  logging.Logger
	dial    DialFunc

	// wmu serializes socket writes; the websocket allows only one
	// concurrent writer. Never held together with mu.
	wmu sync.Mutex

	mu               sync.Mutex
	conn             wsConn
	state            State
	stateHandlers    []*StateSubscription
	queue            []interface{}
	resumeKey        string
	resumeConfigured bool
	shutdown         bool
	ready            bool
	readyCh          chan struct{}
	stats            *Stats
	pool             *Pool
}

// NewNode creates a node manager. The handler receives every decoded frame
// from the receive loop; it must not be nil.
func NewNode(cfg Config, handler MessageHandler, logger logging.Logger) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("node requires a message handler")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.ResumeTimeout <= 0 {
		cfg.ResumeTimeout = defaultResumeTimeout
	}

	resumeKey := cfg.ResumeKey
	if resumeKey == "" {
		resumeKey = uuid.NewString()
	}

	return &Node{
		cfg:       cfg,
		handler:   handler,
		logger:    logger.With(logging.String("node", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))),
		dial:      defaultDial,
		state:     StateConnecting,
		resumeKey: resumeKey,
		readyCh:   make(chan struct{}),
	}, nil
}

// Host returns the node's hostname.
func (n *Node) Host() string { return n.cfg.Host }

// RestPort returns the port of the node's companion REST API.
func (n *Node) RestPort() int { return n.cfg.RestPort }

// Password returns the node's shared secret.
func (n *Node) Password() string { return n.cfg.Password }

// ResumeKey returns the session resume token in use.
func (n *Node) ResumeKey() string { return n.resumeKey }

// State returns the current connection state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Ready reports whether the node is connected and accepting commands.
func (n *Node) Ready() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ready
}

// Stats returns the last stats snapshot received, or nil before the first.
func (n *Node) Stats() *Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Connect dials the node's websocket, retrying transport failures with
// exponential backoff until the timeout elapses. A timeout of zero retries
// indefinitely. A handshake rejection is fatal and is not retried.
func (n *Node) Connect(ctx context.Context, timeout time.Duration) error {
	n.mu.Lock()
	n.shutdown = false
	n.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	uri := fmt.Sprintf("ws://%s:%d", n.cfg.Host, n.cfg.Port)
	backoff := NewBackoff(reconnectBaseDelay, reconnectMaxDelay)
	attempt := 1

	for {
		if n.isShutdown() {
			return ErrShuttingDown
		}

		conn, resp, err := n.dial(ctx, uri, n.connectHeaders())
		if err == nil {
			n.startSession(conn)
			return nil
		}

		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil &&
			(resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
		}

		delay := backoff.Delay()
		n.logger.Debug("node connect attempt failed",
			logging.Int("attempt", attempt),
			logging.Duration("retry_in", delay),
			logging.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %d attempts", ErrConnectTimeout, attempt)
		case <-time.After(delay):
		}
		attempt++
	}
}

func (n *Node) connectHeaders() http.Header {
	header := http.Header{}
	header.Set("Authorization", n.cfg.Password)
	header.Set("User-Id", n.cfg.UserID)
	header.Set("Num-Shards", strconv.Itoa(n.cfg.NumShards))
	header.Set("Resume-Key", n.resumeKey)
	return header
}

// startSession installs the new connection, replays the outbound queue in
// FIFO order and configures session resumption once per key.
func (n *Node) startSession(conn wsConn) {
	// Hold wmu across installing the connection and replaying so that
	// concurrent Send calls cannot interleave with the queued backlog.
	n.wmu.Lock()

	n.mu.Lock()
	n.conn = conn
	pending := n.queue
	n.queue = nil
	configure := !n.resumeConfigured
	n.resumeConfigured = true
	key := n.resumeKey
	n.mu.Unlock()

	go n.listen(conn)

	for _, msg := range pending {
		if err := conn.WriteJSON(msg); err != nil {
			n.logger.Warn("failed to replay queued message", logging.Error(err))
		}
	}

	if configure {
		msg := configureResumingMessage{
			Op:      OpConfigureResuming,
			Key:     &key,
			Timeout: int(n.cfg.ResumeTimeout / time.Second),
		}
		if err := conn.WriteJSON(msg); err != nil {
			n.logger.Warn("failed to configure resuming", logging.Error(err))
		}
	}

	n.wmu.Unlock()

	n.setReady(true)
	n.setState(StateReady)
	n.logger.Info("node connected", logging.Int("replayed", len(pending)))
}

// Send writes a message to the node, or queues it for replay on the next
// successful connect when the socket is down. Messages are not
// de-duplicated; callers own command idempotency.
func (n *Node) Send(msg interface{}) error {
	n.mu.Lock()
	conn := n.conn
	if conn == nil {
		n.queue = append(n.queue, msg)
		queued := len(n.queue)
		n.mu.Unlock()
		n.logger.Debug("queued outbound message while disconnected", logging.Int("queue_len", queued))
		return nil
	}
	n.mu.Unlock()

	n.wmu.Lock()
	defer n.wmu.Unlock()
	return conn.WriteJSON(msg)
}

// listen is the receive loop. It decodes frames by op and hands them to the
// message handler; the loop exits when the socket closes or errors.
func (n *Node) listen(conn wsConn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			n.logger.Debug("node listener closing", logging.Error(err))
			break
		}

		var frame incomingFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			n.logger.Warn("dropping malformed frame", logging.Error(err))
			continue
		}

		switch frame.Op {
		case OpStats:
			stats, err := DecodeStats(data)
			if err != nil {
				n.logger.Warn("dropping malformed stats frame", logging.Error(err))
				continue
			}
			n.mu.Lock()
			n.stats = stats
			n.mu.Unlock()
			n.handler(OpStats, data)
		case OpEvent, OpPlayerUpdate:
			n.handler(frame.Op, data)
		default:
			n.logger.Debug("dropping unknown op", logging.String("op", string(frame.Op)))
		}
	}

	n.mu.Lock()
	if n.conn == conn {
		n.conn = nil
	}
	shutdown := n.shutdown
	n.mu.Unlock()

	n.setReady(false)
	if shutdown {
		return
	}
	go n.reconnect()
}

func (n *Node) reconnect() {
	if n.State() != StateConnecting {
		n.setState(StateReconnecting)
	}

	n.logger.Info("attempting node reconnect")
	if err := n.Connect(context.Background(), 0); err != nil {
		n.logger.Error("node reconnect failed", logging.Error(err))
	}
}

// Disconnect shuts the node down: it clears the remote resume session,
// closes the socket, stops the receive loop and removes the node from its
// pool. Calling Disconnect twice is a no-op on the second call.
func (n *Node) Disconnect() error {
	n.mu.Lock()
	if n.shutdown && n.state == StateDisconnecting {
		n.mu.Unlock()
		return nil
	}
	n.shutdown = true
	n.mu.Unlock()

	n.setReady(false)
	n.setState(StateDisconnecting)

	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.queue = nil
	n.resumeConfigured = false
	pool := n.pool
	n.mu.Unlock()

	if conn != nil {
		// Tell the node to drop the resume session before the socket goes
		// away, otherwise it buffers events for a client that never returns.
		n.wmu.Lock()
		if err := conn.WriteJSON(configureResumingMessage{Op: OpConfigureResuming, Key: nil}); err != nil {
			n.logger.Debug("failed to clear resume configuration", logging.Error(err))
		}
		_ = conn.Close()
		n.wmu.Unlock()
	}

	if pool != nil {
		pool.remove(n)
	}

	n.mu.Lock()
	n.stateHandlers = nil
	n.mu.Unlock()

	n.logger.Info("node shut down")
	return nil
}

// WaitUntilReady blocks until the node reaches Ready, the timeout elapses
// or the context is cancelled. A timeout of zero waits indefinitely.
func (n *Node) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	n.mu.Lock()
	readyCh := n.readyCh
	ready := n.ready
	n.mu.Unlock()
	if ready {
		return nil
	}

	select {
	case <-readyCh:
		return nil
	case <-ctx.Done():
		return ErrNotReady
	}
}

func (n *Node) setReady(ready bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ready && !n.ready {
		n.ready = true
		close(n.readyCh)
	} else if !ready && n.ready {
		n.ready = false
		n.readyCh = make(chan struct{})
	}
}

func (n *Node) isShutdown() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.shutdown
}

// setState performs a state transition and notifies registered handlers.
// Handlers run on their own goroutines so a slow or panicking handler
// cannot stall or corrupt the state machine.
func (n *Node) setState(next State) {
	n.mu.Lock()
	if n.state == next {
		n.mu.Unlock()
		return
	}
	old := n.state
	n.state = next
	subs := make([]*StateSubscription, len(n.stateHandlers))
	copy(subs, n.stateHandlers)
	n.mu.Unlock()

	n.logger.Debug("node state change",
		logging.String("from", old.String()),
		logging.String("to", next.String()))

	for _, sub := range subs {
		handler := sub.handler
		go func() {
			defer func() {
				if r := recover(); r != nil {
					n.logger.Error("state handler panicked", logging.Any("panic", r))
				}
			}()
			handler(next, old)
		}()
	}
}

// StateSubscription identifies a registered state handler so it can be
// removed again. Func values are not comparable in Go, so subscriptions
// stand in for callback identity.
type StateSubscription struct {
	handler StateHandler
}

// RegisterStateHandler subscribes a handler to state transitions and
// returns the subscription used to unregister it. A nil handler returns a
// nil subscription and is never invoked.
func (n *Node) RegisterStateHandler(handler StateHandler) *StateSubscription {
	if handler == nil {
		return nil
	}
	sub := &StateSubscription{handler: handler}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.stateHandlers = append(n.stateHandlers, sub)
	return sub
}

// UnregisterStateHandler removes a previously registered handler.
// Unregistering twice is a no-op.
func (n *Node) UnregisterStateHandler(sub *StateSubscription) {
	if sub == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, existing := range n.stateHandlers {
		if existing == sub {
			n.stateHandlers = append(n.stateHandlers[:i], n.stateHandlers[i+1:]...)
			return
		}
	}
}

// SendVoiceUpdate forwards a completed voice handshake to the node.
func (n *Node) SendVoiceUpdate(guildID, sessionID string, event json.RawMessage) error {
	return n.Send(voiceUpdateMessage{
		Op:        OpVoiceUpdate,
		GuildID:   guildID,
		SessionID: sessionID,
		Event:     event,
	})
}

// DestroyGuild tells the node to discard all state for a guild.
func (n *Node) DestroyGuild(guildID string) error {
	return n.Send(destroyMessage{Op: OpDestroy, GuildID: guildID})
}

// Play starts playback of a track identifier on the node.
func (n *Node) Play(guildID, trackIdentifier string, startTime int64, pause bool) error {
	return n.Send(playMessage{
		Op:        OpPlay,
		GuildID:   guildID,
		Track:     trackIdentifier,
		StartTime: startTime,
		Pause:     pause,
	})
}

// Stop halts playback for a guild and emits the local QueueEnd event.
func (n *Node) Stop(guildID string) error {
	if err := n.Send(stopMessage{Op: OpStop, GuildID: guildID}); err != nil {
		return err
	}
	n.EmitEvent(EventQueueEnd, guildID, nil)
	return nil
}

// Pause pauses or resumes playback for a guild.
func (n *Node) Pause(guildID string, pause bool) error {
	return n.Send(pauseMessage{Op: OpPause, GuildID: guildID, Pause: pause})
}

// Volume sets the playback volume for a guild.
func (n *Node) Volume(guildID string, volume int) error {
	return n.Send(volumeMessage{Op: OpVolume, GuildID: guildID, Volume: volume})
}

// Seek moves playback of the current track for a guild.
func (n *Node) Seek(guildID string, position int64) error {
	return n.Send(seekMessage{Op: OpSeek, GuildID: guildID, Position: position})
}

// EmitEvent synthesizes a local event frame and routes it through the same
// dispatch path as frames received from the node.
func (n *Node) EmitEvent(event Event, guildID string, extra map[string]interface{}) {
	frame := map[string]interface{}{
		"op":      string(OpEvent),
		"type":    string(event),
		"guildId": guildID,
	}
	for k, v := range extra {
		frame[k] = v
	}
	data, err := json.Marshal(frame)
	if err != nil {
		n.logger.Error("failed to encode local event", logging.Error(err))
		return
	}
	n.handler(OpEvent, data)
}
