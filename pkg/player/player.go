package player

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/latoulicious/lavaclient/pkg/logging"
	"github.com/latoulicious/lavaclient/pkg/node"
	"github.com/latoulicious/lavaclient/pkg/rest"
)

// State represents the lifecycle state of a Player
type State int

const (
	StateConnecting State = iota
	StateReady
	StateNodeBusy
	StateReconnecting
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateNodeBusy:
		return "NODE_BUSY"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Sender is the command surface a Player needs from its owning node. It is
// satisfied by *node.Node; tests substitute a recorder.
type Sender interface {
	Play(guildID, trackIdentifier string, startTime int64, pause bool) error
	Stop(guildID string) error
	Pause(guildID string, pause bool) error
	Volume(guildID string, volume int) error
	Seek(guildID string, position int64) error
	SendVoiceUpdate(guildID, sessionID string, event json.RawMessage) error
	DestroyGuild(guildID string) error
	EmitEvent(event node.Event, guildID string, extra map[string]interface{})
	Ready() bool
	State() node.State
	WaitUntilReady(ctx context.Context, timeout time.Duration) error
	RegisterStateHandler(handler node.StateHandler) *node.StateSubscription
	UnregisterStateHandler(sub *node.StateSubscription)
}

// JoinFunc asks the host gateway to move the bot into a voice channel. An
// empty channel id leaves voice entirely.
type JoinFunc func(guildID, channelID string) error

// reconnectableVoiceCodes are the voice gateway close codes after which the
// voice connection can come back on its own.
var reconnectableVoiceCodes = map[int]bool{
	4015: true,
	4014: true,
	4009: true,
	4006: true,
	4000: true,
	1006: true,
}

// Player is the per-guild playback state machine. It owns the queue and the
// transport flags and serializes every outbound command through its node.
// Its state follows the owning node's state through a state-handler
// subscription; a Player is never Ready while its node is not.
type Player struct {
	guildID string
	node    Sender
	join    JoinFunc
	onClose func(guildID string)
	logger  logging.Logger

	mu            sync.Mutex
	channelID     string
	state         State
	queue         *Queue
	current       *rest.Track
	position      int64
	paused        bool
	repeat        bool
	shuffle       bool
	shuffleBumped bool
	volume        int
	isPlaying     bool
	metadata      map[string]interface{}
	conBackoff    *node.Backoff
	rng           *rand.Rand

	// voice handshake aggregate, see voice.go
	sessionID     string
	pendingServer json.RawMessage

	stateSub *node.StateSubscription
}

// New creates a Player bound to a guild, a voice channel and an owning
// node. onClose runs after the player has torn itself down.
func New(guildID, channelID string, sender Sender, join JoinFunc, onClose func(guildID string), logger logging.Logger) *Player {
	if logger == nil {
		logger = logging.Nop()
	}
	p := &Player{
		guildID:       guildID,
		channelID:     channelID,
		node:          sender,
		join:          join,
		onClose:       onClose,
		logger:        logger.With(logging.String("guild", guildID)),
		state:         StateConnecting,
		queue:         NewQueue(),
		shuffleBumped: true,
		volume:        100,
		metadata:      make(map[string]interface{}),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	p.stateSub = sender.RegisterStateHandler(p.onNodeStateChange)
	return p
}

// GuildID returns the guild this player belongs to.
func (p *Player) GuildID() string { return p.guildID }

// ChannelID returns the voice channel the player is attached to.
func (p *Player) ChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channelID
}

// State returns the player's lifecycle state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Queue returns the player's queue.
func (p *Player) Queue() *Queue { return p.queue }

// Current returns the track being played, or nil.
func (p *Player) Current() *rest.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Position returns the authoritative playback position in milliseconds as
// last reported by the node.
func (p *Player) Position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Paused returns the player's paused flag.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Volume returns the current volume.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// IsPlaying reports whether the node has confirmed playback is running.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isPlaying && !p.paused
}

// Repeat returns the repeat flag.
func (p *Player) Repeat() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repeat
}

// SetRepeat toggles re-enqueueing the current track on advance.
func (p *Player) SetRepeat(repeat bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repeat = repeat
}

// Shuffle returns the shuffle flag.
func (p *Player) Shuffle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shuffle
}

// SetShuffle toggles shuffling after enqueues.
func (p *Player) SetShuffle(shuffle bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shuffle = shuffle
}

// ShuffleBumped returns whether bumped tracks are shuffled with the rest.
func (p *Player) ShuffleBumped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shuffleBumped
}

// SetShuffleBumped toggles whether bumped tracks are shuffled with the rest.
func (p *Player) SetShuffleBumped(shuffleBumped bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shuffleBumped = shuffleBumped
}

// Store saves a metadata value by key for the host.
func (p *Player) Store(key string, value interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metadata[key] = value
}

// Fetch returns a stored metadata value, or nil when absent.
func (p *Player) Fetch(key string) interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metadata[key]
}

// Add appends a track to the queue, tagging it with its requester.
func (p *Player) Add(requester interface{}, track *rest.Track) {
	track.Requester = requester
	p.queue.Add(track)
}

// MaybeShuffle shuffles the queue if shuffling is enabled. Called after
// every enqueue.
func (p *Player) MaybeShuffle(sticky int) {
	p.mu.Lock()
	shuffle := p.shuffle
	shuffleBumped := p.shuffleBumped
	rng := p.rng
	p.mu.Unlock()
	if !shuffle || p.queue.Len() == 0 {
		return
	}
	p.queue.ForceShuffle(rng, sticky, shuffleBumped)
}

// ForceShuffle shuffles the queue regardless of the shuffle flag, keeping
// the first sticky entries stable.
func (p *Player) ForceShuffle(sticky int) {
	p.mu.Lock()
	shuffleBumped := p.shuffleBumped
	rng := p.rng
	p.mu.Unlock()
	p.queue.ForceShuffle(rng, sticky, shuffleBumped)
}

// Connect attaches the player to the node and asks the host gateway to
// join its voice channel.
func (p *Player) Connect() error {
	p.refreshState()
	p.mu.Lock()
	channelID := p.channelID
	p.mu.Unlock()
	return p.join(p.guildID, channelID)
}

// MoveTo switches the player to another voice channel in the same guild,
// resuming the current track at its last known position.
func (p *Player) MoveTo(ctx context.Context, channelID string) error {
	p.mu.Lock()
	p.channelID = channelID
	current := p.current
	position := p.position
	paused := p.paused
	p.mu.Unlock()

	if err := p.Connect(); err != nil {
		return err
	}
	if current != nil {
		return p.Resume(ctx, current, position, paused)
	}
	return nil
}

// Play pops the queue head and starts it. With repeat enabled the current
// track is re-enqueued at the tail first. An empty queue stops playback
// instead.
func (p *Player) Play() error {
	p.mu.Lock()
	if p.repeat && p.current != nil {
		p.queue.Add(p.current)
	}
	p.current = nil
	p.position = 0
	p.paused = false

	track := p.queue.PopFront()
	if track == nil {
		p.isPlaying = false
		p.mu.Unlock()
		return p.Stop()
	}

	p.isPlaying = true
	p.current = track
	p.mu.Unlock()

	p.logger.Debug("assigned current track", logging.String("title", track.Title))
	return p.node.Play(p.guildID, track.Identifier, track.StartTimestamp, false)
}

// Skip advances to the next queued track.
func (p *Player) Skip() error {
	return p.Play()
}

// Resume restarts a track paused at a known position, typically after a
// node or channel move. The final pause state is applied after a short
// delay so the node has applied the seek first.
func (p *Player) Resume(ctx context.Context, track *rest.Track, start int64, pause bool) error {
	p.mu.Lock()
	p.isPlaying = false
	p.paused = true
	volume := p.volume
	p.mu.Unlock()

	if err := p.node.Play(p.guildID, track.Identifier, start, true); err != nil {
		return err
	}
	if err := p.node.Volume(p.guildID, volume); err != nil {
		return err
	}
	if err := p.node.Pause(p.guildID, true); err != nil {
		return err
	}
	return p.Pause(ctx, pause, time.Second)
}

// Stop halts playback. This clears the queue and the current track.
func (p *Player) Stop() error {
	p.mu.Lock()
	p.queue.Clear()
	p.current = nil
	p.position = 0
	p.paused = false
	p.isPlaying = false
	p.mu.Unlock()
	return p.node.Stop(p.guildID)
}

// Pause pauses or resumes playback. A non-zero delay sleeps first, which
// sequences a pause right behind a resume-with-seek.
func (p *Player) Pause(ctx context.Context, pause bool, delay time.Duration) error {
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	p.paused = pause
	p.mu.Unlock()
	return p.node.Pause(p.guildID, pause)
}

// SetVolume sets the playback volume, clamped to [0, 150].
func (p *Player) SetVolume(volume int) error {
	if volume < 0 {
		volume = 0
	} else if volume > 150 {
		volume = 150
	}

	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
	return p.node.Volume(p.guildID, volume)
}

// Seek moves playback of the current track, clamped to the track bounds.
func (p *Player) Seek(position int64) error {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	if current == nil {
		return ErrNothingPlaying
	}
	if !current.Seekable {
		return ErrNotSeekable
	}

	if position < 0 {
		position = 0
	} else if position > current.Length {
		position = current.Length
	}
	return p.node.Seek(p.guildID, position)
}

// HandleEvent reacts to a node event for this guild. TrackEnd with reason
// FINISHED auto-advances the queue; other end reasons leave the queue to
// the host. A websocket close with a recoverable voice gateway code arms
// the reconnect backoff guard.
func (p *Player) HandleEvent(event node.Event, extra interface{}) error {
	switch event {
	case node.EventTrackEnd:
		reason, _ := extra.(node.TrackEndReason)
		if reason == node.ReasonFinished {
			return p.Play()
		}
		p.mu.Lock()
		p.isPlaying = false
		p.mu.Unlock()
	case node.EventWebSocketClosed:
		closed, ok := extra.(node.WebSocketClosedExtra)
		if ok && reconnectableVoiceCodes[closed.Code] {
			p.mu.Lock()
			if p.conBackoff == nil {
				p.conBackoff = node.NewBackoff(time.Second, 30*time.Second)
			}
			p.mu.Unlock()
			p.logger.Debug("armed voice reconnect guard", logging.Int("code", closed.Code))
		}
	}
	return nil
}

// ReconnectDelay returns the delay the host should wait before retrying a
// voice reconnect, or zero when no guard is armed.
func (p *Player) ReconnectDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conBackoff == nil {
		return 0
	}
	return p.conBackoff.Delay()
}

// HandlePlayerUpdate applies a position snapshot from the node. Positions
// only ever move forward; stale or duplicate reports are ignored. The first
// forward movement confirms playback actually started.
func (p *Player) HandlePlayerUpdate(state node.PositionTime) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state.Position <= p.position {
		return
	}
	p.position = state.Position
	p.isPlaying = true
}

// WaitUntilReady blocks until the owning node is ready for commands.
func (p *Player) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	if p.node.Ready() {
		return nil
	}
	return p.node.WaitUntilReady(ctx, timeout)
}

// Disconnect tears the player down: it leaves voice, destroys the guild on
// the node (routed through the normal send path so queued commands drain
// first on a live socket) and drops the node state subscription. A second
// call is a no-op.
func (p *Player) Disconnect(force bool) error {
	p.mu.Lock()
	if p.state == StateDisconnecting {
		p.mu.Unlock()
		return nil
	}
	p.state = StateDisconnecting
	p.isPlaying = false
	p.paused = false
	p.conBackoff = nil
	p.sessionID = ""
	p.pendingServer = nil
	p.mu.Unlock()

	p.logger.Debug("player disconnecting", logging.Bool("forced", force))

	if force {
		p.node.EmitEvent(node.EventForcedDisconnect, p.guildID, map[string]interface{}{
			"code":     42069,
			"reason":   "Forced Disconnect - Do not Reconnect",
			"byRemote": true,
		})
	}

	if err := p.join(p.guildID, ""); err != nil {
		p.logger.Warn("failed to leave voice channel", logging.Error(err))
	}

	err := p.node.DestroyGuild(p.guildID)
	p.node.UnregisterStateHandler(p.stateSub)

	if p.onClose != nil {
		p.onClose(p.guildID)
	}
	return err
}

// onNodeStateChange keeps the player state in lock-step with its node.
func (p *Player) onNodeStateChange(next node.State, old node.State) {
	switch next {
	case node.StateReady:
		p.setState(StateReady)
	case node.StateReconnecting:
		p.setState(StateReconnecting)
	case node.StateDisconnecting:
		p.setState(StateDisconnecting)
	default:
		p.setState(StateNodeBusy)
	}
}

// refreshState derives the player state from the node's current state.
func (p *Player) refreshState() {
	switch {
	case p.node.Ready():
		p.setState(StateReady)
	case p.node.State() == node.StateDisconnecting:
		p.setState(StateDisconnecting)
	default:
		p.setState(StateNodeBusy)
	}
}

func (p *Player) setState(next State) {
	p.mu.Lock()
	if p.state == next {
		p.mu.Unlock()
		return
	}
	old := p.state
	p.state = next
	p.conBackoff = nil
	p.mu.Unlock()

	p.logger.Debug("player state change",
		logging.String("from", old.String()),
		logging.String("to", next.String()))
}
