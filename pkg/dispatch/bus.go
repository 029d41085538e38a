package dispatch

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"

	"github.com/latoulicious/lavaclient/pkg/logging"
	"github.com/latoulicious/lavaclient/pkg/node"
	"github.com/latoulicious/lavaclient/pkg/player"
)

// ErrInvalidListener is returned when registering a nil listener
var ErrInvalidListener = errors.New("listener must be a non-nil function")

// PlayerResolver finds the player for a guild. A lookup failure during
// dispatch is an expected race (forced voice disconnects remove players
// mid-flight), not an error.
type PlayerResolver interface {
	GetPlayer(guildID string) (*player.Player, error)
}

// EventListener receives protocol events. The extra depends on the event:
// TrackEnd carries a node.TrackEndReason, TrackException the error string,
// TrackStuck the threshold in milliseconds, TrackStart the track
// identifier, WebSocketClosed a node.WebSocketClosedExtra.
type EventListener func(p *player.Player, event node.Event, extra interface{})

// UpdateListener receives position snapshots for a player
type UpdateListener func(p *player.Player, state node.PositionTime)

// StatsListener receives node stats snapshots
type StatsListener func(stats *node.Stats)

// Bus decodes incoming protocol frames into typed events and fans them out
// to the registered listener sets. Listener invocations are fire-and-forget
// and isolated from each other: a slow or panicking listener never blocks
// dispatch to its siblings or to the next frame.
type Bus struct {
	resolver PlayerResolver
	logger   logging.Logger

	mu              sync.Mutex
	eventListeners  map[uintptr]EventListener
	updateListeners map[uintptr]UpdateListener
	statsListeners  map[uintptr]StatsListener
}

// NewBus creates a dispatch bus resolving players through resolver.
func NewBus(resolver PlayerResolver, logger logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bus{
		resolver:        resolver,
		logger:          logger,
		eventListeners:  make(map[uintptr]EventListener),
		updateListeners: make(map[uintptr]UpdateListener),
		statsListeners:  make(map[uintptr]StatsListener),
	}
}

// RegisterEventListener subscribes a listener to protocol events.
// Registering the same function twice is a no-op.
func (b *Bus) RegisterEventListener(listener EventListener) error {
	if listener == nil {
		return ErrInvalidListener
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eventListeners[reflect.ValueOf(listener).Pointer()] = listener
	return nil
}

// UnregisterEventListener removes a previously registered event listener.
func (b *Bus) UnregisterEventListener(listener EventListener) {
	if listener == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.eventListeners, reflect.ValueOf(listener).Pointer())
}

// RegisterUpdateListener subscribes a listener to player position updates.
// Registering the same function twice is a no-op.
func (b *Bus) RegisterUpdateListener(listener UpdateListener) error {
	if listener == nil {
		return ErrInvalidListener
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateListeners[reflect.ValueOf(listener).Pointer()] = listener
	return nil
}

// UnregisterUpdateListener removes a previously registered update listener.
func (b *Bus) UnregisterUpdateListener(listener UpdateListener) {
	if listener == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.updateListeners, reflect.ValueOf(listener).Pointer())
}

// RegisterStatsListener subscribes a listener to node stats frames.
// Registering the same function twice is a no-op.
func (b *Bus) RegisterStatsListener(listener StatsListener) error {
	if listener == nil {
		return ErrInvalidListener
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statsListeners[reflect.ValueOf(listener).Pointer()] = listener
	return nil
}

// UnregisterStatsListener removes a previously registered stats listener.
func (b *Bus) UnregisterStatsListener(listener StatsListener) {
	if listener == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.statsListeners, reflect.ValueOf(listener).Pointer())
}

type eventFrame struct {
	Type        node.Event `json:"type"`
	GuildID     string     `json:"guildId"`
	Reason      string     `json:"reason"`
	Error       string     `json:"error"`
	ThresholdMs int64      `json:"thresholdMs"`
	Track       string     `json:"track"`
	Code        int        `json:"code"`
	ByRemote    bool       `json:"byRemote"`
}

type updateFrame struct {
	GuildID string            `json:"guildId"`
	State   node.PositionTime `json:"state"`
}

// Dispatch routes one decoded frame to the listener set for its op.
// Implements node.MessageHandler.
func (b *Bus) Dispatch(op node.IncomingOp, data json.RawMessage) {
	switch op {
	case node.OpEvent:
		b.dispatchEvent(data)
	case node.OpPlayerUpdate:
		b.dispatchUpdate(data)
	case node.OpStats:
		b.dispatchStats(data)
	default:
		b.logger.Debug("dropping frame with unknown op", logging.String("op", string(op)))
	}
}

func (b *Bus) dispatchEvent(data json.RawMessage) {
	var frame eventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		b.logger.Warn("dropping malformed event frame", logging.Error(err))
		return
	}
	if !node.KnownEvent(frame.Type) {
		b.logger.Debug("dropping unknown event type", logging.String("type", string(frame.Type)))
		return
	}

	target, err := b.resolver.GetPlayer(frame.GuildID)
	if err != nil {
		// Expected when a forced voice disconnect removed the player while
		// the frame was in flight.
		b.logger.Debug("event for guild without a player",
			logging.String("guild", frame.GuildID),
			logging.String("type", string(frame.Type)))
		return
	}

	var extra interface{}
	switch frame.Type {
	case node.EventTrackEnd:
		extra = node.TrackEndReason(frame.Reason)
	case node.EventTrackException:
		extra = frame.Error
	case node.EventTrackStuck:
		extra = frame.ThresholdMs
	case node.EventTrackStart:
		extra = frame.Track
	case node.EventWebSocketClosed, node.EventForcedDisconnect:
		extra = node.WebSocketClosedExtra{
			Code:     frame.Code,
			Reason:   frame.Reason,
			ByRemote: frame.ByRemote,
		}
	}

	b.mu.Lock()
	listeners := make([]EventListener, 0, len(b.eventListeners))
	for _, listener := range b.eventListeners {
		listeners = append(listeners, listener)
	}
	b.mu.Unlock()

	for _, listener := range listeners {
		listener := listener
		go func() {
			defer b.recoverListener("event")
			listener(target, frame.Type, extra)
		}()
	}
}

func (b *Bus) dispatchUpdate(data json.RawMessage) {
	var frame updateFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		b.logger.Warn("dropping malformed player update", logging.Error(err))
		return
	}

	target, err := b.resolver.GetPlayer(frame.GuildID)
	if err != nil {
		b.logger.Debug("player update for guild without a player",
			logging.String("guild", frame.GuildID))
		return
	}

	b.mu.Lock()
	listeners := make([]UpdateListener, 0, len(b.updateListeners))
	for _, listener := range b.updateListeners {
		listeners = append(listeners, listener)
	}
	b.mu.Unlock()

	for _, listener := range listeners {
		listener := listener
		go func() {
			defer b.recoverListener("update")
			listener(target, frame.State)
		}()
	}
}

func (b *Bus) dispatchStats(data json.RawMessage) {
	stats, err := node.DecodeStats(data)
	if err != nil {
		b.logger.Warn("dropping malformed stats frame", logging.Error(err))
		return
	}

	b.mu.Lock()
	listeners := make([]StatsListener, 0, len(b.statsListeners))
	for _, listener := range b.statsListeners {
		listeners = append(listeners, listener)
	}
	b.mu.Unlock()

	for _, listener := range listeners {
		listener := listener
		go func() {
			defer b.recoverListener("stats")
			listener(stats)
		}()
	}
}

func (b *Bus) recoverListener(kind string) {
	if r := recover(); r != nil {
		b.logger.Error("listener panicked",
			logging.String("kind", kind),
			logging.Any("panic", r))
	}
}
