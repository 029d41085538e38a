package node

import "encoding/json"

// State represents the connection state of a Node
type State int

const (
	StateConnecting State = iota
	StateReady
	StateReconnecting
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// IncomingOp is the op discriminator on frames received from the node
type IncomingOp string

const (
	OpEvent        IncomingOp = "event"
	OpPlayerUpdate IncomingOp = "playerUpdate"
	OpStats        IncomingOp = "stats"
)

// OutgoingOp is the op discriminator on frames sent to the node
type OutgoingOp string

const (
	OpVoiceUpdate       OutgoingOp = "voiceUpdate"
	OpDestroy           OutgoingOp = "destroy"
	OpPlay              OutgoingOp = "play"
	OpStop              OutgoingOp = "stop"
	OpPause             OutgoingOp = "pause"
	OpSeek              OutgoingOp = "seek"
	OpVolume            OutgoingOp = "volume"
	OpConfigureResuming OutgoingOp = "configureResuming"
)

// Event is the type discriminator on incoming event payloads
type Event string

const (
	EventTrackStart      Event = "TrackStartEvent"
	EventTrackEnd        Event = "TrackEndEvent"
	EventTrackException  Event = "TrackExceptionEvent"
	EventTrackStuck      Event = "TrackStuckEvent"
	EventWebSocketClosed Event = "WebSocketClosedEvent"

	// EventQueueEnd is generated locally when a stop command empties the
	// queue; the node never sends it
	EventQueueEnd Event = "QueueEndEvent"
	// EventForcedDisconnect is generated locally when the voice side forces
	// a player teardown
	EventForcedDisconnect Event = "ForcedDisconnectEvent"
)

// KnownEvent reports whether the event type is one this client understands.
func KnownEvent(e Event) bool {
	switch e {
	case EventTrackStart, EventTrackEnd, EventTrackException,
		EventTrackStuck, EventWebSocketClosed, EventQueueEnd, EventForcedDisconnect:
		return true
	}
	return false
}

// TrackEndReason explains why track playback ended
type TrackEndReason string

const (
	ReasonFinished   TrackEndReason = "FINISHED"
	ReasonLoadFailed TrackEndReason = "LOAD_FAILED"
	ReasonStopped    TrackEndReason = "STOPPED"
	ReasonReplaced   TrackEndReason = "REPLACED"
	ReasonCleanup    TrackEndReason = "CLEANUP"
)

// WebSocketClosedExtra carries the voice gateway close details on a
// WebSocketClosedEvent
type WebSocketClosedExtra struct {
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	ByRemote bool   `json:"byRemote"`
}

// PositionTime is the position snapshot carried by playerUpdate frames
type PositionTime struct {
	Position int64 `json:"position"`
	Time     int64 `json:"time"`
}

// MessageHandler receives every decoded frame from the node's receive loop
type MessageHandler func(op IncomingOp, data json.RawMessage)

// StateHandler is notified of node state transitions
type StateHandler func(next State, old State)

type incomingFrame struct {
	Op IncomingOp `json:"op"`
}

type voiceUpdateMessage struct {
	Op        OutgoingOp      `json:"op"`
	GuildID   string          `json:"guildId"`
	SessionID string          `json:"sessionId"`
	Event     json.RawMessage `json:"event"`
}

type destroyMessage struct {
	Op      OutgoingOp `json:"op"`
	GuildID string     `json:"guildId"`
}

type playMessage struct {
	Op        OutgoingOp `json:"op"`
	GuildID   string     `json:"guildId"`
	Track     string     `json:"track"`
	StartTime int64      `json:"startTime"`
	NoReplace bool       `json:"noReplace"`
	Pause     bool       `json:"pause"`
}

type stopMessage struct {
	Op      OutgoingOp `json:"op"`
	GuildID string     `json:"guildId"`
}

type pauseMessage struct {
	Op      OutgoingOp `json:"op"`
	GuildID string     `json:"guildId"`
	Pause   bool       `json:"pause"`
}

type seekMessage struct {
	Op       OutgoingOp `json:"op"`
	GuildID  string     `json:"guildId"`
	Position int64      `json:"position"`
}

type volumeMessage struct {
	Op      OutgoingOp `json:"op"`
	GuildID string     `json:"guildId"`
	Volume  int        `json:"volume"`
}

type configureResumingMessage struct {
	Op      OutgoingOp `json:"op"`
	Key     *string    `json:"key"`
	Timeout int        `json:"timeout,omitempty"`
}
