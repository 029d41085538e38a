package player

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/lavaclient/pkg/node"
	"github.com/latoulicious/lavaclient/pkg/rest"
)

// fakeSender records every command a player issues to its node.
type senderCall struct {
	name string
	args []interface{}
}

type fakeSender struct {
	mu           sync.Mutex
	calls        []senderCall
	ready        bool
	state        node.State
	stateHandler node.StateHandler
	stateSub     *node.StateSubscription
}

func newFakeSender() *fakeSender {
	return &fakeSender{ready: true, state: node.StateReady}
}

func (s *fakeSender) record(name string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, senderCall{name: name, args: args})
}

func (s *fakeSender) Play(guildID, trackIdentifier string, startTime int64, pause bool) error {
	s.record("play", guildID, trackIdentifier, startTime, pause)
	return nil
}

func (s *fakeSender) Stop(guildID string) error {
	s.record("stop", guildID)
	return nil
}

func (s *fakeSender) Pause(guildID string, pause bool) error {
	s.record("pause", guildID, pause)
	return nil
}

func (s *fakeSender) Volume(guildID string, volume int) error {
	s.record("volume", guildID, volume)
	return nil
}

func (s *fakeSender) Seek(guildID string, position int64) error {
	s.record("seek", guildID, position)
	return nil
}

func (s *fakeSender) SendVoiceUpdate(guildID, sessionID string, event json.RawMessage) error {
	s.record("voiceUpdate", guildID, sessionID, string(event))
	return nil
}

func (s *fakeSender) DestroyGuild(guildID string) error {
	s.record("destroy", guildID)
	return nil
}

func (s *fakeSender) EmitEvent(event node.Event, guildID string, extra map[string]interface{}) {
	s.record("emit", string(event), guildID, extra)
}

func (s *fakeSender) Ready() bool       { return s.ready }
func (s *fakeSender) State() node.State { return s.state }

func (s *fakeSender) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	return nil
}

func (s *fakeSender) RegisterStateHandler(handler node.StateHandler) *node.StateSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateHandler = handler
	s.stateSub = &node.StateSubscription{}
	return s.stateSub
}

func (s *fakeSender) UnregisterStateHandler(sub *node.StateSubscription) {
	s.record("unregisterState", sub)
}

// fireState invokes the registered state handler the way a node would on a
// lifecycle transition.
func (s *fakeSender) fireState(next, old node.State) {
	s.mu.Lock()
	handler := s.stateHandler
	s.mu.Unlock()
	if handler != nil {
		handler(next, old)
	}
}

func (s *fakeSender) callsNamed(name string) []senderCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []senderCall
	for _, c := range s.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func track(id, title string) *rest.Track {
	return &rest.Track{
		Identifier: id,
		Title:      title,
		Length:     200000,
		Seekable:   true,
	}
}

func newTestPlayer(t *testing.T) (*Player, *fakeSender) {
	t.Helper()
	sender := newFakeSender()
	join := func(guildID, channelID string) error { return nil }
	p := New("guild-1", "channel-1", sender, join, nil, nil)
	return p, sender
}

func TestPlayAdvancesThroughQueue(t *testing.T) {
	p, sender := newTestPlayer(t)
	p.Add("requester", track("a", "Track A"))
	p.Add("requester", track("b", "Track B"))

	require.NoError(t, p.Play())
	require.NotNil(t, p.Current())
	assert.Equal(t, "a", p.Current().Identifier)
	assert.Equal(t, 1, p.Queue().Len())

	require.NoError(t, p.HandleEvent(node.EventTrackEnd, node.ReasonFinished))
	require.NotNil(t, p.Current())
	assert.Equal(t, "b", p.Current().Identifier)
	assert.Zero(t, p.Queue().Len())

	// Queue exhausted: the next advance stops playback.
	require.NoError(t, p.HandleEvent(node.EventTrackEnd, node.ReasonFinished))
	assert.Nil(t, p.Current())
	assert.Len(t, sender.callsNamed("play"), 2)
	assert.Len(t, sender.callsNamed("stop"), 1)
}

func TestPlayEmptyQueueStops(t *testing.T) {
	p, sender := newTestPlayer(t)

	require.NoError(t, p.Play())

	assert.Nil(t, p.Current())
	assert.False(t, p.IsPlaying())
	assert.Empty(t, sender.callsNamed("play"))
	assert.Len(t, sender.callsNamed("stop"), 1)
}

func TestRepeatReenqueuesCurrent(t *testing.T) {
	p, sender := newTestPlayer(t)
	p.SetRepeat(true)
	p.Add("requester", track("a", "Track A"))

	require.NoError(t, p.Play())
	require.NoError(t, p.HandleEvent(node.EventTrackEnd, node.ReasonFinished))

	require.NotNil(t, p.Current())
	assert.Equal(t, "a", p.Current().Identifier)
	assert.Len(t, sender.callsNamed("play"), 2)
}

func TestTrackEndOtherReasonsDoNotAdvance(t *testing.T) {
	reasons := []node.TrackEndReason{
		node.ReasonStopped,
		node.ReasonReplaced,
		node.ReasonCleanup,
	}

	for _, reason := range reasons {
		t.Run(string(reason), func(t *testing.T) {
			p, sender := newTestPlayer(t)
			p.Add("requester", track("a", "Track A"))
			p.Add("requester", track("b", "Track B"))
			require.NoError(t, p.Play())

			require.NoError(t, p.HandleEvent(node.EventTrackEnd, reason))

			assert.False(t, p.IsPlaying())
			assert.Equal(t, 1, p.Queue().Len())
			assert.Len(t, sender.callsNamed("play"), 1)
		})
	}
}

func TestWebSocketClosedArmsReconnectGuard(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		armed bool
	}{
		{name: "voice server crashed", code: 4015, armed: true},
		{name: "disconnected", code: 4014, armed: true},
		{name: "session timeout", code: 4009, armed: true},
		{name: "session no longer valid", code: 4006, armed: true},
		{name: "unknown error", code: 4000, armed: true},
		{name: "abnormal closure", code: 1006, armed: true},
		{name: "authentication failed", code: 4004, armed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPlayer(t)
			require.NoError(t, p.HandleEvent(node.EventWebSocketClosed, node.WebSocketClosedExtra{
				Code:     tt.code,
				ByRemote: true,
			}))

			if tt.armed {
				assert.Positive(t, p.ReconnectDelay())
			} else {
				assert.Zero(t, p.ReconnectDelay())
			}
		})
	}
}

func TestPositionOnlyMovesForward(t *testing.T) {
	p, _ := newTestPlayer(t)

	p.HandlePlayerUpdate(node.PositionTime{Position: 5000, Time: 100})
	assert.Equal(t, int64(5000), p.Position())
	assert.True(t, p.IsPlaying())

	// Stale and duplicate reports are ignored.
	p.HandlePlayerUpdate(node.PositionTime{Position: 3000, Time: 200})
	assert.Equal(t, int64(5000), p.Position())
	p.HandlePlayerUpdate(node.PositionTime{Position: 5000, Time: 300})
	assert.Equal(t, int64(5000), p.Position())

	p.HandlePlayerUpdate(node.PositionTime{Position: 6000, Time: 400})
	assert.Equal(t, int64(6000), p.Position())
}

func TestSetVolumeClamps(t *testing.T) {
	tests := []struct {
		name   string
		input  int
		expect int
	}{
		{name: "negative clamps to zero", input: -5, expect: 0},
		{name: "zero stays", input: 0, expect: 0},
		{name: "in range stays", input: 75, expect: 75},
		{name: "max stays", input: 150, expect: 150},
		{name: "above max clamps", input: 500, expect: 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, sender := newTestPlayer(t)
			require.NoError(t, p.SetVolume(tt.input))
			assert.Equal(t, tt.expect, p.Volume())

			calls := sender.callsNamed("volume")
			require.Len(t, calls, 1)
			assert.Equal(t, tt.expect, calls[0].args[1])
		})
	}
}

func TestSeek(t *testing.T) {
	t.Run("nothing playing", func(t *testing.T) {
		p, _ := newTestPlayer(t)
		assert.ErrorIs(t, p.Seek(1000), ErrNothingPlaying)
	})

	t.Run("not seekable", func(t *testing.T) {
		p, _ := newTestPlayer(t)
		stream := track("live", "Live Stream")
		stream.Seekable = false
		p.Add("requester", stream)
		require.NoError(t, p.Play())
		assert.ErrorIs(t, p.Seek(1000), ErrNotSeekable)
	})

	t.Run("clamped to track bounds", func(t *testing.T) {
		p, sender := newTestPlayer(t)
		p.Add("requester", track("a", "Track A"))
		require.NoError(t, p.Play())

		require.NoError(t, p.Seek(-100))
		require.NoError(t, p.Seek(999999999))

		calls := sender.callsNamed("seek")
		require.Len(t, calls, 2)
		assert.Equal(t, int64(0), calls[0].args[1])
		assert.Equal(t, int64(200000), calls[1].args[1])
	})
}

func TestPause(t *testing.T) {
	p, sender := newTestPlayer(t)

	require.NoError(t, p.Pause(context.Background(), true, 0))
	assert.True(t, p.Paused())

	require.NoError(t, p.Pause(context.Background(), false, 0))
	assert.False(t, p.Paused())
	assert.Len(t, sender.callsNamed("pause"), 2)
}

func TestPauseDelayHonorsContext(t *testing.T) {
	p, sender := newTestPlayer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Pause(ctx, true, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sender.callsNamed("pause"))
}

func TestStopClearsPlaybackState(t *testing.T) {
	p, sender := newTestPlayer(t)
	p.Add("requester", track("a", "Track A"))
	p.Add("requester", track("b", "Track B"))
	require.NoError(t, p.Play())

	require.NoError(t, p.Stop())

	assert.Nil(t, p.Current())
	assert.Zero(t, p.Queue().Len())
	assert.Zero(t, p.Position())
	assert.False(t, p.IsPlaying())
	assert.Len(t, sender.callsNamed("stop"), 1)
}

func TestStoreFetch(t *testing.T) {
	p, _ := newTestPlayer(t)

	assert.Nil(t, p.Fetch("notify_channel"))
	p.Store("notify_channel", "123456")
	assert.Equal(t, "123456", p.Fetch("notify_channel"))
}

func TestVoiceHandshakeServerFirst(t *testing.T) {
	p, sender := newTestPlayer(t)
	payload := json.RawMessage(`{"token":"tok","endpoint":"voice.example"}`)

	require.NoError(t, p.OnVoiceServerUpdate(payload))
	assert.Empty(t, sender.callsNamed("voiceUpdate"), "half an aggregate must not fire")

	require.NoError(t, p.OnVoiceStateUpdate("session-1", "channel-1"))

	calls := sender.callsNamed("voiceUpdate")
	require.Len(t, calls, 1)
	assert.Equal(t, "guild-1", calls[0].args[0])
	assert.Equal(t, "session-1", calls[0].args[1])
	assert.JSONEq(t, string(payload), calls[0].args[2].(string))
}

func TestVoiceHandshakeStateFirst(t *testing.T) {
	p, sender := newTestPlayer(t)

	require.NoError(t, p.OnVoiceStateUpdate("session-1", "channel-1"))
	assert.Empty(t, sender.callsNamed("voiceUpdate"))

	require.NoError(t, p.OnVoiceServerUpdate(json.RawMessage(`{"token":"tok"}`)))
	assert.Len(t, sender.callsNamed("voiceUpdate"), 1)
}

func TestVoiceHandshakeFiresOncePerServerUpdate(t *testing.T) {
	p, sender := newTestPlayer(t)

	require.NoError(t, p.OnVoiceServerUpdate(json.RawMessage(`{"token":"tok"}`)))
	require.NoError(t, p.OnVoiceStateUpdate("session-1", "channel-1"))
	require.Len(t, sender.callsNamed("voiceUpdate"), 1)

	// A repeated state update without a fresh server payload stays quiet.
	require.NoError(t, p.OnVoiceStateUpdate("session-1", "channel-1"))
	assert.Len(t, sender.callsNamed("voiceUpdate"), 1)

	// A fresh server payload re-fires with the stored session.
	require.NoError(t, p.OnVoiceServerUpdate(json.RawMessage(`{"token":"tok2"}`)))
	assert.Len(t, sender.callsNamed("voiceUpdate"), 2)
}

func TestVoiceNullChannelTearsPlayerDown(t *testing.T) {
	sender := newFakeSender()
	var joined []string
	join := func(guildID, channelID string) error {
		joined = append(joined, channelID)
		return nil
	}
	closed := false
	p := New("guild-1", "channel-1", sender, join, func(guildID string) { closed = true }, nil)

	require.NoError(t, p.OnVoiceStateUpdate("", ""))

	assert.Equal(t, StateDisconnecting, p.State())
	assert.True(t, closed)
	assert.Equal(t, []string{""}, joined, "player must leave voice")
	assert.Len(t, sender.callsNamed("destroy"), 1)

	// The forced teardown surfaces as a synthesized event.
	emits := sender.callsNamed("emit")
	require.Len(t, emits, 1)
	assert.Equal(t, string(node.EventForcedDisconnect), emits[0].args[0])
	extra := emits[0].args[2].(map[string]interface{})
	assert.Equal(t, 42069, extra["code"])
}

func TestDisconnectIdempotent(t *testing.T) {
	p, sender := newTestPlayer(t)

	require.NoError(t, p.Disconnect(false))
	require.NoError(t, p.Disconnect(false))

	assert.Len(t, sender.callsNamed("destroy"), 1)
	assert.Empty(t, sender.callsNamed("emit"))
}

func TestPlayerFollowsNodeState(t *testing.T) {
	p, sender := newTestPlayer(t)

	steps := []struct {
		nodeState node.State
		expect    State
	}{
		{node.StateReady, StateReady},
		{node.StateReconnecting, StateReconnecting},
		{node.StateReady, StateReady},
		{node.StateConnecting, StateNodeBusy},
		{node.StateDisconnecting, StateDisconnecting},
	}

	old := node.StateConnecting
	for _, step := range steps {
		sender.fireState(step.nodeState, old)
		assert.Equal(t, step.expect, p.State(), "after node state %s", step.nodeState)
		old = step.nodeState
	}
}

func TestDisconnectUnregistersStateSubscription(t *testing.T) {
	p, sender := newTestPlayer(t)

	require.NoError(t, p.Disconnect(false))

	unregisters := sender.callsNamed("unregisterState")
	require.Len(t, unregisters, 1)
	assert.Same(t, sender.stateSub, unregisters[0].args[0])
}

func TestForceShuffleDeterministic(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.rng = rand.New(rand.NewSource(42))

	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		p.Add("requester", track(id, "Track "+id))
	}

	p.ForceShuffle(2)

	tracks := p.Queue().Tracks()
	require.Len(t, tracks, len(ids))

	// The sticky prefix survives in order.
	assert.Equal(t, "a", tracks[0].Identifier)
	assert.Equal(t, "b", tracks[1].Identifier)

	// The rest is a permutation of the remainder.
	seen := map[string]bool{}
	for _, tr := range tracks[2:] {
		seen[tr.Identifier] = true
	}
	assert.Equal(t, map[string]bool{"c": true, "d": true, "e": true, "f": true}, seen)
}

func TestMaybeShuffleRespectsFlag(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.rng = rand.New(rand.NewSource(1))

	for _, id := range []string{"a", "b", "c", "d"} {
		p.Add("requester", track(id, "Track "+id))
	}

	p.MaybeShuffle(0)
	got := func() []string {
		var ids []string
		for _, tr := range p.Queue().Tracks() {
			ids = append(ids, tr.Identifier)
		}
		return ids
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, got(), "shuffle disabled leaves the queue alone")

	p.SetShuffle(true)
	p.MaybeShuffle(0)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, got())
}
