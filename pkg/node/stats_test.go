package node

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStats(t *testing.T) {
	data := json.RawMessage(`{
		"op": "stats",
		"uptime": 123456,
		"players": 10,
		"playingPlayers": 4,
		"memory": {"free": 100, "used": 200, "allocated": 300, "reservable": 400},
		"cpu": {"cores": 8, "systemLoad": 0.75, "lavalinkLoad": 0.25},
		"frameStats": {"sent": 3000, "nulled": 5, "deficit": 2}
	}`)

	stats, err := DecodeStats(data)
	require.NoError(t, err)

	assert.Equal(t, int64(123456), stats.Uptime)
	assert.Equal(t, 10, stats.Players)
	assert.Equal(t, 4, stats.PlayingPlayers)
	assert.Equal(t, int64(100), stats.MemoryFree)
	assert.Equal(t, int64(400), stats.MemoryReservable)
	assert.Equal(t, 8, stats.CPUCores)
	assert.Equal(t, 0.75, stats.SystemLoad)
	assert.Equal(t, int64(3000), stats.FramesSent)
	assert.Equal(t, int64(5), stats.FramesNulled)
	assert.Equal(t, int64(2), stats.FramesDeficit)
}

func TestDecodeStatsWithoutFrameStats(t *testing.T) {
	data := json.RawMessage(`{
		"op": "stats",
		"uptime": 1,
		"players": 0,
		"playingPlayers": 0,
		"memory": {"free": 1, "used": 1, "allocated": 1, "reservable": 1},
		"cpu": {"cores": 2, "systemLoad": 0.1, "lavalinkLoad": 0.0}
	}`)

	stats, err := DecodeStats(data)
	require.NoError(t, err)

	assert.Equal(t, int64(-1), stats.FramesSent)
	assert.Equal(t, int64(-1), stats.FramesNulled)
	assert.Equal(t, int64(-1), stats.FramesDeficit)
}

func TestDecodeStatsMalformed(t *testing.T) {
	_, err := DecodeStats(json.RawMessage(`{"uptime": "not a number"}`))
	assert.Error(t, err)
}
