package node

import "encoding/json"

// Stats is a point-in-time snapshot of a node's reported load. A new stats
// frame replaces the previous snapshot wholesale.
type Stats struct {
	Uptime         int64
	Players        int
	PlayingPlayers int

	MemoryFree       int64
	MemoryUsed       int64
	MemoryAllocated  int64
	MemoryReservable int64

	CPUCores     int
	SystemLoad   float64
	LavalinkLoad float64

	// Frame counters are -1 when the node did not report frame stats
	FramesSent    int64
	FramesNulled  int64
	FramesDeficit int64
}

type statsPayload struct {
	Uptime         int64 `json:"uptime"`
	Players        int   `json:"players"`
	PlayingPlayers int   `json:"playingPlayers"`
	Memory         struct {
		Free       int64 `json:"free"`
		Used       int64 `json:"used"`
		Allocated  int64 `json:"allocated"`
		Reservable int64 `json:"reservable"`
	} `json:"memory"`
	CPU struct {
		Cores        int     `json:"cores"`
		SystemLoad   float64 `json:"systemLoad"`
		LavalinkLoad float64 `json:"lavalinkLoad"`
	} `json:"cpu"`
	FrameStats *struct {
		Sent    int64 `json:"sent"`
		Nulled  int64 `json:"nulled"`
		Deficit int64 `json:"deficit"`
	} `json:"frameStats"`
}

// DecodeStats parses a stats frame into a snapshot.
func DecodeStats(data json.RawMessage) (*Stats, error) {
	var payload statsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}

	stats := &Stats{
		Uptime:           payload.Uptime,
		Players:          payload.Players,
		PlayingPlayers:   payload.PlayingPlayers,
		MemoryFree:       payload.Memory.Free,
		MemoryUsed:       payload.Memory.Used,
		MemoryAllocated:  payload.Memory.Allocated,
		MemoryReservable: payload.Memory.Reservable,
		CPUCores:         payload.CPU.Cores,
		SystemLoad:       payload.CPU.SystemLoad,
		LavalinkLoad:     payload.CPU.LavalinkLoad,
		FramesSent:       -1,
		FramesNulled:     -1,
		FramesDeficit:    -1,
	}
	if payload.FrameStats != nil {
		stats.FramesSent = payload.FrameStats.Sent
		stats.FramesNulled = payload.FrameStats.Nulled
		stats.FramesDeficit = payload.FrameStats.Deficit
	}
	return stats, nil
}
