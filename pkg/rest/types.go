package rest

import "encoding/json"

// LoadType is the result type of a loadtracks request
type LoadType string

const (
	LoadTypeTrackLoaded    LoadType = "TRACK_LOADED"
	LoadTypePlaylistLoaded LoadType = "PLAYLIST_LOADED"
	LoadTypeSearchResult   LoadType = "SEARCH_RESULT"
	LoadTypeNoMatches      LoadType = "NO_MATCHES"
	LoadTypeLoadFailed     LoadType = "LOAD_FAILED"
	// LoadTypeLegacyCompat marks a response from an old node that returned
	// a bare track array instead of the typed envelope
	LoadTypeLegacyCompat LoadType = "V2_COMPAT"
)

// PlaylistInfo describes the playlist a loadtracks response belongs to
type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack int    `json:"selectedTrack"`
}

// LoadResult is the typed outcome of a track search or resolve call
type LoadResult struct {
	LoadType     LoadType
	PlaylistInfo *PlaylistInfo
	Tracks       []*Track
}

// IsPlaylist reports whether the result carries playlist metadata
func (r *LoadResult) IsPlaylist() bool {
	return r.LoadType == LoadTypePlaylistLoaded && r.PlaylistInfo != nil
}

// loadResultEnvelope matches the modern loadtracks response shape.
type loadResultEnvelope struct {
	LoadType     LoadType          `json:"loadType"`
	PlaylistInfo *PlaylistInfo     `json:"playlistInfo"`
	Tracks       []json.RawMessage `json:"tracks"`
}
