package rest

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"
)

// Track holds the information Lavalink returns about a playable track.
//
// The Identifier is the opaque blob the node assigned to this track. It is
// passed back verbatim in play commands and is never reinterpreted by the
// client. Two tracks are the same track when their identifiers match.
type Track struct {
	// Identifier is the node-assigned track identifier
	Identifier string
	// Title of this track
	Title string
	// Author of this track
	Author string
	// URI is the playback url of this track
	URI string
	// Length of this track in milliseconds
	Length int64
	// Seekable determines if seeking can be done on this track
	Seekable bool
	// IsStream determines whether the node will stream this track
	IsStream bool
	// StartTimestamp is the position in milliseconds playback should start
	// from, extracted from the track URI's query string
	StartTimestamp int64
	// Requester is an opaque reference to whoever requested the track,
	// supplied by the host
	Requester interface{}
	// Extras holds host-supplied flags such as "bumped"
	Extras map[string]interface{}
}

// trackPayload matches the wire shape of a single track entry.
type trackPayload struct {
	Track string `json:"track"`
	Info  struct {
		Identifier string `json:"identifier"`
		Title      string `json:"title"`
		Author     string `json:"author"`
		URI        string `json:"uri"`
		Length     int64  `json:"length"`
		IsSeekable bool   `json:"isSeekable"`
		IsStream   bool   `json:"isStream"`
		Position   int64  `json:"position"`
	} `json:"info"`
}

// DecodeTrack parses a single track entry from a loadtracks response.
func DecodeTrack(data json.RawMessage) (*Track, error) {
	var payload trackPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return trackFromPayload(payload), nil
}

func trackFromPayload(payload trackPayload) *Track {
	return &Track{
		Identifier:     payload.Track,
		Title:          payload.Info.Title,
		Author:         payload.Info.Author,
		URI:            payload.Info.URI,
		Length:         payload.Info.Length,
		Seekable:       payload.Info.IsSeekable,
		IsStream:       payload.Info.IsStream,
		StartTimestamp: ParseStartOffset(payload.Info.URI),
		Extras:         make(map[string]interface{}),
	}
}

// Bumped reports whether the track carries the "bumped" extra flag.
func (t *Track) Bumped() bool {
	if t.Extras == nil {
		return false
	}
	bumped, ok := t.Extras["bumped"].(bool)
	return ok && bumped
}

// ParseStartOffset extracts a start position in milliseconds from the query
// string of a track URI. Sites encode it as ?t=90, ?t=1m30s or ?start=90;
// a missing or unparseable value means start from the beginning.
func ParseStartOffset(rawURI string) int64 {
	if rawURI == "" {
		return 0
	}
	parsed, err := url.Parse(rawURI)
	if err != nil {
		return 0
	}
	query := parsed.Query()
	for _, key := range []string{"t", "start"} {
		value := query.Get(key)
		if value == "" {
			continue
		}
		if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
			if seconds < 0 {
				return 0
			}
			return seconds * 1000
		}
		if dur, err := time.ParseDuration(value); err == nil && dur > 0 {
			return dur.Milliseconds()
		}
	}
	return 0
}

// FormatTime formats a duration in milliseconds as HH:MM:SS.
func FormatTime(ms int64) string {
	seconds := ms / 1000
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return pad(h) + ":" + pad(m) + ":" + pad(s)
}

func pad(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
