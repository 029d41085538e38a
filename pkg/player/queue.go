package player

import (
	"math/rand"
	"sync"

	"github.com/samber/lo"

	"github.com/latoulicious/lavaclient/pkg/rest"
)

// Queue manages the pending tracks for a single guild, FIFO.
type Queue struct {
	mu     sync.RWMutex
	tracks []*rest.Track
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{tracks: make([]*rest.Track, 0)}
}

// Add appends a track to the tail of the queue.
func (q *Queue) Add(track *rest.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = append(q.tracks, track)
}

// PopFront removes and returns the head of the queue, or nil when empty.
func (q *Queue) PopFront() *rest.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		return nil
	}
	track := q.tracks[0]
	q.tracks = q.tracks[1:]
	return track
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tracks)
}

// Tracks returns a snapshot of the queued tracks in order.
func (q *Queue) Tracks() []*rest.Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	snapshot := make([]*rest.Track, len(q.tracks))
	copy(snapshot, q.tracks)
	return snapshot
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = q.tracks[:0]
}

// ForceShuffle shuffles the queue, keeping the first sticky entries in
// their original order so the visible "up next" stays stable. When
// shuffleBumped is false, tracks flagged bumped stay un-shuffled at the
// front of the remainder.
func (q *Queue) ForceShuffle(rng *rand.Rand, sticky int, shuffleBumped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		return
	}

	if sticky < 0 {
		sticky = 0
	}
	if sticky > len(q.tracks) {
		sticky = len(q.tracks)
	}

	keep := make([]*rest.Track, sticky)
	copy(keep, q.tracks[:sticky])
	remainder := make([]*rest.Track, len(q.tracks)-sticky)
	copy(remainder, q.tracks[sticky:])

	if !shuffleBumped {
		bumped := lo.Filter(remainder, func(t *rest.Track, _ int) bool { return t.Bumped() })
		remainder = lo.Reject(remainder, func(t *rest.Track, _ int) bool { return t.Bumped() })
		keep = append(keep, bumped...)
	}

	rng.Shuffle(len(remainder), func(i, j int) {
		remainder[i], remainder[j] = remainder[j], remainder[i]
	})

	q.tracks = append(keep, remainder...)
}
