package queue

import (
	"errors"
	"math/rand"

	"github.com/tunez/guildradio/internal/provider"
)

// ErrNotFound is returned when a 1-based position is outside the queue.
var ErrNotFound = errors.New("queue: position not found")

// Queue is the ordered list of tracks waiting to play in one guild.
// It is not safe for concurrent use; the owning guild serializes access.
type Queue struct {
	items []provider.Track
	rng   *rand.Rand
}

func New(tracks ...provider.Track) *Queue {
	q := &Queue{}
	q.items = append(q.items, tracks...)
	return q
}

// WithRand makes shuffles deterministic for tests.
func (q *Queue) WithRand(r *rand.Rand) *Queue {
	q.rng = r
	return q
}

func (q *Queue) Items() []provider.Track {
	out := make([]provider.Track, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Append(tracks ...provider.Track) {
	q.items = append(q.items, tracks...)
}

// Prepend puts a track back at the head, used when a restart re-queues the current track.
func (q *Queue) Prepend(t provider.Track) {
	q.items = append([]provider.Track{t}, q.items...)
}

func (q *Queue) PopFront() (provider.Track, bool) {
	if len(q.items) == 0 {
		return provider.Track{}, false
	}
	t := q.items[0]
	q.items[0] = provider.Track{}
	q.items = q.items[1:]
	return t, true
}

func (q *Queue) PeekFront() (provider.Track, bool) {
	if len(q.items) == 0 {
		return provider.Track{}, false
	}
	return q.items[0], true
}

// RemoveAt removes the track at 1-based pos.
func (q *Queue) RemoveAt(pos int) (provider.Track, error) {
	if pos < 1 || pos > len(q.items) {
		return provider.Track{}, ErrNotFound
	}
	idx := pos - 1
	t := q.items[idx]
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	return t, nil
}

// MoveTo relocates the track at 1-based src so that it ends up at 1-based dst.
func (q *Queue) MoveTo(src, dst int) error {
	if src < 1 || src > len(q.items) || dst < 1 || dst > len(q.items) {
		return ErrNotFound
	}
	from, to := src-1, dst-1
	if from == to {
		return nil
	}
	item := q.items[from]
	if from < to {
		copy(q.items[from:], q.items[from+1:to+1])
	} else {
		copy(q.items[to+1:], q.items[to:from])
	}
	q.items[to] = item
	return nil
}

func (q *Queue) Clear() {
	q.items = nil
}

// PurgeAutofill drops every autofill track and reports how many were removed.
func (q *Queue) PurgeAutofill() int {
	kept := q.items[:0]
	removed := 0
	for _, t := range q.items {
		if t.Autofill {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = provider.Track{}
	}
	q.items = kept
	return removed
}

// CountRequester counts the human-requested tracks queued by requesterID.
func (q *Queue) CountRequester(requesterID string) int {
	n := 0
	for _, t := range q.items {
		if !t.Autofill && t.RequesterID == requesterID {
			n++
		}
	}
	return n
}

// ShuffleDisplacingFirst shuffles the queue while guaranteeing the track at the
// head does not stay there. Queues shorter than two are left alone.
func (q *Queue) ShuffleDisplacingFirst() {
	shuffleDisplacingFirst(q.items, q.intn)
}

func (q *Queue) intn(n int) int {
	if q.rng != nil {
		return q.rng.Intn(n)
	}
	return rand.Intn(n)
}

func shuffleDisplacingFirst[T any](items []T, intn func(int) int) {
	n := len(items)
	if n < 2 {
		return
	}
	j0 := 1 + intn(n-1)
	items[0], items[j0] = items[j0], items[0]
	for i := 1; i < n-1; i++ {
		j := i + intn(n-i)
		items[i], items[j] = items[j], items[i]
	}
}
