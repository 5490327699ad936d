// Package eta estimates when queued tracks will start playing.
//
// A single unknown duration ahead of a slot makes that slot and every later
// slot unknown; there is no way to know how long the gap lasts.
package eta

import (
	"fmt"
	"time"

	"github.com/tunez/guildradio/internal/guild"
)

// Estimate is a start delay. Unknown means some duration in the prefix was missing.
type Estimate struct {
	Wait    time.Duration
	Unknown bool
}

// Remaining is the time left on the current track. ok is false when nothing is
// playing; known is false when the current track's length is missing.
func Remaining(v guild.View, now time.Time) (left time.Duration, ok, known bool) {
	if v.Current == nil {
		return 0, false, true
	}
	d, known := v.Current.Duration()
	if !known {
		return 0, true, false
	}
	elapsed := time.Duration(0)
	if !v.StartedAt.IsZero() {
		elapsed = now.Sub(v.StartedAt)
	}
	left = d - elapsed
	if left < 0 {
		left = 0
	}
	return left, true, true
}

// StartDelay estimates the wait for the track at 1-based target.
func StartDelay(v guild.View, target int, now time.Time) Estimate {
	left, _, known := Remaining(v, now)
	if !known {
		return Estimate{Unknown: true}
	}
	wait := left
	for i := 0; i < target-1 && i < len(v.Queue); i++ {
		d, ok := v.Queue[i].Duration()
		if !ok {
			return Estimate{Unknown: true}
		}
		wait += d
	}
	return Estimate{Wait: wait}
}

// AllSlots estimates every queued slot, left to right.
func AllSlots(v guild.View, now time.Time) []Estimate {
	out := make([]Estimate, len(v.Queue))
	left, _, known := Remaining(v, now)
	acc := Estimate{Wait: left, Unknown: !known}
	for i, t := range v.Queue {
		out[i] = acc
		if acc.Unknown {
			continue
		}
		d, ok := t.Duration()
		if !ok {
			acc = Estimate{Unknown: true}
			continue
		}
		acc.Wait += d
	}
	return out
}

// Format renders an estimate for cards: "now", "in 4:10" or "unknown".
func Format(e Estimate) string {
	if e.Unknown {
		return "unknown"
	}
	if e.Wait <= 0 {
		return "now"
	}
	return "in " + Clock(e.Wait)
}

// Clock renders a duration as m:ss or h:mm:ss.
func Clock(d time.Duration) string {
	s := int(d.Round(time.Second) / time.Second)
	h, m, sec := s/3600, (s%3600)/60, s%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
