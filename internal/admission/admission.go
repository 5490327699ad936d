// Package admission decides how many tracks a request may add to a guild queue.
package admission

import (
	"fmt"
	"math"

	"github.com/tunez/guildradio/internal/guild"
)

// Unlimited is returned for callers that bypass the per-user cap.
const Unlimited = math.MaxInt

// Admit caps a request at the guild's per-add limit. The notice is empty when
// nothing was cut.
func Admit(v guild.View, intended int, privileged bool) (int, string) {
	if intended <= 0 {
		return 0, ""
	}
	rl := v.Settings.RateLimit
	if !rl.Enabled || privileged {
		return intended, ""
	}
	limit := rl.MaxPerAdd
	if limit < 1 {
		limit = 1
	}
	if intended <= limit {
		return intended, ""
	}
	return limit, PerAddNotice(limit)
}

func PerAddNotice(limit int) string {
	if limit == 3 {
		return "You can only enter 3 songs at a time into the queue."
	}
	return fmt.Sprintf("You can only enter up to **%d** songs at a time into the queue.", limit)
}

// RemainingUserSlots is how many more tracks requesterID may queue. Autofill
// tracks never count. The per-user cap holds whether or not the per-add limit
// is on; only privileged callers skip it, and a cap below 1 means none is set.
func RemainingUserSlots(v guild.View, requesterID string, privileged bool) int {
	rl := v.Settings.RateLimit
	if privileged || rl.MaxPerUser < 1 {
		return Unlimited
	}
	n := 0
	for _, t := range v.Queue {
		if !t.Autofill && t.RequesterID == requesterID {
			n++
		}
	}
	left := rl.MaxPerUser - n
	if left < 0 {
		return 0
	}
	return left
}

// UserCapNotice explains a per-user denial. who is "You" for the requester
// themselves or a display name.
func UserCapNotice(who string, queued int) string {
	verb := "has"
	if who == "You" {
		verb = "have"
	}
	noun := "songs"
	if queued == 1 {
		noun = "song"
	}
	return fmt.Sprintf("%s already %s **%d** %s in the queue. Please wait until one finishes before adding more.", who, verb, queued, noun)
}

// Decision is the combined outcome of both checks.
type Decision struct {
	Allowed int
	Notice  string
	Denied  bool
}

// Decide combines Admit and RemainingUserSlots with min().
func Decide(v guild.View, requesterID string, intended int, privileged bool) Decision {
	allowed, notice := Admit(v, intended, privileged)
	slots := RemainingUserSlots(v, requesterID, privileged)
	if slots == 0 {
		return Decision{Denied: true, Notice: UserCapNotice("You", v.Settings.RateLimit.MaxPerUser)}
	}
	if slots < allowed {
		allowed = slots
		if notice == "" {
			notice = fmt.Sprintf("Only **%d** of your songs were added; the per-user limit is **%d**.", slots, v.Settings.RateLimit.MaxPerUser)
		}
	}
	return Decision{Allowed: allowed, Notice: notice, Denied: allowed == 0}
}
