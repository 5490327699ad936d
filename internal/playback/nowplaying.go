package playback

// NowPlayingEntry links a posted now-playing card to the song that caused it.
type NowPlayingEntry struct {
	Ref       string
	SongIndex int64
	Autofill  bool
}

// NowPlayingLog remembers recent now-playing cards so stale filler cards can
// be deleted. Human-requested cards are only ever forgotten, never returned
// for deletion.
type NowPlayingLog struct {
	entries []NowPlayingEntry
	max     int
}

func NewNowPlayingLog(max int) *NowPlayingLog {
	if max <= 0 {
		max = 100
	}
	return &NowPlayingLog{max: max}
}

func (l *NowPlayingLog) Record(e NowPlayingEntry) {
	if e.Ref == "" {
		return
	}
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
}

// Prune removes and returns autofill entries posted more than window songs
// before current.
func (l *NowPlayingLog) Prune(current int64, window int) []NowPlayingEntry {
	if window < 0 {
		window = 0
	}
	var stale []NowPlayingEntry
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Autofill && current-e.SongIndex > int64(window) {
			stale = append(stale, e)
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return stale
}

func (l *NowPlayingLog) Entries() []NowPlayingEntry {
	out := make([]NowPlayingEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *NowPlayingLog) Len() int { return len(l.entries) }
