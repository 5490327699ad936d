package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tunez/guildradio/internal/provider"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Play is one row of play history.
type Play struct {
	ID          int64
	GuildID     string
	Key         string
	Locator     string
	Title       string
	Artist      string
	RequesterID string
	Autofill    bool
	StartedAt   time.Time
	EndedAt     time.Time
}

// TrackCount is a track with how many times it was played.
type TrackCount struct {
	Key     string
	Locator string
	Title   string
	Artist  string
	Plays   int
}

func (s *Store) RecordPlayStart(ctx context.Context, guildID string, t provider.Track) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`INSERT INTO plays
		(guild_id, track_key, locator, title, artist, requester_id, autofill, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		guildID, t.Key(), t.Locator(), t.Title, t.Artist, t.RequesterID, t.Autofill, time.Now().UnixMilli()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record play start: %w", err)
	}
	return id, nil
}

func (s *Store) RecordPlayEnd(ctx context.Context, playID int64) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`UPDATE plays SET ended_at = ? WHERE id = ? AND ended_at IS NULL`),
		time.Now().UnixMilli(), playID); err != nil {
		return fmt.Errorf("record play end: %w", err)
	}
	return nil
}

// RecentPlays returns the guild's latest plays, newest first.
func (s *Store) RecentPlays(ctx context.Context, guildID string, limit int) ([]Play, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, guild_id, track_key, locator, title, artist, requester_id, autofill, started_at, ended_at
		FROM plays WHERE guild_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`), guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent plays: %w", err)
	}
	defer rows.Close()

	var out []Play
	for rows.Next() {
		var (
			p       Play
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.GuildID, &p.Key, &p.Locator, &p.Title, &p.Artist, &p.RequesterID, &p.Autofill, &started, &ended); err != nil {
			return nil, err
		}
		p.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			p.EndedAt = time.UnixMilli(ended.Int64)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TopTracks counts human-requested plays per track in guildID.
func (s *Store) TopTracks(ctx context.Context, guildID string, limit int) ([]TrackCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT track_key, MAX(locator), MAX(title), MAX(artist), COUNT(*) AS n
		FROM plays
		WHERE guild_id = ? AND autofill = ?
		GROUP BY track_key
		ORDER BY n DESC, MAX(started_at) DESC
		LIMIT ?`), guildID, false, limit)
	if err != nil {
		return nil, fmt.Errorf("top tracks: %w", err)
	}
	defer rows.Close()

	var out []TrackCount
	for rows.Next() {
		var tc TrackCount
		if err := rows.Scan(&tc.Key, &tc.Locator, &tc.Title, &tc.Artist, &tc.Plays); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// ClearPlays deletes play history for guildID, or for every guild when
// guildID is empty. It returns how many plays were removed.
func (s *Store) ClearPlays(ctx context.Context, guildID string) (int64, error) {
	query, args := `DELETE FROM plays`, []any(nil)
	if guildID != "" {
		query, args = `DELETE FROM plays WHERE guild_id = ?`, []any{guildID}
	}
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("clear plays: %w", err)
	}
	return res.RowsAffected()
}
