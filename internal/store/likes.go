package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/tunez/guildradio/internal/provider"
)

func (s *Store) upsertTrack(ctx context.Context, ex execer, t provider.Track) error {
	_, err := ex.ExecContext(ctx, s.rebind(`INSERT INTO tracks (track_key, locator, title, artist, duration_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (track_key) DO UPDATE SET
			locator = excluded.locator, title = excluded.title,
			artist = excluded.artist, duration_ms = excluded.duration_ms`),
		t.Key(), t.Locator(), t.Title, t.Artist, t.DurationMs)
	if err != nil {
		return fmt.Errorf("upsert track: %w", err)
	}
	return nil
}

// Like records that userID liked t in guildID and returns how many times they have.
func (s *Store) Like(ctx context.Context, guildID, userID string, t provider.Track) (int, error) {
	if t.Locator() == "" {
		return 0, fmt.Errorf("like: %w", provider.ErrInvalidLocator)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.upsertTrack(ctx, tx, t); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO likes (guild_id, user_id, track_key, like_count, last_liked_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (guild_id, user_id, track_key) DO UPDATE SET
			like_count = likes.like_count + 1, last_liked_at = excluded.last_liked_at`),
		guildID, userID, t.Key(), time.Now().UnixMilli()); err != nil {
		return 0, fmt.Errorf("record like: %w", err)
	}
	var count int
	if err := tx.QueryRowContext(ctx, s.rebind(`SELECT like_count FROM likes WHERE guild_id = ? AND user_id = ? AND track_key = ?`),
		guildID, userID, t.Key()).Scan(&count); err != nil {
		return 0, fmt.Errorf("read like count: %w", err)
	}
	return count, tx.Commit()
}

// TopLikedFor returns locators liked by any of userIDs in guildID, most liked
// first, ties broken by the most recent like.
func (s *Store) TopLikedFor(ctx context.Context, guildID string, userIDs []string, limit int) ([]string, error) {
	if len(userIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	var (
		filter string
		args   = []any{guildID}
	)
	if s.dialect == Postgres {
		filter = "l.user_id = ANY(?)"
		args = append(args, pq.Array(userIDs))
	} else {
		filter = "l.user_id IN (?" + strings.Repeat(", ?", len(userIDs)-1) + ")"
		for _, id := range userIDs {
			args = append(args, id)
		}
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT t.locator
		FROM likes l JOIN tracks t ON t.track_key = l.track_key
		WHERE l.guild_id = ? AND `+filter+`
		GROUP BY t.track_key, t.locator
		ORDER BY SUM(l.like_count) DESC, MAX(l.last_liked_at) DESC
		LIMIT ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("top liked: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}
