package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tunez/guildradio/internal/guild"
	"github.com/tunez/guildradio/internal/provider"
)

// SaveSnapshot replaces the guild's persisted queue and settings in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snap guild.Snapshot) error {
	settingsJSON, err := json.Marshal(snap.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	now := time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO guild_settings (guild_id, settings_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET settings_json = excluded.settings_json, updated_at = excluded.updated_at`),
		snap.GuildID, string(settingsJSON), now); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM queue_items WHERE guild_id = ?`), snap.GuildID); err != nil {
		return fmt.Errorf("clear queue items: %w", err)
	}

	if len(snap.Tracks) > 0 {
		stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO queue_items
			(guild_id, position, track_key, requester_id, autofill, track_json, added_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, t := range snap.Tracks {
			trackJSON, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("marshal track %q: %w", t.Title, err)
			}
			added := t.RequestedAt
			if added == 0 {
				added = now
			}
			if _, err := stmt.ExecContext(ctx, snap.GuildID, i, t.Key(), t.RequesterID, t.Autofill, string(trackJSON), added); err != nil {
				return fmt.Errorf("insert track %q: %w", t.Title, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LoadSnapshot reads a guild's queue and settings. ok is false when the guild
// was never saved.
func (s *Store) LoadSnapshot(ctx context.Context, guildID string) (guild.Snapshot, bool, error) {
	snap := guild.Snapshot{GuildID: guildID}

	var settingsJSON string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT settings_json FROM guild_settings WHERE guild_id = ?`), guildID).
		Scan(&settingsJSON)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return snap, false, nil
	case err != nil:
		return snap, false, fmt.Errorf("load settings: %w", err)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &snap.Settings); err != nil {
		return snap, false, fmt.Errorf("decode settings: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT track_json FROM queue_items WHERE guild_id = ? ORDER BY position ASC`), guildID)
	if err != nil {
		return snap, false, fmt.Errorf("load queue items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var trackJSON string
		if err := rows.Scan(&trackJSON); err != nil {
			return snap, false, fmt.Errorf("scan track: %w", err)
		}
		var t provider.Track
		if err := json.Unmarshal([]byte(trackJSON), &t); err != nil {
			// skip corrupted entries
			continue
		}
		snap.Tracks = append(snap.Tracks, t)
	}
	if err := rows.Err(); err != nil {
		return snap, false, fmt.Errorf("iterate tracks: %w", err)
	}
	return snap, true, nil
}

// SavedGuilds lists guilds with at least one queued track, for restoring
// sessions at startup.
func (s *Store) SavedGuilds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT guild_id FROM queue_items ORDER BY guild_id`)
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSnapshot forgets everything saved for a guild's queue and settings.
func (s *Store) DeleteSnapshot(ctx context.Context, guildID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM queue_items WHERE guild_id = ?`), guildID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM guild_settings WHERE guild_id = ?`), guildID); err != nil {
		return err
	}
	return tx.Commit()
}
