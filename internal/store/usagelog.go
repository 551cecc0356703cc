package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/sayboard/sayboard/internal/model"
)

// AppendLog stores a new usage log entry. Logs are append-only; the only
// later mutation allowed is the sync-state transition to synced.
func (s *Store) AppendLog(ctx context.Context, l *model.UsageLog) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid usage log: %w", err)
	}

	query := `
	INSERT INTO usage_logs (id, event, payload, phrase_text, session_id, sync_state, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, query,
		l.ID, string(l.Event), l.Payload, l.PhraseText, l.SessionID,
		string(l.SyncState), timeToDB(l.CreatedAt),
	)
	return persistErr("append log", err)
}

// ListPendingLogs returns all logs awaiting upload, oldest first so the
// server receives events in order.
func (s *Store) ListPendingLogs(ctx context.Context) ([]*model.UsageLog, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, event, payload, phrase_text, session_id, sync_state, created_at
	FROM usage_logs
	WHERE sync_state = ?
	ORDER BY created_at ASC, id
	`, string(model.StatePendingUpload))
	if err != nil {
		return nil, persistErr("list pending logs", err)
	}
	defer rows.Close()

	var logs []*model.UsageLog
	for rows.Next() {
		var l model.UsageLog
		var event, state, createdAt string

		err := rows.Scan(&l.ID, &event, &l.Payload, &l.PhraseText,
			&l.SessionID, &state, &createdAt)
		if err != nil {
			return nil, persistErr("scan log", err)
		}

		l.Event = model.EventType(event)
		l.SyncState = model.SyncState(state)
		if l.CreatedAt, err = timeFromDB(createdAt); err != nil {
			return nil, persistErr("scan log", err)
		}

		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate logs", err)
	}

	return logs, nil
}

// MarkLogsSynced transitions the given logs to synced in one transaction.
// The engine calls this only after the whole batch upload succeeded.
func (s *Store) MarkLogsSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, string(model.StateSynced))
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.conn.ExecContext(ctx,
		`UPDATE usage_logs SET sync_state = ? WHERE id IN (`+placeholders+`)`,
		args...,
	)
	return persistErr("mark logs synced", err)
}

// PruneSyncedLogs removes logs whose upload was confirmed. Local deletion is
// allowed only after confirmed upload; this is housekeeping, not sync.
func (s *Store) PruneSyncedLogs(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM usage_logs WHERE sync_state = ?`, string(model.StateSynced))
	if err != nil {
		return 0, persistErr("prune synced logs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountPending returns the number of entities across all tracked types whose
// sync-state is not synced. Published by the engine at pass boundaries.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	query := `
	SELECT
		(SELECT COUNT(*) FROM phrases WHERE sync_state != ?) +
		(SELECT COUNT(*) FROM settings WHERE sync_state != ?) +
		(SELECT COUNT(*) FROM usage_logs WHERE sync_state != ?)
	`

	var count int
	err := s.conn.QueryRowContext(ctx, query,
		string(model.StateSynced), string(model.StateSynced), string(model.StateSynced),
	).Scan(&count)
	if err != nil {
		return 0, persistErr("count pending", err)
	}

	return count, nil
}
