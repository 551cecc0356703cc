package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sayboard/sayboard/internal/model"
)

// GetSettings returns the device settings record, creating the default
// record on first access. Exactly one live instance ever exists.
func (s *Store) GetSettings(ctx context.Context) (*model.Settings, error) {
	settings, err := s.readSettings(ctx)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	defaults := model.DefaultSettings()
	if err := s.SaveSettings(ctx, defaults); err != nil {
		return nil, err
	}
	return defaults, nil
}

func (s *Store) readSettings(ctx context.Context) (*model.Settings, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT language, speech_rate, ai_enabled, response_mode, sync_state, updated_at
	FROM settings WHERE singleton = 1
	`)

	var settings model.Settings
	var aiEnabled int
	var mode, state, updatedAt string

	err := row.Scan(&settings.Language, &settings.SpeechRate, &aiEnabled,
		&mode, &state, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, persistErr("read settings", err)
	}

	settings.AIEnabled = aiEnabled != 0
	settings.ResponseMode = model.ResponseMode(mode)
	settings.SyncState = model.SyncState(state)
	if settings.UpdatedAt, err = timeFromDB(updatedAt); err != nil {
		return nil, persistErr("read settings", err)
	}

	return &settings, nil
}

// SaveSettings upserts the singleton settings record.
func (s *Store) SaveSettings(ctx context.Context, settings *model.Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	query := `
	INSERT INTO settings (singleton, language, speech_rate, ai_enabled, response_mode, sync_state, updated_at)
	VALUES (1, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(singleton) DO UPDATE SET
		language = excluded.language,
		speech_rate = excluded.speech_rate,
		ai_enabled = excluded.ai_enabled,
		response_mode = excluded.response_mode,
		sync_state = excluded.sync_state,
		updated_at = excluded.updated_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		settings.Language, settings.SpeechRate, boolToInt(settings.AIEnabled),
		string(settings.ResponseMode), string(settings.SyncState),
		timeToDB(settings.UpdatedAt),
	)
	return persistErr("save settings", err)
}

// MarkSettingsSynced transitions the settings record to synced.
func (s *Store) MarkSettingsSynced(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE settings SET sync_state = ? WHERE singleton = 1`,
		string(model.StateSynced),
	)
	return persistErr("mark settings synced", err)
}
