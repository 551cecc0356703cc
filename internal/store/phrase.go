package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sayboard/sayboard/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// PhraseOrder selects the ordering of ListPhrases results.
type PhraseOrder int

const (
	// OrderByUsage sorts by usage count descending (board display order).
	OrderByUsage PhraseOrder = iota
	// OrderByCreated sorts by creation time descending (history order).
	OrderByCreated
)

// PhraseFilter configures the ListPhrases query. Zero value matches all
// phrases in board display order.
type PhraseFilter struct {
	// SyncState filters by sync state (empty = all states).
	SyncState model.SyncState
	// FavoritesOnly restricts to favorite phrases.
	FavoritesOnly bool
	// ExcludeDeleted drops phrases in pending_delete state.
	ExcludeDeleted bool
	// Order selects the sort order.
	Order PhraseOrder
}

const phraseColumns = `id, text, category, usage_count, favorite, sync_state, server_id, created_at, updated_at`

// InsertPhrase stores a new phrase.
func (s *Store) InsertPhrase(ctx context.Context, p *model.Phrase) error {
	return insertPhrase(ctx, s.conn, p)
}

// InsertPhrase stores a new phrase within the batch.
func (b *Batch) InsertPhrase(p *model.Phrase) error {
	return insertPhrase(b.ctx, b.tx, p)
}

func insertPhrase(ctx context.Context, e execer, p *model.Phrase) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid phrase: %w", err)
	}

	query := `
	INSERT INTO phrases (` + phraseColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := e.ExecContext(ctx, query,
		p.ID, p.Text, p.Category, p.UsageCount, boolToInt(p.Favorite),
		string(p.SyncState), p.ServerID, timeToDB(p.CreatedAt), timeToDB(p.UpdatedAt),
	)
	return persistErr("insert phrase", err)
}

// UpdatePhrase overwrites the stored phrase identified by p.ID.
func (s *Store) UpdatePhrase(ctx context.Context, p *model.Phrase) error {
	return updatePhrase(ctx, s.conn, p)
}

// UpdatePhrase overwrites the stored phrase within the batch.
func (b *Batch) UpdatePhrase(p *model.Phrase) error {
	return updatePhrase(b.ctx, b.tx, p)
}

func updatePhrase(ctx context.Context, e execer, p *model.Phrase) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid phrase: %w", err)
	}

	query := `
	UPDATE phrases SET
		text = ?, category = ?, usage_count = ?, favorite = ?,
		sync_state = ?, server_id = ?, updated_at = ?
	WHERE id = ?
	`

	res, err := e.ExecContext(ctx, query,
		p.Text, p.Category, p.UsageCount, boolToInt(p.Favorite),
		string(p.SyncState), p.ServerID, timeToDB(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return persistErr("update phrase", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("phrase %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// DeletePhrase applies the soft/hard delete rule: a phrase that has synced
// at least once is retained in pending_delete state so the server deletion
// can be replayed; a never-synced phrase is removed immediately.
func (s *Store) DeletePhrase(ctx context.Context, id string) error {
	return deletePhrase(ctx, s.conn, id)
}

// DeletePhrase applies the soft/hard delete rule within the batch.
func (b *Batch) DeletePhrase(id string) error {
	return deletePhrase(b.ctx, b.tx, id)
}

func deletePhrase(ctx context.Context, e execer, id string) error {
	p, err := getPhrase(ctx, e, id)
	if err != nil {
		return err
	}

	if p.ServerID == "" {
		return removePhrase(ctx, e, id)
	}

	p.SyncState = model.StatePendingDelete
	return updatePhrase(ctx, e, p)
}

// RemovePhrase hard-deletes a phrase row regardless of sync state. The sync
// engine calls this after a delete round-trip; UI code should use DeletePhrase.
func (s *Store) RemovePhrase(ctx context.Context, id string) error {
	return removePhrase(ctx, s.conn, id)
}

// RemovePhrase hard-deletes a phrase row within the batch.
func (b *Batch) RemovePhrase(id string) error {
	return removePhrase(b.ctx, b.tx, id)
}

func removePhrase(ctx context.Context, e execer, id string) error {
	_, err := e.ExecContext(ctx, `DELETE FROM phrases WHERE id = ?`, id)
	return persistErr("remove phrase", err)
}

// MarkPhraseSynced stamps the server identifier and transitions the phrase
// to synced after a successful upload round-trip.
func (s *Store) MarkPhraseSynced(ctx context.Context, id, serverID string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE phrases SET sync_state = ?, server_id = ? WHERE id = ?`,
		string(model.StateSynced), serverID, id,
	)
	if err != nil {
		return persistErr("mark phrase synced", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("phrase %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetPhrase retrieves a phrase by its local identifier.
// Returns ErrNotFound if no such phrase exists.
func (s *Store) GetPhrase(ctx context.Context, id string) (*model.Phrase, error) {
	return getPhrase(ctx, s.conn, id)
}

func getPhrase(ctx context.Context, e execer, id string) (*model.Phrase, error) {
	row := e.QueryRowContext(ctx,
		`SELECT `+phraseColumns+` FROM phrases WHERE id = ?`, id)
	return scanPhrase(row)
}

// GetPhraseByServerID retrieves the phrase referencing a server identifier.
// Returns ErrNotFound if no local phrase references it.
func (s *Store) GetPhraseByServerID(ctx context.Context, serverID string) (*model.Phrase, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+phraseColumns+` FROM phrases WHERE server_id = ?`, serverID)
	return scanPhrase(row)
}

// ListPhrases retrieves phrases matching the filter.
func (s *Store) ListPhrases(ctx context.Context, filter PhraseFilter) ([]*model.Phrase, error) {
	var conditions []string
	var args []any

	if filter.SyncState != "" {
		conditions = append(conditions, "sync_state = ?")
		args = append(args, string(filter.SyncState))
	}
	if filter.FavoritesOnly {
		conditions = append(conditions, "favorite = 1")
	}
	if filter.ExcludeDeleted {
		conditions = append(conditions, "sync_state != ?")
		args = append(args, string(model.StatePendingDelete))
	}

	query := `SELECT ` + phraseColumns + ` FROM phrases`
	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}

	switch filter.Order {
	case OrderByCreated:
		query += " ORDER BY created_at DESC, id"
	default:
		query += " ORDER BY usage_count DESC, created_at DESC, id"
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list phrases", err)
	}
	defer rows.Close()

	var phrases []*model.Phrase
	for rows.Next() {
		p, err := scanPhraseRow(rows)
		if err != nil {
			return nil, err
		}
		phrases = append(phrases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate phrases", err)
	}

	return phrases, nil
}

// RecordPhraseUsage increments the usage counter and, for an already-synced
// phrase, shadows it as pending_update so the new count uploads.
func (s *Store) RecordPhraseUsage(ctx context.Context, id string) error {
	query := `
	UPDATE phrases SET
		usage_count = usage_count + 1,
		sync_state = CASE WHEN sync_state = ? THEN ? ELSE sync_state END,
		updated_at = ?
	WHERE id = ?
	`

	res, err := s.conn.ExecContext(ctx, query,
		string(model.StateSynced), string(model.StatePendingUpdate),
		timeToDB(nowUTC()), id,
	)
	if err != nil {
		return persistErr("record phrase usage", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("phrase %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhrase(row *sql.Row) (*model.Phrase, error) {
	p, err := scanPhraseInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func scanPhraseRow(rows *sql.Rows) (*model.Phrase, error) {
	return scanPhraseInto(rows)
}

func scanPhraseInto(r rowScanner) (*model.Phrase, error) {
	var p model.Phrase
	var favorite int
	var state, createdAt, updatedAt string

	err := r.Scan(&p.ID, &p.Text, &p.Category, &p.UsageCount, &favorite,
		&state, &p.ServerID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, persistErr("scan phrase", err)
	}

	p.Favorite = favorite != 0
	p.SyncState = model.SyncState(state)

	if p.CreatedAt, err = timeFromDB(createdAt); err != nil {
		return nil, persistErr("scan phrase", err)
	}
	if p.UpdatedAt, err = timeFromDB(updatedAt); err != nil {
		return nil, persistErr("scan phrase", err)
	}

	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
