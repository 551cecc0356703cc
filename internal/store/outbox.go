package store

import (
	"context"
	"time"
)

// QueuedMessage is a peer message awaiting store-and-forward delivery.
type QueuedMessage struct {
	ID       int64
	Payload  []byte
	QueuedAt time.Time
}

// EnqueuePeerMessage appends a raw peer message payload to the outbox.
// Messages stay queued until the relay confirms delivery.
func (s *Store) EnqueuePeerMessage(ctx context.Context, payload []byte) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO peer_outbox (payload, queued_at) VALUES (?, ?)`,
		string(payload), timeToDB(nowUTC()),
	)
	return persistErr("enqueue peer message", err)
}

// ListPeerOutbox returns queued messages oldest first.
func (s *Store) ListPeerOutbox(ctx context.Context) ([]QueuedMessage, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, payload, queued_at FROM peer_outbox ORDER BY id ASC`)
	if err != nil {
		return nil, persistErr("list peer outbox", err)
	}
	defer rows.Close()

	var msgs []QueuedMessage
	for rows.Next() {
		var m QueuedMessage
		var payload, queuedAt string
		if err := rows.Scan(&m.ID, &payload, &queuedAt); err != nil {
			return nil, persistErr("scan peer message", err)
		}
		m.Payload = []byte(payload)
		if m.QueuedAt, err = timeFromDB(queuedAt); err != nil {
			return nil, persistErr("scan peer message", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate peer outbox", err)
	}

	return msgs, nil
}

// DequeuePeerMessage removes a delivered message from the outbox.
func (s *Store) DequeuePeerMessage(ctx context.Context, id int64) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM peer_outbox WHERE id = ?`, id)
	return persistErr("dequeue peer message", err)
}
