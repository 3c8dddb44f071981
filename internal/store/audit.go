package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type AuditLogEntry struct {
	ID        int64
	CreatedAt time.Time
	IsSent    bool
	Message   json.RawMessage
}

func (s *PostgresStore) InsertAuditLogEntry(ctx context.Context, message []byte) error {
	_, err := s.conn(ctx).ExecContext(ctx, `INSERT INTO audit_log_entries(message) VALUES($1)`, string(message))
	if err != nil {
		return fmt.Errorf("insert audit log entry: %w", err)
	}
	return nil
}

// ListUnsentAuditLogEntries returns entries not yet shipped, oldest first.
func (s *PostgresStore) ListUnsentAuditLogEntries(ctx context.Context, limit int) ([]AuditLogEntry, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, created_at, is_sent, message FROM audit_log_entries
		WHERE NOT is_sent ORDER BY created_at ASC, id ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit log entries: %w", err)
	}
	defer rows.Close()
	items := make([]AuditLogEntry, 0)
	for rows.Next() {
		var item AuditLogEntry
		if err := rows.Scan(&item.ID, &item.CreatedAt, &item.IsSent, (*[]byte)(&item.Message)); err != nil {
			return nil, fmt.Errorf("scan audit log entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log entries: %w", err)
	}
	return items, nil
}
