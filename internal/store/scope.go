package store

import (
	"context"
	"fmt"
)

// Scope selects which rows of a soft-deletable table a read sees.
type Scope int

const (
	// ScopePublic: published and not deleted.
	ScopePublic Scope = iota
	// ScopeUnpublished: not deleted, published or not.
	ScopeUnpublished
	// ScopeDeleted: deleted rows only.
	ScopeDeleted
	// ScopeEverything: all rows.
	ScopeEverything
)

func (s Scope) condition(alias string) string {
	switch s {
	case ScopePublic:
		return alias + ".published AND NOT " + alias + ".deleted"
	case ScopeUnpublished:
		return "NOT " + alias + ".deleted"
	case ScopeDeleted:
		return alias + ".deleted"
	default:
		return "TRUE"
	}
}

var softDeleteTables = map[string]bool{
	"hearings":             true,
	"sections":             true,
	"section_images":       true,
	"section_files":        true,
	"section_polls":        true,
	"section_poll_options": true,
	"section_comments":     true,
	"comment_images":       true,
	"labels":               true,
	"contact_persons":      true,
	"projects":             true,
	"project_phases":       true,
}

// Undelete returns a soft-deleted row to the default scope.
func (s *PostgresStore) Undelete(ctx context.Context, table, id string) (bool, error) {
	if !softDeleteTables[table] {
		return false, fmt.Errorf("undelete %s: unknown table", table)
	}
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE `+table+`
		SET deleted=FALSE, deleted_at=NULL, deleted_by_id=NULL, modified_at=NOW()
		WHERE id::text=$1 AND deleted
	`, id)
	if err != nil {
		return false, fmt.Errorf("undelete %s %s: %w", table, id, err)
	}
	return affected(result)
}
