package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

func (s *PostgresStore) ListLabels(ctx context.Context) ([]Label, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT l.id, l.label, `+metaColumns("l")+`
		FROM labels l
		WHERE NOT l.deleted
		ORDER BY l.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	items := make([]Label, 0)
	for rows.Next() {
		var item Label
		if err := rows.Scan(append([]any{&item.ID, &item.Label}, item.Meta.targets()...)...); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate labels: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertLabel(ctx context.Context, label Label) (Label, error) {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO labels(label, created_by_id, modified_by_id) VALUES($1, $2, $2)
		RETURNING id, created_at, modified_at, published
	`, label.Label, label.CreatedBy).Scan(&label.ID, &label.CreatedAt, &label.ModifiedAt, &label.Published)
	if err != nil {
		return Label{}, fmt.Errorf("insert label: %w", err)
	}
	return label, nil
}

// ExistingLabelIDs returns the subset of ids naming live labels.
func (s *PostgresStore) ExistingLabelIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	return s.existingIDs(ctx, "labels", ids)
}

func (s *PostgresStore) ExistingContactPersonIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	return s.existingIDs(ctx, "contact_persons", ids)
}

func (s *PostgresStore) existingIDs(ctx context.Context, table string, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT id FROM `+table+` WHERE NOT deleted AND id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", table, err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

const contactColumns = `c.id, c.name, c.title, c.phone, c.email, c.organization_id, COALESCE(o.name, '')`

func scanContact(row interface{ Scan(...any) error }) (ContactPerson, error) {
	var item ContactPerson
	err := row.Scan(append([]any{&item.ID, &item.Name, &item.Title, &item.Phone, &item.Email, &item.OrganizationID, &item.Organization}, item.Meta.targets()...)...)
	return item, err
}

func (s *PostgresStore) ListContactPersons(ctx context.Context) ([]ContactPerson, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+contactColumns+`, `+metaColumns("c")+`
		FROM contact_persons c
		LEFT JOIN organizations o ON o.id = c.organization_id
		WHERE NOT c.deleted
		ORDER BY c.name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list contact persons: %w", err)
	}
	defer rows.Close()
	return collectContacts(rows)
}

func collectContacts(rows *sql.Rows) ([]ContactPerson, error) {
	items := make([]ContactPerson, 0)
	for rows.Next() {
		item, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact person: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact persons: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetContactPerson(ctx context.Context, id int64) (ContactPerson, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+contactColumns+`, `+metaColumns("c")+`
		FROM contact_persons c
		LEFT JOIN organizations o ON o.id = c.organization_id
		WHERE c.id=$1 AND NOT c.deleted
	`, id)
	item, err := scanContact(row)
	if err != nil {
		return ContactPerson{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertContactPerson(ctx context.Context, item ContactPerson) (ContactPerson, error) {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO contact_persons(name, title, phone, email, organization_id, created_by_id, modified_by_id)
		VALUES($1, $2, $3, $4, $5, $6, $6)
		RETURNING id, created_at, modified_at, published
	`, item.Name, item.Title, item.Phone, item.Email, item.OrganizationID, item.CreatedBy).
		Scan(&item.ID, &item.CreatedAt, &item.ModifiedAt, &item.Published)
	if err != nil {
		return ContactPerson{}, fmt.Errorf("insert contact person: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateContactPerson(ctx context.Context, item ContactPerson) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE contact_persons
		SET name=$2, title=$3, phone=$4, email=$5, organization_id=$6, modified_by_id=$7, modified_at=NOW()
		WHERE id=$1 AND NOT deleted
	`, item.ID, item.Name, item.Title, item.Phone, item.Email, item.OrganizationID, item.ModifiedBy)
	if err != nil {
		return false, fmt.Errorf("update contact person %d: %w", item.ID, err)
	}
	return affected(result)
}

const projectColumns = `p.id, p.identifier, p.title`
const phaseColumns = `ph.id, ph.project_id, ph.title, ph.description, ph.schedule, ph.ordering`

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+projectColumns+`, `+metaColumns("p")+`
		FROM projects p
		WHERE NOT p.deleted
		ORDER BY p.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(append([]any{&item.ID, &item.Identifier, &item.Title}, item.Meta.targets()...)...); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
		ids = append(ids, item.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	phases, err := s.phasesByProject(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Phases = phases[items[i].ID]
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id int64) (Project, error) {
	var item Project
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+projectColumns+`, `+metaColumns("p")+`
		FROM projects p
		WHERE p.id=$1 AND NOT p.deleted
	`, id).Scan(append([]any{&item.ID, &item.Identifier, &item.Title}, item.Meta.targets()...)...)
	if err != nil {
		return Project{}, err
	}
	phases, err := s.phasesByProject(ctx, []int64{id})
	if err != nil {
		return Project{}, err
	}
	item.Phases = phases[id]
	return item, nil
}

func (s *PostgresStore) phasesByProject(ctx context.Context, projectIDs []int64) (map[int64][]ProjectPhase, error) {
	out := map[int64][]ProjectPhase{}
	if len(projectIDs) == 0 {
		return out, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+phaseColumns+`, `+metaColumns("ph")+`
		FROM project_phases ph
		WHERE ph.project_id = ANY($1) AND NOT ph.deleted
		ORDER BY ph.project_id, ph.ordering ASC, ph.id ASC
	`, pq.Array(projectIDs))
	if err != nil {
		return nil, fmt.Errorf("list project phases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project phase: %w", err)
		}
		out[item.ProjectID] = append(out[item.ProjectID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project phases: %w", err)
	}
	return out, nil
}

func scanPhase(row interface{ Scan(...any) error }) (ProjectPhase, error) {
	var item ProjectPhase
	err := row.Scan(append([]any{&item.ID, &item.ProjectID, &item.Title, &item.Description, &item.Schedule, &item.Ordering}, item.Meta.targets()...)...)
	return item, err
}

func (s *PostgresStore) GetPhase(ctx context.Context, id int64) (ProjectPhase, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+phaseColumns+`, `+metaColumns("ph")+`
		FROM project_phases ph
		WHERE ph.id=$1 AND NOT ph.deleted
	`, id)
	item, err := scanPhase(row)
	if err != nil {
		return ProjectPhase{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, item Project) (Project, error) {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO projects(identifier, title, created_by_id, modified_by_id) VALUES($1, $2, $3, $3)
		RETURNING id, created_at, modified_at, published
	`, item.Identifier, item.Title, item.CreatedBy).Scan(&item.ID, &item.CreatedAt, &item.ModifiedAt, &item.Published)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, item Project) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE projects SET identifier=$2, title=$3, modified_by_id=$4, modified_at=NOW()
		WHERE id=$1 AND NOT deleted
	`, item.ID, item.Identifier, item.Title, item.ModifiedBy)
	if err != nil {
		return fmt.Errorf("update project %d: %w", item.ID, err)
	}
	return nil
}

func (s *PostgresStore) InsertPhase(ctx context.Context, item ProjectPhase) (ProjectPhase, error) {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO project_phases(project_id, title, description, schedule, ordering, created_by_id, modified_by_id)
		VALUES($1, $2, $3, $4, $5, $6, $6)
		RETURNING id, created_at, modified_at, published
	`, item.ProjectID, item.Title, item.Description, item.Schedule, item.Ordering, item.CreatedBy).
		Scan(&item.ID, &item.CreatedAt, &item.ModifiedAt, &item.Published)
	if err != nil {
		return ProjectPhase{}, fmt.Errorf("insert project phase: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdatePhase(ctx context.Context, item ProjectPhase) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE project_phases
		SET title=$2, description=$3, schedule=$4, ordering=$5, modified_by_id=$6, modified_at=NOW()
		WHERE id=$1 AND NOT deleted
	`, item.ID, item.Title, item.Description, item.Schedule, item.Ordering, item.ModifiedBy)
	if err != nil {
		return fmt.Errorf("update project phase %d: %w", item.ID, err)
	}
	return nil
}

func (s *PostgresStore) SoftDeletePhase(ctx context.Context, id int64, actor *string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE project_phases SET deleted=TRUE, deleted_at=NOW(), deleted_by_id=$2
		WHERE id=$1 AND NOT deleted
	`, id, actor)
	if err != nil {
		return fmt.Errorf("delete project phase %d: %w", id, err)
	}
	return nil
}

// PhasesInUse returns the phases referenced by live hearings other than
// exceptHearingID.
func (s *PostgresStore) PhasesInUse(ctx context.Context, phaseIDs []int64, exceptHearingID string) (map[int64]bool, error) {
	out := map[int64]bool{}
	if len(phaseIDs) == 0 {
		return out, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT DISTINCT project_phase_id FROM hearings
		WHERE project_phase_id = ANY($1) AND NOT deleted AND id <> $2
	`, pq.Array(phaseIDs), exceptHearingID)
	if err != nil {
		return nil, fmt.Errorf("check phases in use: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan phase id: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phases in use: %w", err)
	}
	return out, nil
}
