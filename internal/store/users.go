package store

import (
	"context"
	"fmt"
)

const userColumns = `u.id, u.username, u.first_name, u.last_name, u.nickname, u.email, u.is_staff, u.is_superuser, u.date_joined, u.last_login`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Nickname, &u.Email, &u.IsStaff, &u.IsSuperuser, &u.DateJoined, &u.LastLogin)
	return u, err
}

// UpsertUser creates the user on first sight and refreshes identity fields
// from the login broker afterwards. The nickname is owned by this service
// and is never overwritten here.
func (s *PostgresStore) UpsertUser(ctx context.Context, user User) (User, error) {
	if user.Username == "" {
		user.Username = "u-" + user.ID
	}
	row := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO users(id, username, first_name, last_name, nickname, email, is_staff, is_superuser, last_login)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			first_name = CASE WHEN EXCLUDED.first_name <> '' THEN EXCLUDED.first_name ELSE users.first_name END,
			last_name = CASE WHEN EXCLUDED.last_name <> '' THEN EXCLUDED.last_name ELSE users.last_name END,
			email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE users.email END,
			is_staff = EXCLUDED.is_staff OR users.is_superuser,
			last_login = NOW()
		RETURNING id, username, first_name, last_name, nickname, email, is_staff, is_superuser, date_joined, last_login
	`, user.ID, user.Username, user.FirstName, user.LastName, user.Nickname, user.Email, user.IsStaff, user.IsSuperuser)
	saved, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("upsert user %s: %w", user.ID, err)
	}
	return saved, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id=$1`, userID)
	user, err := scanUser(row)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserNickname(ctx context.Context, userID, nickname string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `UPDATE users SET nickname=$2 WHERE id=$1`, userID, nickname)
	if err != nil {
		return fmt.Errorf("update nickname %s: %w", userID, err)
	}
	return nil
}


// AdminOrganizations lists organizations the user administers.
func (s *PostgresStore) AdminOrganizations(ctx context.Context, userID string) ([]Organization, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT o.id, o.name, o.created_at
		FROM organizations o
		JOIN organization_admins oa ON oa.organization_id = o.id
		WHERE oa.user_id=$1
		ORDER BY o.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list admin organizations: %w", err)
	}
	defer rows.Close()
	return scanOrganizations(rows)
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT o.id, o.name, o.created_at FROM organizations o ORDER BY o.name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()
	return scanOrganizations(rows)
}

func scanOrganizations(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]Organization, error) {
	items := make([]Organization, 0)
	for rows.Next() {
		var item Organization
		if err := rows.Scan(&item.ID, &item.Name, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetOrganizationByName(ctx context.Context, name string) (Organization, error) {
	var item Organization
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT id, name, created_at FROM organizations WHERE name=$1`, name).
		Scan(&item.ID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Organization{}, err
	}
	return item, nil
}

// EnsureOrganization returns the organization called name, creating it when
// missing.
func (s *PostgresStore) EnsureOrganization(ctx context.Context, name string) (Organization, error) {
	var item Organization
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO organizations(name) VALUES($1)
		ON CONFLICT (name) DO UPDATE SET name=EXCLUDED.name
		RETURNING id, name, created_at
	`, name).Scan(&item.ID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Organization{}, fmt.Errorf("ensure organization %s: %w", name, err)
	}
	return item, nil
}

func (s *PostgresStore) AddOrganizationAdmin(ctx context.Context, organizationID int64, userID string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO organization_admins(organization_id, user_id) VALUES($1, $2)
		ON CONFLICT DO NOTHING
	`, organizationID, userID)
	if err != nil {
		return fmt.Errorf("add organization admin: %w", err)
	}
	return nil
}

