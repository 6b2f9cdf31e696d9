package resource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store reads and writes procedures and stacks in SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetProcedure returns the procedure with the given id, or ErrNotFound.
func (s *Store) GetProcedure(ctx context.Context, id string) (*Procedure, error) {
	if id == "" {
		return nil, fmt.Errorf("procedure id is empty: %w", ErrNotFound)
	}

	var (
		p       Procedure
		enabled int
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, webhook_enabled, webhook_secret
FROM procedures
WHERE id = ?;
`, id).Scan(&p.ID, &p.Name, &enabled, &p.Config.WebhookSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("procedure %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read procedure: %w", err)
	}
	p.Config.WebhookEnabled = enabled != 0
	return &p, nil
}

// GetStack returns the stack with the given id, or ErrNotFound.
func (s *Store) GetStack(ctx context.Context, id string) (*Stack, error) {
	if id == "" {
		return nil, fmt.Errorf("stack id is empty: %w", ErrNotFound)
	}

	var (
		st          Stack
		enabled     int
		forceDeploy int
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, branch, webhook_enabled, webhook_secret, webhook_force_deploy
FROM stacks
WHERE id = ?;
`, id).Scan(&st.ID, &st.Name, &st.Config.Branch, &enabled, &st.Config.WebhookSecret, &forceDeploy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stack %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read stack: %w", err)
	}
	st.Config.WebhookEnabled = enabled != 0
	st.Config.WebhookForceDeploy = forceDeploy != 0
	return &st, nil
}

// UpsertProcedure inserts or replaces a procedure.
func (s *Store) UpsertProcedure(ctx context.Context, p Procedure) error {
	if p.ID == "" {
		return fmt.Errorf("procedure id is empty")
	}
	if p.Name == "" {
		p.Name = p.ID
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO procedures(id, name, webhook_enabled, webhook_secret, updated_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  webhook_enabled = excluded.webhook_enabled,
  webhook_secret = excluded.webhook_secret,
  updated_at = excluded.updated_at;
`, p.ID, p.Name, boolToInt(p.Config.WebhookEnabled), p.Config.WebhookSecret, now())
	if err != nil {
		return fmt.Errorf("upsert procedure: %w", err)
	}
	return nil
}

// UpsertStack inserts or replaces a stack.
func (s *Store) UpsertStack(ctx context.Context, st Stack) error {
	if st.ID == "" {
		return fmt.Errorf("stack id is empty")
	}
	if st.Name == "" {
		st.Name = st.ID
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO stacks(id, name, branch, webhook_enabled, webhook_secret, webhook_force_deploy, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  branch = excluded.branch,
  webhook_enabled = excluded.webhook_enabled,
  webhook_secret = excluded.webhook_secret,
  webhook_force_deploy = excluded.webhook_force_deploy,
  updated_at = excluded.updated_at;
`, st.ID, st.Name, st.Config.Branch, boolToInt(st.Config.WebhookEnabled), st.Config.WebhookSecret,
		boolToInt(st.Config.WebhookForceDeploy), now())
	if err != nil {
		return fmt.Errorf("upsert stack: %w", err)
	}
	return nil
}

// ListProcedures returns all procedures ordered by id.
func (s *Store) ListProcedures(ctx context.Context) ([]Procedure, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, webhook_enabled, webhook_secret
FROM procedures
ORDER BY id ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}
	defer rows.Close()

	var out []Procedure
	for rows.Next() {
		var (
			p       Procedure
			enabled int
		)
		if err := rows.Scan(&p.ID, &p.Name, &enabled, &p.Config.WebhookSecret); err != nil {
			return nil, fmt.Errorf("scan procedure: %w", err)
		}
		p.Config.WebhookEnabled = enabled != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListStacks returns all stacks ordered by id.
func (s *Store) ListStacks(ctx context.Context) ([]Stack, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, branch, webhook_enabled, webhook_secret, webhook_force_deploy
FROM stacks
ORDER BY id ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list stacks: %w", err)
	}
	defer rows.Close()

	var out []Stack
	for rows.Next() {
		var (
			st          Stack
			enabled     int
			forceDeploy int
		)
		if err := rows.Scan(&st.ID, &st.Name, &st.Config.Branch, &enabled, &st.Config.WebhookSecret, &forceDeploy); err != nil {
			return nil, fmt.Errorf("scan stack: %w", err)
		}
		st.Config.WebhookEnabled = enabled != 0
		st.Config.WebhookForceDeploy = forceDeploy != 0
		out = append(out, st)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
