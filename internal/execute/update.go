package execute

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/deployhook/internal/resource"
)

type UpdateStatus string

const (
	UpdateStatusInProgress UpdateStatus = "in_progress"
	UpdateStatusComplete   UpdateStatus = "complete"
	UpdateStatusFailed     UpdateStatus = "failed"
)

var ErrUpdateNotFound = errors.New("update not found")

// Update is the audit record created before an action reaches the engine.
type Update struct {
	ID        string
	Operation string
	Target    Target
	Operator  string
	Status    UpdateStatus
	// PayloadDigest is "blake3:<hex>" of the triggering delivery body, empty when there was none.
	PayloadDigest string
	CreatedAt     time.Time
}

// UpdateStore persists Update records in SQLite.
type UpdateStore struct {
	db *sql.DB
}

func NewUpdateStore(db *sql.DB) *UpdateStore {
	return &UpdateStore{db: db}
}

// Create inserts an in-progress update for req attributed to user.
func (s *UpdateStore) Create(ctx context.Context, req Request, user User, body []byte) (*Update, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}
	target := req.Target()
	if target.ID == "" {
		return nil, fmt.Errorf("%s: target id is empty", req.Operation())
	}

	u := &Update{
		ID:            uuid.NewString(),
		Operation:     req.Operation(),
		Target:        target,
		Operator:      user.Username,
		Status:        UpdateStatusInProgress,
		PayloadDigest: PayloadDigest(body),
		CreatedAt:     time.Now().UTC(),
	}

	var digest any
	if u.PayloadDigest != "" {
		digest = u.PayloadDigest
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO updates(id, operation, target_kind, target_id, operator, status, payload_digest, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, u.ID, u.Operation, string(target.Kind), target.ID, u.Operator, u.Status, digest, u.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert update: %w", err)
	}
	return u, nil
}

// Get returns the update with the given id.
func (s *UpdateStore) Get(ctx context.Context, id string) (*Update, error) {
	var (
		u          Update
		kind       string
		status     string
		digest     sql.NullString
		createdAtS string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, operation, target_kind, target_id, operator, status, payload_digest, created_at
FROM updates
WHERE id = ?;
`, id).Scan(&u.ID, &u.Operation, &kind, &u.Target.ID, &u.Operator, &status, &digest, &createdAtS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUpdateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read update: %w", err)
	}

	u.Target.Kind = resource.Kind(kind)
	u.Status = UpdateStatus(status)
	if digest.Valid {
		u.PayloadDigest = digest.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		u.CreatedAt = t
	}
	return &u, nil
}

// Finish moves an in-progress update to a terminal status.
func (s *UpdateStore) Finish(ctx context.Context, id string, status UpdateStatus) error {
	if status != UpdateStatusComplete && status != UpdateStatusFailed {
		return fmt.Errorf("invalid terminal status: %q", status)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE updates SET status = ? WHERE id = ? AND status = ?;
`, status, id, UpdateStatusInProgress)
	if err != nil {
		return fmt.Errorf("finish update: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("update %s is already finished", id)
	}
	return nil
}

// PayloadDigest returns the BLAKE3 digest of body in "blake3:<hex>" form.
func PayloadDigest(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := blake3.Sum256(body)
	return "blake3:" + hex.EncodeToString(sum[:])
}
