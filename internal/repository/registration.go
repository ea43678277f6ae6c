package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dharsanguruparan/ProofDrop/internal/common"
	"github.com/dharsanguruparan/ProofDrop/internal/model"
)

// DBTX is the slice of *pgxpool.Pool the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const defaultListLimit = 50

// RegistrationRepository wraps all SQL touching the registrations table.
type RegistrationRepository struct {
	db DBTX
}

// NewRegistrationRepository constructs a repository.
func NewRegistrationRepository(db DBTX) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// Record inserts one registration. The database assigns the id, which is
// copied back onto reg; nothing is read back to verify the write.
func (r *RegistrationRepository) Record(ctx context.Context, reg *model.Registration) error {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO registrations (full_name, proof, secure24h, timestamp)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, reg.FullName, reg.Proof, reg.Secure24h, reg.Timestamp.UTC()).Scan(&id)
	if err != nil {
		return &common.PersistenceError{Op: "insert registration", Err: err}
	}
	reg.ID = strconv.FormatInt(id, 10)
	return nil
}

// List returns the newest registrations first, for manual payment review.
func (r *RegistrationRepository) List(ctx context.Context, limit int) ([]model.Registration, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, full_name, proof, secure24h, timestamp
		FROM registrations
		ORDER BY timestamp DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("select registrations: %w", err)
	}
	defer rows.Close()
	var out []model.Registration
	for rows.Next() {
		var (
			reg model.Registration
			id  int64
		)
		if err := rows.Scan(&id, &reg.FullName, &reg.Proof, &reg.Secure24h, &reg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		reg.ID = strconv.FormatInt(id, 10)
		out = append(out, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return out, nil
}
