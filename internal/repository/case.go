package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/reliefwallet/credential-engine/internal/model"
)

type CaseRepository interface {
	FindByID(ctx context.Context, id string) (*model.Case, error)
	FindApprovedByID(ctx context.Context, id string) (*model.Case, error)
	// FindLatestByIDNumber picks the most recently approved case for an
	// applicant among the given statuses. Ties on approved_at fall back to
	// creation order.
	FindLatestByIDNumber(ctx context.Context, idNumber string, statuses []string) (*model.Case, error)
	UpdateStatus(ctx context.Context, id string, status string, at time.Time) error
	WithTx(tx *sqlx.Tx) CaseRepository
}

type caseDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type caseRepo struct {
	db caseDB
}

func NewCaseRepository(db *sqlx.DB) CaseRepository {
	return &caseRepo{db: db}
}

func (r *caseRepo) WithTx(tx *sqlx.Tx) CaseRepository {
	return &caseRepo{db: tx}
}

func (r *caseRepo) FindByID(ctx context.Context, id string) (*model.Case, error) {
	var c model.Case
	err := r.db.GetContext(ctx, &c, `SELECT * FROM cases WHERE id = $1`, id)
	return HandleNotFound(&c, err)
}

func (r *caseRepo) FindApprovedByID(ctx context.Context, id string) (*model.Case, error) {
	var c model.Case
	err := r.db.GetContext(ctx, &c, `
		SELECT * FROM cases WHERE id = $1 AND status = $2
	`, id, model.CaseStatusApproved)
	return HandleNotFound(&c, err)
}

func (r *caseRepo) FindLatestByIDNumber(ctx context.Context, idNumber string, statuses []string) (*model.Case, error) {
	var c model.Case
	err := r.db.GetContext(ctx, &c, `
		SELECT * FROM cases
		WHERE id_number = $1 AND status = ANY($2)
		ORDER BY approved_at DESC NULLS LAST, created_at DESC
		LIMIT 1
	`, idNumber, pq.Array(statuses))
	return HandleNotFound(&c, err)
}

func (r *caseRepo) UpdateStatus(ctx context.Context, id string, status string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE cases SET
			status = $2,
			completed_at = CASE WHEN $2 = 'completed' THEN COALESCE(completed_at, $3) ELSE completed_at END,
			updated_at = $3
		WHERE id = $1
	`, id, status, at)
	return err
}
