package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/reliefwallet/credential-engine/internal/model"
)

type CredentialRepository interface {
	// Create inserts an issued record. A live record for the same case makes
	// it fail with ErrUniqueViolation.
	Create(ctx context.Context, params model.CreateCredentialRecordParams) (*model.CredentialRecord, error)
	FindByID(ctx context.Context, id string) (*model.CredentialRecord, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*model.CredentialRecord, error)
	// FindLiveByCaseID returns the case's record unless it was rejected.
	FindLiveByCaseID(ctx context.Context, caseID string) (*model.CredentialRecord, error)
	FindDisbursedByCaseID(ctx context.Context, caseID string) (*model.CredentialRecord, error)
	// Transition moves the record to params.To only if its current status is
	// an allowed predecessor. It returns nil, nil when the guard did not match.
	Transition(ctx context.Context, params model.TransitionParams) (*model.CredentialRecord, error)
	CountByStatus(ctx context.Context) (map[model.CredentialStatus]int, error)
	WithTx(tx *sqlx.Tx) CredentialRepository
}

type credentialDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type credentialRepo struct {
	db credentialDB
}

func NewCredentialRepository(db *sqlx.DB) CredentialRepository {
	return &credentialRepo{db: db}
}

func (r *credentialRepo) WithTx(tx *sqlx.Tx) CredentialRepository {
	return &credentialRepo{db: tx}
}

func (r *credentialRepo) Create(ctx context.Context, params model.CreateCredentialRecordParams) (*model.CredentialRecord, error) {
	var rec model.CredentialRecord
	err := r.db.GetContext(ctx, &rec, `
		INSERT INTO credential_records (case_id, transaction_id, certificate_no, status, issuer_reference, mock, issued_at)
		VALUES ($1, $2, $3, 'issued', $4, $5, $6)
		RETURNING *
	`, params.CaseID, params.TransactionID, params.CertificateNo, params.IssuerReference, params.Mock, params.IssuedAt)
	if err != nil {
		return nil, translateUnique(err)
	}
	return &rec, nil
}

func (r *credentialRepo) FindByID(ctx context.Context, id string) (*model.CredentialRecord, error) {
	var rec model.CredentialRecord
	err := r.db.GetContext(ctx, &rec, `SELECT * FROM credential_records WHERE id = $1`, id)
	return HandleNotFound(&rec, err)
}

func (r *credentialRepo) FindByTransactionID(ctx context.Context, transactionID string) (*model.CredentialRecord, error) {
	var rec model.CredentialRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT * FROM credential_records WHERE transaction_id = $1
	`, transactionID)
	return HandleNotFound(&rec, err)
}

func (r *credentialRepo) FindLiveByCaseID(ctx context.Context, caseID string) (*model.CredentialRecord, error) {
	var rec model.CredentialRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT * FROM credential_records
		WHERE case_id = $1 AND status <> 'rejected'
	`, caseID)
	return HandleNotFound(&rec, err)
}

func (r *credentialRepo) FindDisbursedByCaseID(ctx context.Context, caseID string) (*model.CredentialRecord, error) {
	var rec model.CredentialRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT * FROM credential_records
		WHERE case_id = $1 AND status = 'disbursed'
	`, caseID)
	return HandleNotFound(&rec, err)
}

func (r *credentialRepo) Transition(ctx context.Context, params model.TransitionParams) (*model.CredentialRecord, error) {
	from := model.AllowedFrom(params.To)
	if len(from) == 0 {
		return nil, nil
	}
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	var rec model.CredentialRecord
	err := r.db.GetContext(ctx, &rec, `
		UPDATE credential_records SET
			status = $2,
			claimed_at = CASE WHEN $2 = 'claimed' THEN COALESCE(claimed_at, $3) ELSE claimed_at END,
			verified_at = CASE WHEN $2 = 'verified' THEN COALESCE(verified_at, $3) ELSE verified_at END,
			disbursed_at = CASE WHEN $2 = 'disbursed' THEN COALESCE(disbursed_at, $3) ELSE disbursed_at END,
			rejected_at = CASE WHEN $2 = 'rejected' THEN COALESCE(rejected_at, $3) ELSE rejected_at END,
			verifier_reference = COALESCE($4, verifier_reference),
			reject_reason = COALESCE($5, reject_reason),
			updated_at = $3
		WHERE id = $1 AND status = ANY($6)
		RETURNING *
	`, params.RecordID, string(params.To), params.At, params.VerifierReference, params.RejectReason, pq.Array(allowed))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translateUnique(err)
	}
	return &rec, nil
}

func (r *credentialRepo) CountByStatus(ctx context.Context) (map[model.CredentialStatus]int, error) {
	var rows []struct {
		Status model.CredentialStatus `db:"status"`
		Count  int                    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS count FROM credential_records GROUP BY status
	`); err != nil {
		return nil, err
	}

	counts := make(map[model.CredentialStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
