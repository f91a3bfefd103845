package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/reliefwallet/credential-engine/internal/model"
)

// HistoryRepository is append-only: there is no update or delete path.
type HistoryRepository interface {
	// Append inserts an entry. A second entry with the same action type and
	// transaction id is dropped and Append returns nil, nil.
	Append(ctx context.Context, params model.CreateHistoryEntryParams) (*model.CredentialHistoryEntry, error)
	ListByCaseID(ctx context.Context, caseID string, limit, offset int) ([]*model.CredentialHistoryEntry, error)
	CountByAction(ctx context.Context, filter model.HistoryFilter) ([]model.GroupCount, error)
	CountByOrganization(ctx context.Context, filter model.HistoryFilter) ([]model.GroupCount, error)
	CountByCredentialType(ctx context.Context, filter model.HistoryFilter) ([]model.GroupCount, error)
	WithTx(tx *sqlx.Tx) HistoryRepository
}

type historyDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type historyRepo struct {
	db historyDB
}

func NewHistoryRepository(db *sqlx.DB) HistoryRepository {
	return &historyRepo{db: db}
}

func (r *historyRepo) WithTx(tx *sqlx.Tx) HistoryRepository {
	return &historyRepo{db: tx}
}

func (r *historyRepo) Append(ctx context.Context, params model.CreateHistoryEntryParams) (*model.CredentialHistoryEntry, error) {
	var location *json.RawMessage
	if params.Location != nil {
		raw, err := json.Marshal(params.Location)
		if err != nil {
			return nil, fmt.Errorf("marshal location: %w", err)
		}
		msg := json.RawMessage(raw)
		location = &msg
	}

	var entry model.CredentialHistoryEntry
	err := r.db.GetContext(ctx, &entry, `
		INSERT INTO credential_history
			(case_id, user_id, action_type, status, credential_type, organization, location, transaction_id, notes, action_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (action_type, transaction_id) DO NOTHING
		RETURNING *
	`, params.CaseID, params.UserID, params.ActionType, params.Status, params.CredentialType,
		params.Organization, location, params.TransactionID, params.Notes, params.ActionTime)
	return HandleNotFound(&entry, err)
}

func (r *historyRepo) ListByCaseID(ctx context.Context, caseID string, limit, offset int) ([]*model.CredentialHistoryEntry, error) {
	var entries []*model.CredentialHistoryEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM credential_history
		WHERE case_id = $1
		ORDER BY action_time DESC, id DESC
		LIMIT $2 OFFSET $3
	`, caseID, limit, offset)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *historyRepo) CountByAction(ctx context.Context, filter model.HistoryFilter) ([]model.GroupCount, error) {
	return r.countBy(ctx, "action_type", filter)
}

func (r *historyRepo) CountByOrganization(ctx context.Context, filter model.HistoryFilter) ([]model.GroupCount, error) {
	return r.countBy(ctx, "organization", filter)
}

func (r *historyRepo) CountByCredentialType(ctx context.Context, filter model.HistoryFilter) ([]model.GroupCount, error) {
	return r.countBy(ctx, "credential_type", filter)
}

// countBy groups on a fixed column name; column is never caller input.
func (r *historyRepo) countBy(ctx context.Context, column string, filter model.HistoryFilter) ([]model.GroupCount, error) {
	where, args := historyWhere(filter)
	query := fmt.Sprintf(`
		SELECT %s AS key, COUNT(*) AS count
		FROM credential_history
		%s
		GROUP BY %s
		ORDER BY count DESC
	`, column, where, column)

	var counts []model.GroupCount
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, err
	}
	return counts, nil
}

func historyWhere(filter model.HistoryFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Organization != "" {
		add("organization = $%d", filter.Organization)
	}
	if filter.ActionType != "" {
		add("action_type = $%d", filter.ActionType)
	}
	if filter.CaseID != "" {
		add("case_id = $%d", filter.CaseID)
	}
	if filter.From != nil {
		add("action_time >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("action_time < $%d", *filter.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
