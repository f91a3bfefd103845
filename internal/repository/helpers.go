package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// ErrUniqueViolation is returned when a write loses a race against a unique
// index, e.g. a second live credential for the same case.
var ErrUniqueViolation = errors.New("unique constraint violation")

// HandleNotFound processes a database query result, converting sql.ErrNoRows
// to a nil result without error. This is a common pattern for Find* operations
// where a missing row is not an error condition.
//
// Usage:
//
//	var item model.Item
//	err := r.db.GetContext(ctx, &item, query, args...)
//	return HandleNotFound(&item, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// translateUnique maps a postgres unique_violation to ErrUniqueViolation.
func translateUnique(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrUniqueViolation
	}
	return err
}
