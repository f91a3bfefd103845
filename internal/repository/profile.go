package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/reliefwallet/credential-engine/internal/model"
)

type ProfileRepository interface {
	FindByEmail(ctx context.Context, email string) (*model.Profile, error)
	FindByIDNumber(ctx context.Context, idNumber string) (*model.Profile, error)
	// UpsertByEmail updates the profile with this email or inserts one.
	// Empty incoming values never clear stored ones.
	UpsertByEmail(ctx context.Context, params model.UpsertProfileParams) (*model.Profile, error)
	UpsertByIDNumber(ctx context.Context, params model.UpsertProfileParams) (*model.Profile, error)
	WithTx(tx *sqlx.Tx) ProfileRepository
}

type profileDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type profileRepo struct {
	db profileDB
}

func NewProfileRepository(db *sqlx.DB) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) WithTx(tx *sqlx.Tx) ProfileRepository {
	return &profileRepo{db: tx}
}

func (r *profileRepo) FindByEmail(ctx context.Context, email string) (*model.Profile, error) {
	var p model.Profile
	err := r.db.GetContext(ctx, &p, `SELECT * FROM profiles WHERE email = $1`, email)
	return HandleNotFound(&p, err)
}

func (r *profileRepo) FindByIDNumber(ctx context.Context, idNumber string) (*model.Profile, error) {
	var p model.Profile
	err := r.db.GetContext(ctx, &p, `SELECT * FROM profiles WHERE id_number = $1`, idNumber)
	return HandleNotFound(&p, err)
}

func (r *profileRepo) UpsertByEmail(ctx context.Context, params model.UpsertProfileParams) (*model.Profile, error) {
	var p model.Profile
	err := r.db.GetContext(ctx, &p, `
		INSERT INTO profiles (email, id_number, full_name, phone, address, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO UPDATE SET
			id_number = COALESCE(EXCLUDED.id_number, profiles.id_number),
			full_name = COALESCE(NULLIF(EXCLUDED.full_name, ''), profiles.full_name),
			phone = COALESCE(EXCLUDED.phone, profiles.phone),
			address = COALESCE(EXCLUDED.address, profiles.address),
			source = EXCLUDED.source,
			updated_at = NOW()
		RETURNING *
	`, params.Email, params.IDNumber, params.FullName, params.Phone, params.Address, params.Source)
	if err != nil {
		return nil, translateUnique(err)
	}
	return &p, nil
}

func (r *profileRepo) UpsertByIDNumber(ctx context.Context, params model.UpsertProfileParams) (*model.Profile, error) {
	var p model.Profile
	err := r.db.GetContext(ctx, &p, `
		INSERT INTO profiles (email, id_number, full_name, phone, address, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id_number) DO UPDATE SET
			email = COALESCE(profiles.email, EXCLUDED.email),
			full_name = COALESCE(NULLIF(EXCLUDED.full_name, ''), profiles.full_name),
			phone = COALESCE(EXCLUDED.phone, profiles.phone),
			address = COALESCE(EXCLUDED.address, profiles.address),
			source = EXCLUDED.source,
			updated_at = NOW()
		RETURNING *
	`, params.Email, params.IDNumber, params.FullName, params.Phone, params.Address, params.Source)
	if err != nil {
		return nil, translateUnique(err)
	}
	return &p, nil
}
