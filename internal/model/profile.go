package model

import "time"

type Profile struct {
	ID        string    `db:"id" json:"id"`
	Email     *string   `db:"email" json:"email,omitempty"`
	IDNumber  *string   `db:"id_number" json:"idNumber,omitempty"`
	FullName  string    `db:"full_name" json:"fullName"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Address   *string   `db:"address" json:"address,omitempty"`
	Source    string    `db:"source" json:"source"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type UpsertProfileParams struct {
	Email    *string
	IDNumber *string
	FullName string
	Phone    *string
	Address  *string
	Source   CredentialType
}
