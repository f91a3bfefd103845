package model

import "time"

// Case is the slice of a relief application the credential engine reads.
// Review and approval live in the case system.
type Case struct {
	ID             string     `db:"id" json:"id"`
	CaseNo         string     `db:"case_no" json:"caseNo"`
	UserID         *string    `db:"user_id" json:"userId,omitempty"`
	ApplicantName  string     `db:"applicant_name" json:"applicantName"`
	IDNumber       string     `db:"id_number" json:"idNumber"`
	Phone          string     `db:"phone" json:"phone"`
	Address        string     `db:"address" json:"address"`
	DamageAddress  *string    `db:"damage_address" json:"damageAddress,omitempty"`
	DisasterType   string     `db:"disaster_type" json:"disasterType"`
	ApprovedAmount *float64   `db:"approved_amount" json:"approvedAmount,omitempty"`
	Status         string     `db:"status" json:"status"`
	ApprovedAt     *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

// DamageOrRegisteredAddress falls back to the registered address when the
// damaged property address was not captured separately.
func (c *Case) DamageOrRegisteredAddress() string {
	if c.DamageAddress != nil && *c.DamageAddress != "" {
		return *c.DamageAddress
	}
	return c.Address
}
