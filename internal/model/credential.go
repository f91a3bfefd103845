package model

import (
	"encoding/json"
	"time"
)

// transitions lists, for each target status, the statuses it may be reached from.
var transitions = map[CredentialStatus][]CredentialStatus{
	CredentialStatusClaimed:   {CredentialStatusIssued},
	CredentialStatusVerified:  {CredentialStatusIssued, CredentialStatusClaimed},
	CredentialStatusDisbursed: {CredentialStatusVerified},
	CredentialStatusRejected:  {CredentialStatusIssued, CredentialStatusClaimed, CredentialStatusVerified},
}

// AllowedFrom returns the statuses a record must be in to move to target.
// Issued has no predecessors: records are created in that state.
func AllowedFrom(target CredentialStatus) []CredentialStatus {
	from := transitions[target]
	out := make([]CredentialStatus, len(from))
	copy(out, from)
	return out
}

func CanTransition(from, to CredentialStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

func (s CredentialStatus) Terminal() bool {
	return s == CredentialStatusDisbursed || s == CredentialStatusRejected
}

// Live reports whether the record blocks a new issuance for its case.
func (s CredentialStatus) Live() bool {
	return s != CredentialStatusRejected
}

type CredentialRecord struct {
	ID                string           `db:"id" json:"id"`
	CaseID            string           `db:"case_id" json:"caseId"`
	TransactionID     string           `db:"transaction_id" json:"transactionId"`
	CertificateNo     string           `db:"certificate_no" json:"certificateNo"`
	Status            CredentialStatus `db:"status" json:"status"`
	IssuerReference   *json.RawMessage `db:"issuer_reference" json:"issuerReference,omitempty"`
	VerifierReference *json.RawMessage `db:"verifier_reference" json:"verifierReference,omitempty"`
	Mock              bool             `db:"mock" json:"mock"`
	RejectReason      *string          `db:"reject_reason" json:"rejectReason,omitempty"`
	IssuedAt          time.Time        `db:"issued_at" json:"issuedAt"`
	ClaimedAt         *time.Time       `db:"claimed_at" json:"claimedAt,omitempty"`
	VerifiedAt        *time.Time       `db:"verified_at" json:"verifiedAt,omitempty"`
	DisbursedAt       *time.Time       `db:"disbursed_at" json:"disbursedAt,omitempty"`
	RejectedAt        *time.Time       `db:"rejected_at" json:"rejectedAt,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updatedAt"`
}

type CreateCredentialRecordParams struct {
	CaseID          string
	TransactionID   string
	CertificateNo   string
	IssuerReference *json.RawMessage
	Mock            bool
	IssuedAt        time.Time
}

// TransitionParams describes a compare-and-swap status change. Timestamps are
// only written when the column is still NULL.
type TransitionParams struct {
	RecordID          string
	To                CredentialStatus
	At                time.Time
	VerifierReference *json.RawMessage
	RejectReason      *string
}
