package model

type CredentialStatus string

const (
	CredentialStatusIssued    CredentialStatus = "issued"
	CredentialStatusClaimed   CredentialStatus = "claimed"
	CredentialStatusVerified  CredentialStatus = "verified"
	CredentialStatusDisbursed CredentialStatus = "disbursed"
	CredentialStatusRejected  CredentialStatus = "rejected"
)

type SessionKind string

const (
	SessionKindLogin        SessionKind = "login"
	SessionKindIssuance     SessionKind = "issuance"
	SessionKindPresentation SessionKind = "presentation"
)

func (k SessionKind) Valid() bool {
	switch k {
	case SessionKindLogin, SessionKindIssuance, SessionKindPresentation:
		return true
	}
	return false
}

type SessionStatus string

const (
	SessionStatusPending  SessionStatus = "pending"
	SessionStatusVerified SessionStatus = "verified"
	SessionStatusExpired  SessionStatus = "expired"
	SessionStatusFailed   SessionStatus = "failed"
)

type HistoryAction string

const (
	HistoryActionIssued   HistoryAction = "credential_issued"
	HistoryActionClaimed  HistoryAction = "credential_claimed"
	HistoryActionVerified HistoryAction = "credential_verified"
)

func (a HistoryAction) Valid() bool {
	switch a {
	case HistoryActionIssued, HistoryActionClaimed, HistoryActionVerified:
		return true
	}
	return false
}

// DisbursementMethod is how a verified subsidy is paid out.
type DisbursementMethod string

const (
	DisbursementBankTransfer DisbursementMethod = "bank_transfer"
	DisbursementCheck        DisbursementMethod = "check"
	DisbursementCash         DisbursementMethod = "cash"
)

func (m DisbursementMethod) Valid() bool {
	switch m {
	case DisbursementBankTransfer, DisbursementCheck, DisbursementCash:
		return true
	}
	return false
}

// CredentialType is the closed set of credential variants a kiosk presentation
// can carry. Authority-specific type ids are mapped onto it by the gateway.
type CredentialType string

const (
	CredentialTypeIdentityProof     CredentialType = "identity-proof"
	CredentialTypeSubsidyRelief     CredentialType = "subsidy-relief"
	CredentialTypePropertyOwnership CredentialType = "property-ownership"
	CredentialTypeUnknown           CredentialType = ""
)

// KnownCredentialTypes lists every variant the verification dispatcher must handle.
var KnownCredentialTypes = []CredentialType{
	CredentialTypeIdentityProof,
	CredentialTypeSubsidyRelief,
	CredentialTypePropertyOwnership,
}

const (
	CaseStatusApproved  = "approved"
	CaseStatusCompleted = "completed"
)
