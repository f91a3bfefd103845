package model

import (
	"encoding/json"
	"time"
)

type CredentialHistoryEntry struct {
	ID             string           `db:"id" json:"id"`
	CaseID         string           `db:"case_id" json:"caseId"`
	UserID         *string          `db:"user_id" json:"userId,omitempty"`
	ActionType     HistoryAction    `db:"action_type" json:"actionType"`
	Status         CredentialStatus `db:"status" json:"status"`
	CredentialType CredentialType   `db:"credential_type" json:"credentialType,omitempty"`
	Organization   string           `db:"organization" json:"organization"`
	Location       *json.RawMessage `db:"location" json:"location,omitempty"`
	TransactionID  string           `db:"transaction_id" json:"transactionId"`
	Notes          *string          `db:"notes" json:"notes,omitempty"`
	ActionTime     time.Time        `db:"action_time" json:"actionTime"`
}

type CreateHistoryEntryParams struct {
	CaseID         string
	UserID         *string
	ActionType     HistoryAction
	Status         CredentialStatus
	CredentialType CredentialType
	Organization   string
	Location       *Location
	TransactionID  string
	Notes          *string
	ActionTime     time.Time
}

// Location is where a verification happened, e.g. a kiosk in a convenience store.
type Location struct {
	Type      string   `json:"type,omitempty"`
	StoreID   string   `json:"storeId,omitempty"`
	Address   string   `json:"address,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type HistoryFilter struct {
	Organization string
	ActionType   HistoryAction
	CaseID       string
	From         *time.Time
	To           *time.Time
}

type GroupCount struct {
	Key   string `db:"key" json:"key"`
	Count int    `db:"count" json:"count"`
}

type Statistics struct {
	IssuedCount    int            `json:"issuedCount"`
	ClaimedCount   int            `json:"claimedCount"`
	VerifiedCount  int            `json:"verifiedCount"`
	ByOrganization map[string]int `json:"byOrganization"`
	ByType         map[string]int `json:"byType"`
}
