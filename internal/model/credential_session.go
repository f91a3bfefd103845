package model

import "time"

// CredentialSession is a short-lived QR interaction. ExpiresAt is fixed at
// creation and Status only moves forward from pending.
type CredentialSession struct {
	ID            string            `json:"id"`
	Kind          SessionKind       `json:"kind"`
	Challenge     string            `json:"challenge"`
	Status        SessionStatus     `json:"status"`
	TransactionID string            `json:"transactionId,omitempty"`
	ServiceRef    string            `json:"serviceRef,omitempty"`
	HolderInfo    map[string]string `json:"holderInfo,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	ExpiresAt     time.Time         `json:"expiresAt"`
	ResolvedAt    *time.Time        `json:"resolvedAt,omitempty"`
}

func (s *CredentialSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func (s *CredentialSession) Pending() bool {
	return s.Status == SessionStatusPending
}

// ExpiresIn returns whole seconds left, never negative.
func (s *CredentialSession) ExpiresIn(now time.Time) int {
	left := int(s.ExpiresAt.Sub(now).Seconds())
	if left < 0 {
		return 0
	}
	return left
}
