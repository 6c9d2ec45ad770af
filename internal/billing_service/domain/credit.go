package domain

import "time"

// AccountCredit is the authoritative credit balance of one account.
// Credits never drop below zero.
type AccountCredit struct {
	AccountID string    `json:"account_id"`
	Credits   int64     `json:"credits"`
	UpdatedAt time.Time `json:"updated_at"`
}
