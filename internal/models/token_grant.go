package models

import "time"

// TokenGrant is one immutable entry of the token ledger
type TokenGrant struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"userId" db:"user_id"`
	Amount         int64     `json:"amount" db:"amount"`
	VerificationID string    `json:"verificationId" db:"verification_id"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}
