package models

import "time"

// Account holds the balance provisioned for a user at signup.
// Exactly one account exists per user; balance is in the smallest
// currency unit.
type Account struct {
	OwnerID   string
	Balance   int64
	CreatedAt time.Time
}
