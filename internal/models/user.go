package models

import "time"

type User struct {
	ID           string
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	CreatedAt    time.Time
}
