package errors

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameExists     = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrNilUser            = errors.New("user is nil")
	ErrAccountExists      = errors.New("account already exists for user")
	ErrAccountNotFound    = errors.New("account not found")
	ErrNothingUpdated     = errors.New("no user found or no modifications made")
	ErrProvisioningFailed = errors.New("failed to provision user account")
	ErrInternal           = errors.New("internal error")
)
