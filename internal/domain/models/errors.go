package models

import "errors"

var (
	ErrNotFound           = errors.New("no results found")
	ErrEmailTaken         = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrValidation         = errors.New("invalid request")
)
