package utils

import "errors"

var (
	ErrUserIDNotFound = errors.New("authentication required: passenger not found")
	ErrUnauthorized   = errors.New("unauthorized access")
)
