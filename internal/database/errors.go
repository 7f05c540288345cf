package database

import "errors"

var (
	ErrWriteTimeout = errors.New("write operation timeout")
	ErrUserNotFound = errors.New("user not found")
)
