package session

import "errors"

var (
	ErrManagerClosed = errors.New("session manager is shutting down")
	ErrNilConnection = errors.New("connection cannot be nil")
)
