package router

import "errors"

var (
	ErrNilStore    = errors.New("router requires a history store")
	ErrNilPresence = errors.New("router requires a presence tracker")
)
