package types

import "errors"

// Request validation errors. Their text is echoed back to the client.
var (
	ErrMalformedFrame  = errors.New("frame is not a valid JSON object")
	ErrEmptyUsername   = errors.New("username is required")
	ErrUnknownTarget   = errors.New("unknown target")
	ErrMissingReceiver = errors.New("receiver is required for one_to_one")
	ErrFrameTooLarge   = errors.New("frame exceeds size limit")
)
