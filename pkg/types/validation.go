package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseRequest decodes and validates one request frame
// FUNCTIONAL DISCOVERY: Target defaulting happens here so every transport
// hands the router a request with a known target
func ParseRequest(frame []byte) (*Request, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 || frame[0] != '{' {
		return nil, ErrMalformedFrame
	}

	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if req.Target == "" {
		req.Target = TargetAll
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate ensures the request carries everything its target needs
func (r *Request) Validate() error {
	if r.Username == "" {
		return ErrEmptyUsername
	}
	if !IsValidTarget(r.Target) {
		return fmt.Errorf("%w: %q", ErrUnknownTarget, r.Target)
	}
	if r.Target == TargetOneToOne && r.Receiver == "" {
		return ErrMissingReceiver
	}
	return nil
}

// IsValidTarget checks if the target is one of the four known targets
func IsValidTarget(t Target) bool {
	switch t {
	case TargetHello, TargetAll, TargetOneToOne, TargetStatus:
		return true
	default:
		return false
	}
}
