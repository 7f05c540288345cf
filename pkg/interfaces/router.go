package interfaces

import (
	"context"

	"chatline/pkg/types"
)

// MessageRouter is the single point of policy for inbound requests
type MessageRouter interface {
	// Dispatch handles one validated request from conn
	Dispatch(ctx context.Context, conn Connection, req *types.Request)

	// Reject tells the requester its frame was dropped
	Reject(conn Connection, reason error)

	// Leave deregisters conn and announces departure if its user went offline
	Leave(ctx context.Context, conn Connection)
}
