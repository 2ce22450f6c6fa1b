package target

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ConnectionError reports a failed connect; no RPC was attempted.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RPCError reports a call that got no response: transport failure,
// timeout or cancellation.
type RPCError struct {
	Op  string
	Key string
	Err error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is or wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsRPCError reports whether err is or wraps an *RPCError.
func IsRPCError(err error) bool {
	var re *RPCError
	return errors.As(err, &re)
}

// grpcTransportFailure reports whether a gRPC error means the call never
// reached a handler that produced a status.
func grpcTransportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return true
	}
	return false
}
