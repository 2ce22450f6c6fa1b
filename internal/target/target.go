// Package target connects to the cache service under test and issues the
// Set, Get and Delete calls of one iteration.
package target

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
)

// Operation names, used for errors, stats and log fields.
const (
	OpSet    = "set"
	OpGet    = "get"
	OpDelete = "delete"
)

// Options control how a connection is established.
type Options struct {
	Plaintext          bool
	ServiceDiscovery   bool
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// Response is the reply to Set and Delete.
type Response struct {
	Status  codes.Code
	Message string
}

// GetResponse is the reply to Get. Value carries the encoded value text.
type GetResponse struct {
	Status  codes.Code
	Found   bool
	Value   string
	Message string
}

// Client is an open connection to the cache service. A returned error is
// always an *RPCError and means no response arrived; a delivered non-OK
// status comes back as a response.
type Client interface {
	Set(ctx context.Context, key, value string) (*Response, error)
	Get(ctx context.Context, key string) (*GetResponse, error)
	Delete(ctx context.Context, key string) (*Response, error)
	Close() error
	Name() string
}

// Connector opens clients. Errors are *ConnectionError.
type Connector interface {
	Connect(ctx context.Context, address string, opts Options) (Client, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, address string, opts Options) (Client, error)

func (f ConnectorFunc) Connect(ctx context.Context, address string, opts Options) (Client, error) {
	return f(ctx, address, opts)
}

func connectContext(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	if opts.ConnectTimeout > 0 {
		return context.WithTimeout(ctx, opts.ConnectTimeout)
	}
	return context.WithCancel(ctx)
}
