package target

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis-performance/grpc-cache-loadtest/internal/protocol"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// GRPCConnector connects to a cache.CacheService over gRPC.
type GRPCConnector struct {
	// DialOptions are appended after the transport credentials.
	DialOptions []grpc.DialOption
}

func (g GRPCConnector) Connect(ctx context.Context, address string, opts Options) (Client, error) {
	var creds credentials.TransportCredentials
	if opts.Plaintext {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(&tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, // #nosec G402
			MinVersion:         tls.VersionTLS12,
		})
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, g.DialOptions...)

	conn, err := grpc.NewClient(address, dialOpts...)
	if err != nil {
		return nil, &ConnectionError{Address: address, Err: err}
	}

	client, err := newGRPCClient(ctx, conn, opts)
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{Address: address, Err: err}
	}
	return client, nil
}

func newGRPCClient(ctx context.Context, conn *grpc.ClientConn, opts Options) (*grpcClient, error) {
	ctx, cancel := connectContext(ctx, opts)
	defer cancel()

	if err := waitReady(ctx, conn); err != nil {
		return nil, err
	}

	var (
		sd  protoreflect.ServiceDescriptor
		err error
	)
	if opts.ServiceDiscovery {
		sd, err = protocol.Discover(ctx, conn, protocol.ServiceName)
	} else {
		sd, err = protocol.Compiled()
	}
	if err != nil {
		return nil, err
	}

	c := &grpcClient{conn: conn, service: sd, methods: make(map[string]protoreflect.MethodDescriptor, 3)}
	for _, name := range []string{protocol.MethodSet, protocol.MethodGet, protocol.MethodDelete} {
		md, err := protocol.Method(sd, name)
		if err != nil {
			return nil, err
		}
		c.methods[name] = md
	}
	return c, nil
}

// waitReady drives the channel out of idle and waits for Ready. The first
// TransientFailure is returned as is; the channel's own reconnect backoff
// is not waited out.
func waitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure:
			return errors.New("channel entered TRANSIENT_FAILURE")
		case connectivity.Shutdown:
			return errors.New("channel is shut down")
		}
		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("waiting for channel (last state %s): %w", state, ctx.Err())
		}
	}
}

type grpcClient struct {
	conn    *grpc.ClientConn
	service protoreflect.ServiceDescriptor
	methods map[string]protoreflect.MethodDescriptor
}

// reply covers the fields of all three response messages as rendered by
// protojson; bytes fields arrive base64 encoded.
type reply struct {
	Success bool   `json:"success"`
	Found   bool   `json:"found"`
	Message string `json:"message"`
	Value   string `json:"value"`
}

var renderReply = protojson.MarshalOptions{EmitUnpopulated: true}

// invoke builds the request from fields with protojson, so string values
// destined for bytes fields must be base64, and decodes the reply the same
// way.
func (c *grpcClient) invoke(ctx context.Context, op, method, key string, fields map[string]string) (codes.Code, *reply, error) {
	md := c.methods[method]

	payload, err := json.Marshal(fields)
	if err != nil {
		return codes.Unknown, nil, &RPCError{Op: op, Key: key, Err: err}
	}
	req := dynamicpb.NewMessage(md.Input())
	if err := protojson.Unmarshal(payload, req); err != nil {
		return codes.Unknown, nil, &RPCError{Op: op, Key: key, Err: fmt.Errorf("building request: %w", err)}
	}

	resp := dynamicpb.NewMessage(md.Output())
	if err := c.conn.Invoke(ctx, protocol.FullMethod(c.service, method), req, resp); err != nil {
		if grpcTransportFailure(err) {
			return codes.Unknown, nil, &RPCError{Op: op, Key: key, Err: err}
		}
		st := status.Convert(err)
		return st.Code(), &reply{Message: st.Message()}, nil
	}

	raw, err := renderReply.Marshal(resp)
	if err != nil {
		return codes.Unknown, nil, &RPCError{Op: op, Key: key, Err: fmt.Errorf("rendering response: %w", err)}
	}
	var r reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return codes.Unknown, nil, &RPCError{Op: op, Key: key, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return codes.OK, &r, nil
}

func (c *grpcClient) Set(ctx context.Context, key, value string) (*Response, error) {
	code, r, err := c.invoke(ctx, OpSet, protocol.MethodSet, key, map[string]string{"key": key, "value": value})
	if err != nil {
		return nil, err
	}
	return &Response{Status: code, Message: r.Message}, nil
}

func (c *grpcClient) Get(ctx context.Context, key string) (*GetResponse, error) {
	code, r, err := c.invoke(ctx, OpGet, protocol.MethodGet, key, map[string]string{"key": key})
	if err != nil {
		return nil, err
	}
	return &GetResponse{Status: code, Found: r.Found, Value: r.Value, Message: r.Message}, nil
}

func (c *grpcClient) Delete(ctx context.Context, key string) (*Response, error) {
	code, r, err := c.invoke(ctx, OpDelete, protocol.MethodDelete, key, map[string]string{"key": key})
	if err != nil {
		return nil, err
	}
	return &Response{Status: code, Message: r.Message}, nil
}

func (c *grpcClient) Close() error {
	return c.conn.Close()
}

func (c *grpcClient) Name() string {
	return "gRPC"
}
