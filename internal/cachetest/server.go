// Package cachetest runs an in-memory cache.CacheService on a bufconn
// listener so the harness can be tested end to end without a network.
package cachetest

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/redis-performance/grpc-cache-loadtest/internal/protocol"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Target is the address clients should dial; the bufconn dialer ignores it.
const Target = "passthrough:///bufnet"

// Options tweak the fake service behaviour.
type Options struct {
	// NoReflection leaves the reflection service unregistered.
	NoReflection bool
	// CorruptValues makes Get return a different value than was stored.
	CorruptValues bool
	// SetStatus, when not OK, is returned by every Set.
	SetStatus codes.Code
}

// Server is a running fake cache service.
type Server struct {
	opts     Options
	grpc     *grpc.Server
	listener *bufconn.Listener
	service  protoreflect.ServiceDescriptor

	mu    sync.Mutex
	store map[string][]byte

	calls sync.Map // method name -> *atomic.Int64
}

// Start launches a server and registers its shutdown with t.Cleanup.
func Start(t testing.TB, opts Options) *Server {
	t.Helper()

	sd, err := protocol.Compiled()
	if err != nil {
		t.Fatalf("cachetest: %v", err)
	}
	s := &Server{
		opts:     opts,
		grpc:     grpc.NewServer(),
		listener: bufconn.Listen(1 << 20),
		service:  sd,
		store:    make(map[string][]byte),
	}
	s.grpc.RegisterService(s.serviceDesc(), s)

	if !opts.NoReflection {
		files, err := protocol.Registry()
		if err != nil {
			t.Fatalf("cachetest: %v", err)
		}
		rpb.RegisterServerReflectionServer(s.grpc, reflection.NewServerV1(reflection.ServerOptions{
			Services:           s.grpc,
			DescriptorResolver: files,
		}))
	}

	go func() { _ = s.grpc.Serve(s.listener) }()
	t.Cleanup(s.Stop)
	return s
}

// Stop closes the listener and all open connections.
func (s *Server) Stop() {
	s.grpc.Stop()
}

// DialOptions returns the dial options routing Target to this server.
func (s *Server) DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return s.listener.DialContext(ctx)
		}),
	}
}

// Calls returns how many times method was invoked.
func (s *Server) Calls(method string) int64 {
	v, ok := s.calls.Load(method)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Keys returns the number of stored keys.
func (s *Server) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.store)
}

// Lookup returns the raw bytes stored under key.
func (s *Server) Lookup(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.store[key]
	return v, ok
}

func (s *Server) count(method string) {
	v, _ := s.calls.LoadOrStore(method, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (s *Server) serviceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: protocol.ServiceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			s.unary(protocol.MethodSet, s.handleSet),
			s.unary(protocol.MethodGet, s.handleGet),
			s.unary(protocol.MethodDelete, s.handleDelete),
		},
		Metadata: protocol.FileName,
	}
}

type handlerFunc func(ctx context.Context, req, resp *dynamicpb.Message) error

func (s *Server) unary(name string, h handlerFunc) grpc.MethodDesc {
	md := s.service.Methods().ByName(protoreflect.Name(name))
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := dynamicpb.NewMessage(md.Input())
			if err := dec(req); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, in any) (any, error) {
				s.count(name)
				resp := dynamicpb.NewMessage(md.Output())
				if err := h(ctx, in.(*dynamicpb.Message), resp); err != nil {
					return nil, err
				}
				return resp, nil
			}
			if interceptor == nil {
				return call(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: protocol.FullMethod(s.service, name)}
			return interceptor(ctx, req, info, call)
		},
	}
}

func getString(m *dynamicpb.Message, name string) string {
	return m.Get(m.Descriptor().Fields().ByName(protoreflect.Name(name))).String()
}

func getBytes(m *dynamicpb.Message, name string) []byte {
	return m.Get(m.Descriptor().Fields().ByName(protoreflect.Name(name))).Bytes()
}

func setField(m *dynamicpb.Message, name string, v protoreflect.Value) {
	m.Set(m.Descriptor().Fields().ByName(protoreflect.Name(name)), v)
}

func (s *Server) handleSet(_ context.Context, req, resp *dynamicpb.Message) error {
	if s.opts.SetStatus != codes.OK {
		return status.Error(s.opts.SetStatus, "set rejected")
	}
	key := getString(req, "key")
	if key == "" {
		return status.Error(codes.InvalidArgument, "key must not be empty")
	}
	value := append([]byte(nil), getBytes(req, "value")...)

	s.mu.Lock()
	s.store[key] = value
	s.mu.Unlock()

	setField(resp, "success", protoreflect.ValueOfBool(true))
	setField(resp, "message", protoreflect.ValueOfString("OK"))
	return nil
}

func (s *Server) handleGet(_ context.Context, req, resp *dynamicpb.Message) error {
	key := getString(req, "key")

	s.mu.Lock()
	value, ok := s.store[key]
	s.mu.Unlock()
	if !ok {
		return status.Errorf(codes.NotFound, "key %q not found", key)
	}
	if s.opts.CorruptValues {
		value = append([]byte("corrupt:"), value...)
	}

	setField(resp, "found", protoreflect.ValueOfBool(true))
	setField(resp, "message", protoreflect.ValueOfString("found"))
	setField(resp, "value", protoreflect.ValueOfBytes(value))
	return nil
}

func (s *Server) handleDelete(_ context.Context, req, resp *dynamicpb.Message) error {
	key := getString(req, "key")

	s.mu.Lock()
	delete(s.store, key)
	s.mu.Unlock()

	setField(resp, "success", protoreflect.ValueOfBool(true))
	setField(resp, "message", protoreflect.ValueOfString("deleted"))
	return nil
}
