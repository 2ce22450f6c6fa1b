package target

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/redis-performance/grpc-cache-loadtest/internal/cachetest"
	"github.com/redis-performance/grpc-cache-loadtest/internal/keyspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func plaintext(discovery bool) Options {
	return Options{Plaintext: true, ServiceDiscovery: discovery, ConnectTimeout: 2 * time.Second}
}

func connect(t *testing.T, srv *cachetest.Server, opts Options) Client {
	t.Helper()
	client, err := GRPCConnector{DialOptions: srv.DialOptions()}.Connect(context.Background(), cachetest.Target, opts)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestGRPCSetGetDelete(t *testing.T) {
	for _, discovery := range []bool{true, false} {
		srv := cachetest.Start(t, cachetest.Options{})
		client := connect(t, srv, plaintext(discovery))
		ctx := context.Background()

		key := "hello-5-0"
		setResp, err := client.Set(ctx, key, keyspace.Encode(key))
		require.NoError(t, err)
		assert.Equal(t, codes.OK, setResp.Status)

		raw, ok := srv.Lookup(key)
		require.True(t, ok)
		assert.Equal(t, []byte(key), raw, "bytes field carries the decoded value")

		getResp, err := client.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, codes.OK, getResp.Status)
		assert.True(t, getResp.Found)
		assert.Equal(t, keyspace.Encode(key), getResp.Value)

		delResp, err := client.Delete(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, codes.OK, delResp.Status)
		assert.Equal(t, 0, srv.Keys())
	}
}

func TestGRPCGetMissingIsStatusNotError(t *testing.T) {
	srv := cachetest.Start(t, cachetest.Options{})
	client := connect(t, srv, plaintext(true))

	resp, err := client.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, codes.NotFound, resp.Status)
	assert.False(t, resp.Found)
	assert.Empty(t, resp.Value)
}

func TestGRPCSetRejected(t *testing.T) {
	srv := cachetest.Start(t, cachetest.Options{SetStatus: codes.Aborted})
	client := connect(t, srv, plaintext(false))

	resp, err := client.Set(context.Background(), "k", keyspace.Encode("k"))
	require.NoError(t, err)
	assert.Equal(t, codes.Aborted, resp.Status)
}

func TestGRPCDiscoveryWithoutReflectionFails(t *testing.T) {
	srv := cachetest.Start(t, cachetest.Options{NoReflection: true})

	_, err := GRPCConnector{DialOptions: srv.DialOptions()}.Connect(context.Background(), cachetest.Target, plaintext(true))
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))

	client := connect(t, srv, plaintext(false))
	resp, err := client.Set(context.Background(), "k", keyspace.Encode("k"))
	require.NoError(t, err)
	assert.Equal(t, codes.OK, resp.Status)
}

func TestGRPCConnectFailure(t *testing.T) {
	refused := grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	})

	start := time.Now()
	_, err := GRPCConnector{DialOptions: []grpc.DialOption{refused}}.Connect(context.Background(), cachetest.Target, plaintext(true))
	require.Error(t, err)

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cachetest.Target, ce.Address)
	assert.Less(t, time.Since(start), 2*time.Second, "connect must not retry until the timeout")
}

func TestGRPCCallAfterServerStopIsRPCError(t *testing.T) {
	srv := cachetest.Start(t, cachetest.Options{})
	client := connect(t, srv, plaintext(false))
	srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := client.Get(ctx, "k")
	require.Error(t, err)

	var re *RPCError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, OpGet, re.Op)
	assert.Equal(t, "k", re.Key)
}

func TestGRPCInvalidEncodedValueIsRPCError(t *testing.T) {
	srv := cachetest.Start(t, cachetest.Options{})
	client := connect(t, srv, plaintext(false))

	_, err := client.Set(context.Background(), "k", "not base64!")
	assert.True(t, IsRPCError(err))
	assert.Zero(t, srv.Calls("Set"))
}

func TestGRPCTransportFailureClassification(t *testing.T) {
	assert.True(t, grpcTransportFailure(status.Error(codes.Unavailable, "down")))
	assert.True(t, grpcTransportFailure(status.Error(codes.DeadlineExceeded, "slow")))
	assert.True(t, grpcTransportFailure(context.Canceled))
	assert.False(t, grpcTransportFailure(status.Error(codes.NotFound, "miss")))
	assert.False(t, grpcTransportFailure(status.Error(codes.InvalidArgument, "bad")))
}
