package target

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/momentohq/client-sdk-go/auth"
	"github.com/momentohq/client-sdk-go/config"
	"github.com/momentohq/client-sdk-go/config/logger/momento_default_logger"
	"github.com/momentohq/client-sdk-go/momento"
	"github.com/momentohq/client-sdk-go/responses"
	"google.golang.org/grpc/codes"
)

// MomentoConfig holds Momento connection configuration.
type MomentoConfig struct {
	APIKey    string
	CacheName string
	// DefaultTTL is required by Momento; values below a minute are raised.
	DefaultTTL time.Duration
	ConnCount  uint32
}

// MomentoConnector talks to a Momento serverless cache. The endpoint comes
// from the API key, so the address and transport toggles are ignored.
type MomentoConnector struct {
	Config MomentoConfig
}

func newMomentoClient(cfg MomentoConfig, eagerConnectTimeout time.Duration) (momento.CacheClient, error) {
	var credential auth.CredentialProvider
	var err error
	loggerFactory := momento_default_logger.NewDefaultMomentoLoggerFactory(momento_default_logger.WARN)

	if cfg.APIKey != "" {
		credential, err = auth.NewStringMomentoTokenProvider(cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create string token provider: %w", err)
		}
	} else {
		credential, err = auth.NewEnvMomentoTokenProvider("MOMENTO_API_KEY")
		if err != nil {
			return nil, fmt.Errorf("failed to get Momento credentials: %w", err)
		}
	}

	defaultTTL := cfg.DefaultTTL
	if defaultTTL < time.Minute {
		defaultTTL = time.Minute
	}
	connCount := cfg.ConnCount
	if connCount < 1 {
		connCount = 1
	}

	return momento.NewCacheClientWithEagerConnectTimeout(
		config.LaptopLatestWithLogger(loggerFactory).WithNumGrpcChannels(connCount),
		credential,
		defaultTTL,
		eagerConnectTimeout,
	)
}

// EnsureMomentoCache creates the cache once, before the run, so iterations
// never race to create it.
func EnsureMomentoCache(ctx context.Context, cfg MomentoConfig) error {
	client, err := newMomentoClient(cfg, 0)
	if err != nil {
		return fmt.Errorf("failed to create Momento client: %w", err)
	}
	defer client.Close()

	_, err = client.CreateCache(ctx, &momento.CreateCacheRequest{CacheName: cfg.CacheName})
	if err != nil && !strings.Contains(err.Error(), "already exists") && !strings.Contains(err.Error(), "AlreadyExists") {
		return fmt.Errorf("failed to create cache %q: %w", cfg.CacheName, err)
	}
	return nil
}

func (mc MomentoConnector) Connect(ctx context.Context, address string, opts Options) (Client, error) {
	client, err := newMomentoClient(mc.Config, opts.ConnectTimeout)
	if err != nil {
		return nil, &ConnectionError{Address: "momento/" + mc.Config.CacheName, Err: err}
	}
	return &MomentoClient{client: client, cacheName: mc.Config.CacheName}, nil
}

// MomentoClient implements Client for Momento
type MomentoClient struct {
	client    momento.CacheClient
	cacheName string
}

func momentoResult(op, key string, err error) (codes.Code, string, error) {
	if err == nil {
		return codes.OK, "OK", nil
	}
	var merr momento.MomentoError
	if !errors.As(err, &merr) {
		return codes.Unknown, "", &RPCError{Op: op, Key: key, Err: err}
	}
	switch merr.Code() {
	case momento.TimeoutError, momento.ServerUnavailableError, momento.CanceledError:
		return codes.Unknown, "", &RPCError{Op: op, Key: key, Err: err}
	case momento.NotFoundError:
		return codes.NotFound, merr.Message(), nil
	case momento.LimitExceededError:
		return codes.ResourceExhausted, merr.Message(), nil
	}
	return codes.Unknown, merr.Message(), nil
}

func (m *MomentoClient) Set(ctx context.Context, key, value string) (*Response, error) {
	_, err := m.client.Set(ctx, &momento.SetRequest{
		CacheName: m.cacheName,
		Key:       momento.String(key),
		Value:     momento.String(value),
	})
	code, msg, err := momentoResult(OpSet, key, err)
	if err != nil {
		return nil, err
	}
	return &Response{Status: code, Message: msg}, nil
}

func (m *MomentoClient) Get(ctx context.Context, key string) (*GetResponse, error) {
	resp, err := m.client.Get(ctx, &momento.GetRequest{
		CacheName: m.cacheName,
		Key:       momento.String(key),
	})
	code, msg, err := momentoResult(OpGet, key, err)
	if err != nil {
		return nil, err
	}
	return momentoGetResponse(resp, code, msg), nil
}

// momentoGetResponse reports a miss as NotFound, like the gRPC service.
func momentoGetResponse(resp responses.GetResponse, code codes.Code, msg string) *GetResponse {
	out := &GetResponse{Status: code, Message: msg}
	switch r := resp.(type) {
	case *responses.GetHit:
		out.Found = true
		out.Value = r.ValueString()
	case *responses.GetMiss:
		out.Status = codes.NotFound
		out.Message = "key not found"
	}
	return out
}

func (m *MomentoClient) Delete(ctx context.Context, key string) (*Response, error) {
	_, err := m.client.Delete(ctx, &momento.DeleteRequest{
		CacheName: m.cacheName,
		Key:       momento.String(key),
	})
	code, msg, err := momentoResult(OpDelete, key, err)
	if err != nil {
		return nil, err
	}
	return &Response{Status: code, Message: msg}, nil
}

func (m *MomentoClient) Close() error {
	m.client.Close()
	return nil
}

func (m *MomentoClient) Name() string {
	return "Momento"
}
