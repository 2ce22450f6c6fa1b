package target

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/codes"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	ClusterMode  bool
	// Expiration applied to every Set; 0 means no expiry.
	Expiration time.Duration
}

// RedisConnector speaks the Redis protocol instead of gRPC. The address is
// either a redis:// or rediss:// URI or host:port. Service discovery has
// no meaning here and is ignored.
type RedisConnector struct {
	Config RedisConfig
}

func (rc RedisConnector) Connect(ctx context.Context, address string, opts Options) (Client, error) {
	ropts, err := redisOptions(address)
	if err != nil {
		return nil, &ConnectionError{Address: address, Err: err}
	}
	if !opts.Plaintext && ropts.TLSConfig == nil {
		ropts.TLSConfig = &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, // #nosec G402
			MinVersion:         tls.VersionTLS12,
		}
	}
	ropts.DialTimeout = opts.ConnectTimeout
	ropts.ReadTimeout = rc.Config.ReadTimeout
	ropts.WriteTimeout = rc.Config.WriteTimeout
	// Retries belong to the load runtime, not the client.
	ropts.MaxRetries = -1
	if rc.Config.PoolSize > 0 {
		ropts.PoolSize = rc.Config.PoolSize
	}

	var rdb redis.UniversalClient
	if rc.Config.ClusterMode {
		// Start with a single address, cluster discovery will find the others.
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        []string{ropts.Addr},
			Username:     ropts.Username,
			Password:     ropts.Password,
			TLSConfig:    ropts.TLSConfig,
			DialTimeout:  ropts.DialTimeout,
			ReadTimeout:  ropts.ReadTimeout,
			WriteTimeout: ropts.WriteTimeout,
			MaxRetries:   ropts.MaxRetries,
			PoolSize:     ropts.PoolSize,
		})
	} else {
		rdb = redis.NewClient(ropts)
	}

	ctx, cancel := connectContext(ctx, opts)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, &ConnectionError{Address: address, Err: err}
	}
	return &RedisClient{client: rdb, cluster: rc.Config.ClusterMode, expiration: rc.Config.Expiration}, nil
}

func redisOptions(address string) (*redis.Options, error) {
	if strings.HasPrefix(address, "redis://") || strings.HasPrefix(address, "rediss://") {
		return redis.ParseURL(address)
	}
	return &redis.Options{Addr: address}, nil
}

// RedisClient implements Client for Redis
type RedisClient struct {
	client     redis.UniversalClient
	cluster    bool
	expiration time.Duration
}

// redisResult maps a command error onto a status. Error replies from the
// server are delivered statuses; everything else never produced a reply.
func redisResult(op, key string, err error) (codes.Code, string, error) {
	if err == nil {
		return codes.OK, "OK", nil
	}
	if errors.Is(err, redis.Nil) {
		return codes.NotFound, "key not found", nil
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return codes.Unknown, rerr.Error(), nil
	}
	return codes.Unknown, "", &RPCError{Op: op, Key: key, Err: err}
}

func (r *RedisClient) Set(ctx context.Context, key, value string) (*Response, error) {
	code, msg, err := redisResult(OpSet, key, r.client.Set(ctx, key, value, r.expiration).Err())
	if err != nil {
		return nil, err
	}
	return &Response{Status: code, Message: msg}, nil
}

func (r *RedisClient) Get(ctx context.Context, key string) (*GetResponse, error) {
	value, err := r.client.Get(ctx, key).Result()
	code, msg, err := redisResult(OpGet, key, err)
	if err != nil {
		return nil, err
	}
	return &GetResponse{Status: code, Found: code == codes.OK, Value: value, Message: msg}, nil
}

func (r *RedisClient) Delete(ctx context.Context, key string) (*Response, error) {
	code, msg, err := redisResult(OpDelete, key, r.client.Del(ctx, key).Err())
	if err != nil {
		return nil, err
	}
	return &Response{Status: code, Message: msg}, nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) Name() string {
	if r.cluster {
		return "Redis Cluster"
	}
	return "Redis"
}
