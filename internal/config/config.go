// Package config holds the run configuration merged from flags, an
// optional config file and CACHELOAD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis-performance/grpc-cache-loadtest/internal/keyspace"
	"github.com/redis-performance/grpc-cache-loadtest/internal/runner"
	"github.com/redis-performance/grpc-cache-loadtest/internal/target"
	"github.com/sirupsen/logrus"
)

// Target types.
const (
	TargetGRPC    = "grpc"
	TargetRedis   = "redis"
	TargetMomento = "momento"
)

type Config struct {
	Target   TargetConfig   `mapstructure:"target" yaml:"target"`
	Load     LoadConfig     `mapstructure:"load" yaml:"load"`
	Workflow WorkflowConfig `mapstructure:"workflow" yaml:"workflow"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
}

type TargetConfig struct {
	Type               string        `mapstructure:"type" yaml:"type"`
	Address            string        `mapstructure:"address" yaml:"address"`
	Plaintext          bool          `mapstructure:"plaintext" yaml:"plaintext"`
	ServiceDiscovery   bool          `mapstructure:"service-discovery" yaml:"service-discovery"`
	InsecureSkipVerify bool          `mapstructure:"insecure-skip-verify" yaml:"insecure-skip-verify"`
	ConnectTimeout     time.Duration `mapstructure:"connect-timeout" yaml:"connect-timeout"`
	OpTimeout          time.Duration `mapstructure:"op-timeout" yaml:"op-timeout"`
	Redis              RedisConfig   `mapstructure:"redis" yaml:"redis"`
	Momento            MomentoConfig `mapstructure:"momento" yaml:"momento"`
}

type RedisConfig struct {
	ClusterMode  bool          `mapstructure:"cluster-mode" yaml:"cluster-mode"`
	PoolSize     int           `mapstructure:"pool-size" yaml:"pool-size"`
	ReadTimeout  time.Duration `mapstructure:"read-timeout" yaml:"read-timeout"`
	WriteTimeout time.Duration `mapstructure:"write-timeout" yaml:"write-timeout"`
	Expiration   time.Duration `mapstructure:"expiration" yaml:"expiration"`
}

type MomentoConfig struct {
	// APIKey falls back to the MOMENTO_API_KEY environment variable.
	APIKey      string        `mapstructure:"api-key" yaml:"api-key"`
	CacheName   string        `mapstructure:"cache-name" yaml:"cache-name"`
	CreateCache bool          `mapstructure:"create-cache" yaml:"create-cache"`
	DefaultTTL  time.Duration `mapstructure:"default-ttl" yaml:"default-ttl"`
	ConnCount   int           `mapstructure:"conn-count" yaml:"conn-count"`
}

type LoadConfig struct {
	VUs          int           `mapstructure:"vus" yaml:"vus"`
	Duration     time.Duration `mapstructure:"duration" yaml:"duration"`
	GracefulStop time.Duration `mapstructure:"graceful-stop" yaml:"graceful-stop"`
	RPS          int           `mapstructure:"rps" yaml:"rps"`
	StartDelay   time.Duration `mapstructure:"start-delay" yaml:"start-delay"`
}

type WorkflowConfig struct {
	KeyPrefix       string `mapstructure:"key-prefix" yaml:"key-prefix"`
	DeleteModulus   int    `mapstructure:"delete-modulus" yaml:"delete-modulus"`
	DeleteRemainder int    `mapstructure:"delete-remainder" yaml:"delete-remainder"`
}

type CloudWatchConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Region    string `mapstructure:"region" yaml:"region"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

type OutputConfig struct {
	CSV         string           `mapstructure:"csv" yaml:"csv"`
	MetricsAddr string           `mapstructure:"metrics-addr" yaml:"metrics-addr"`
	CloudWatch  CloudWatchConfig `mapstructure:"cloudwatch" yaml:"cloudwatch"`
	LogLevel    string           `mapstructure:"log-level" yaml:"log-level"`
	LogFormat   string           `mapstructure:"log-format" yaml:"log-format"`
	Quiet       bool             `mapstructure:"quiet" yaml:"quiet"`
	PprofAddr   string           `mapstructure:"pprof-addr" yaml:"pprof-addr"`
	CPUProfile  string           `mapstructure:"cpu-profile" yaml:"cpu-profile"`
	MemProfile  string           `mapstructure:"mem-profile" yaml:"mem-profile"`
}

// Default mirrors the reference load script: 100 VUs for 60 seconds
// against a plaintext server on 127.0.0.1:8080 with reflection.
func Default() *Config {
	return &Config{
		Target: TargetConfig{
			Type:             TargetGRPC,
			Address:          "127.0.0.1:8080",
			Plaintext:        true,
			ServiceDiscovery: true,
			ConnectTimeout:   10 * time.Second,
			OpTimeout:        10 * time.Second,
			Redis: RedisConfig{
				PoolSize:     1,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			},
			Momento: MomentoConfig{
				CacheName:   "test-cache",
				CreateCache: true,
				DefaultTTL:  time.Hour,
				ConnCount:   1,
			},
		},
		Load: LoadConfig{
			VUs:          100,
			Duration:     60 * time.Second,
			GracefulStop: runner.DefaultGracefulStop,
		},
		Workflow: WorkflowConfig{
			KeyPrefix:       keyspace.DefaultPrefix,
			DeleteModulus:   keyspace.DefaultDeletionPolicy().Modulus,
			DeleteRemainder: keyspace.DefaultDeletionPolicy().Remainder,
		},
		Output: OutputConfig{
			CloudWatch: CloudWatchConfig{
				Region:    "us-east-2",
				Namespace: "CacheLoadTest",
			},
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// Validate returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	switch c.Target.Type {
	case TargetGRPC, TargetRedis:
		if c.Target.Address == "" {
			errs = append(errs, errors.New("target.address is required"))
		}
	case TargetMomento:
		if c.Target.Momento.CacheName == "" {
			errs = append(errs, errors.New("target.momento.cache-name is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("target.type %q is not one of grpc, redis, momento", c.Target.Type))
	}
	if c.Target.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("target.connect-timeout must be positive"))
	}
	if c.Target.OpTimeout < 0 {
		errs = append(errs, errors.New("target.op-timeout must not be negative"))
	}

	if err := c.RunnerOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("load: %w", err))
	}
	if err := c.DeletionPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("workflow: %w", err))
	}

	if _, err := logrus.ParseLevel(c.Output.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("output.log-level: %w", err))
	}
	if c.Output.LogFormat != "text" && c.Output.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("output.log-format %q is not text or json", c.Output.LogFormat))
	}
	if c.Output.CloudWatch.Enabled && (c.Output.CloudWatch.Region == "" || c.Output.CloudWatch.Namespace == "") {
		errs = append(errs, errors.New("output.cloudwatch needs region and namespace when enabled"))
	}

	return errors.Join(errs...)
}

func (c *Config) DeletionPolicy() keyspace.DeletionPolicy {
	return keyspace.DeletionPolicy{Modulus: c.Workflow.DeleteModulus, Remainder: c.Workflow.DeleteRemainder}
}

func (c *Config) TargetOptions() target.Options {
	return target.Options{
		Plaintext:          c.Target.Plaintext,
		ServiceDiscovery:   c.Target.ServiceDiscovery,
		InsecureSkipVerify: c.Target.InsecureSkipVerify,
		ConnectTimeout:     c.Target.ConnectTimeout,
	}
}

func (c *Config) RunnerOptions() runner.Options {
	return runner.Options{
		VUs:          c.Load.VUs,
		Duration:     c.Load.Duration,
		GracefulStop: c.Load.GracefulStop,
		RPS:          c.Load.RPS,
		StartDelay:   c.Load.StartDelay,
	}
}

// Connector builds the client factory for the configured target type.
func (c *Config) Connector() target.Connector {
	switch c.Target.Type {
	case TargetRedis:
		return target.RedisConnector{Config: target.RedisConfig{
			ReadTimeout:  c.Target.Redis.ReadTimeout,
			WriteTimeout: c.Target.Redis.WriteTimeout,
			PoolSize:     c.Target.Redis.PoolSize,
			ClusterMode:  c.Target.Redis.ClusterMode,
			Expiration:   c.Target.Redis.Expiration,
		}}
	case TargetMomento:
		return target.MomentoConnector{Config: c.MomentoConfig()}
	default:
		return target.GRPCConnector{}
	}
}

func (c *Config) MomentoConfig() target.MomentoConfig {
	return target.MomentoConfig{
		APIKey:     c.Target.Momento.APIKey,
		CacheName:  c.Target.Momento.CacheName,
		DefaultTTL: c.Target.Momento.DefaultTTL,
		ConnCount:  uint32(max(c.Target.Momento.ConnCount, 1)),
	}
}

// TargetPorts are the remote ports whose connections the TCP monitor
// counts. Momento endpoints come from the API key, so none are known.
func (c *Config) TargetPorts() []int {
	if c.Target.Type == TargetMomento {
		return nil
	}
	addr := c.Target.Address
	if i := strings.Index(addr, "://"); i != -1 {
		addr = addr[i+3:]
		if j := strings.IndexAny(addr, "/?"); j != -1 {
			addr = addr[:j]
		}
		if k := strings.LastIndex(addr, "@"); k != -1 {
			addr = addr[k+1:]
		}
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		if c.Target.Type == TargetRedis {
			return []int{6379}
		}
		return nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil
	}
	return []int{port}
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Target.Momento.APIKey != "" {
		out.Target.Momento.APIKey = "REDACTED"
	}
	return &out
}
