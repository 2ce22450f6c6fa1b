package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/redis-performance/grpc-cache-loadtest/internal/target"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultsMatchReferenceScript(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Target.Address)
	assert.True(t, cfg.Target.Plaintext)
	assert.True(t, cfg.Target.ServiceDiscovery)
	assert.Equal(t, 100, cfg.Load.VUs)
	assert.Equal(t, 60*time.Second, cfg.Load.Duration)
	assert.Equal(t, 30*time.Second, cfg.Load.GracefulStop)
	assert.Equal(t, "hello", cfg.Workflow.KeyPrefix)
	assert.Equal(t, 5, cfg.DeletionPolicy().Modulus)
	assert.Equal(t, 0, cfg.DeletionPolicy().Remainder)
	assert.IsType(t, target.GRPCConnector{}, cfg.Connector())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CACHELOAD_LOAD_VUS", "7")
	t.Setenv("CACHELOAD_LOAD_DURATION", "5s")
	t.Setenv("CACHELOAD_TARGET_SERVICE_DISCOVERY", "false")
	t.Setenv("CACHELOAD_WORKFLOW_KEY_PREFIX", "probe")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Load.VUs)
	assert.Equal(t, 5*time.Second, cfg.Load.Duration)
	assert.False(t, cfg.Target.ServiceDiscovery)
	assert.Equal(t, "probe", cfg.Workflow.KeyPrefix)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "load.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target:
  type: redis
  address: redis://cache:6380
  redis:
    cluster-mode: true
load:
  vus: 3
  graceful-stop: 2s
workflow:
  delete-modulus: 2
  delete-remainder: 1
`), 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, TargetRedis, cfg.Target.Type)
	assert.True(t, cfg.Target.Redis.ClusterMode)
	assert.Equal(t, 3, cfg.Load.VUs)
	assert.Equal(t, 2*time.Second, cfg.Load.GracefulStop)
	assert.Equal(t, 60*time.Second, cfg.Load.Duration, "unset keys keep defaults")
	assert.True(t, cfg.DeletionPolicy().ShouldDelete(3))
	assert.Equal(t, []int{6380}, cfg.TargetPorts())
	assert.IsType(t, target.RedisConnector{}, cfg.Connector())
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("CACHELOAD_LOAD_VUS", "7")

	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	TargetFlags(fs)
	LoadFlags(fs)
	require.NoError(t, fs.Parse([]string{"--vus", "12", "--address", "10.0.0.1:9000", "--plaintext=false"}))

	v := New()
	require.NoError(t, BindFlags(v, fs))
	cfg, err := Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Load.VUs)
	assert.Equal(t, "10.0.0.1:9000", cfg.Target.Address)
	assert.False(t, cfg.TargetOptions().Plaintext)
	assert.Equal(t, 60*time.Second, cfg.Load.Duration, "unchanged flags do not override")
}

func TestEveryFlagHasAKey(t *testing.T) {
	fs := pflag.NewFlagSet("all", pflag.ContinueOnError)
	TargetFlags(fs)
	LoadFlags(fs)

	keys := map[string]bool{}
	walk("", reflect.ValueOf(*Default()), func(key string, _ any) { keys[key] = true })

	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if assert.True(t, ok, "flag %s is not bound", f.Name) {
			assert.True(t, keys[key], "flag %s maps to unknown key %s", f.Name, key)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"modulus zero", func(c *Config) { c.Workflow.DeleteModulus = 0 }},
		{"remainder out of range", func(c *Config) { c.Workflow.DeleteRemainder = 5 }},
		{"unknown type", func(c *Config) { c.Target.Type = "memcached" }},
		{"no address", func(c *Config) { c.Target.Address = "" }},
		{"no vus", func(c *Config) { c.Load.VUs = 0 }},
		{"zero duration", func(c *Config) { c.Load.Duration = 0 }},
		{"connect timeout", func(c *Config) { c.Target.ConnectTimeout = 0 }},
		{"log level", func(c *Config) { c.Output.LogLevel = "loud" }},
		{"log format", func(c *Config) { c.Output.LogFormat = "xml" }},
		{"cloudwatch region", func(c *Config) {
			c.Output.CloudWatch.Enabled = true
			c.Output.CloudWatch.Region = ""
		}},
		{"momento cache", func(c *Config) {
			c.Target.Type = TargetMomento
			c.Target.Momento.CacheName = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	momento := Default()
	momento.Target.Type = TargetMomento
	momento.Target.Address = ""
	assert.NoError(t, momento.Validate(), "momento needs no address")
	assert.Nil(t, momento.TargetPorts())
}

func TestTargetPorts(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []int{8080}, cfg.TargetPorts())

	cfg.Target.Type = TargetRedis
	cfg.Target.Address = "rediss://user:pw@cache.example.com:6390/0"
	assert.Equal(t, []int{6390}, cfg.TargetPorts())

	cfg.Target.Address = "redis://cache.example.com"
	assert.Equal(t, []int{6379}, cfg.TargetPorts())
}

func TestYAML(t *testing.T) {
	cfg := Default()
	cfg.Target.Momento.APIKey = "secret"

	out, err := cfg.Redacted().YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "duration: 1m0s")
	assert.Contains(t, string(out), "service-discovery: true")
	assert.NotContains(t, string(out), "secret")
	assert.Equal(t, "secret", cfg.Target.Momento.APIKey, "original is untouched")

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Contains(t, back, "target")
	assert.Contains(t, back, "output")
}
