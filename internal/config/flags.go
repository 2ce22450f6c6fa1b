package config

import (
	"github.com/spf13/pflag"
)

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"type":                 "target.type",
	"address":              "target.address",
	"plaintext":            "target.plaintext",
	"service-discovery":    "target.service-discovery",
	"insecure-skip-verify": "target.insecure-skip-verify",
	"connect-timeout":      "target.connect-timeout",
	"op-timeout":           "target.op-timeout",
	"redis-cluster-mode":   "target.redis.cluster-mode",
	"redis-pool-size":      "target.redis.pool-size",
	"redis-read-timeout":   "target.redis.read-timeout",
	"redis-write-timeout":  "target.redis.write-timeout",
	"redis-expiration":     "target.redis.expiration",
	"momento-api-key":      "target.momento.api-key",
	"momento-cache-name":   "target.momento.cache-name",
	"momento-create-cache": "target.momento.create-cache",
	"momento-default-ttl":  "target.momento.default-ttl",
	"momento-conn-count":   "target.momento.conn-count",
	"vus":                  "load.vus",
	"duration":             "load.duration",
	"graceful-stop":        "load.graceful-stop",
	"rps":                  "load.rps",
	"start-delay":          "load.start-delay",
	"key-prefix":           "workflow.key-prefix",
	"delete-modulus":       "workflow.delete-modulus",
	"delete-remainder":     "workflow.delete-remainder",
	"csv-output":           "output.csv",
	"metrics-addr":         "output.metrics-addr",
	"cloudwatch-enabled":   "output.cloudwatch.enabled",
	"cloudwatch-region":    "output.cloudwatch.region",
	"cloudwatch-namespace": "output.cloudwatch.namespace",
	"log-level":            "output.log-level",
	"log-format":           "output.log-format",
	"quiet":                "output.quiet",
	"pprof-addr":           "output.pprof-addr",
	"cpu-profile":          "output.cpu-profile",
	"mem-profile":          "output.mem-profile",
}

// TargetFlags are shared by every command that talks to the cache.
func TargetFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.StringP("type", "t", d.Target.Type, "Target type: grpc, redis or momento")
	fs.StringP("address", "a", d.Target.Address, "Target address (host:port, or a redis:// URI)")
	fs.Bool("plaintext", d.Target.Plaintext, "Connect without TLS")
	fs.Bool("service-discovery", d.Target.ServiceDiscovery, "Resolve the service schema through server reflection")
	fs.Bool("insecure-skip-verify", d.Target.InsecureSkipVerify, "Skip TLS certificate verification")
	fs.Duration("connect-timeout", d.Target.ConnectTimeout, "Connection establishment timeout")
	fs.Duration("op-timeout", d.Target.OpTimeout, "Per-RPC timeout (0 = none)")

	fs.Bool("redis-cluster-mode", d.Target.Redis.ClusterMode, "Run the Redis client in cluster mode")
	fs.Int("redis-pool-size", d.Target.Redis.PoolSize, "Redis connection pool size per iteration")
	fs.Duration("redis-read-timeout", d.Target.Redis.ReadTimeout, "Redis read timeout")
	fs.Duration("redis-write-timeout", d.Target.Redis.WriteTimeout, "Redis write timeout")
	fs.Duration("redis-expiration", d.Target.Redis.Expiration, "TTL applied to Redis keys (0 = no expiration)")

	fs.String("momento-api-key", "", "Momento API key (or set MOMENTO_API_KEY env var)")
	fs.String("momento-cache-name", d.Target.Momento.CacheName, "Momento cache name")
	fs.Bool("momento-create-cache", d.Target.Momento.CreateCache, "Automatically create Momento cache if it doesn't exist")
	fs.Duration("momento-default-ttl", d.Target.Momento.DefaultTTL, "Default TTL for Momento entries (60s minimum)")
	fs.Int("momento-conn-count", d.Target.Momento.ConnCount, "Number of gRPC channels each Momento client opens")

	fs.String("key-prefix", d.Workflow.KeyPrefix, "Prefix for derived keys")
	fs.Int("delete-modulus", d.Workflow.DeleteModulus, "Delete the key when client id mod this equals delete-remainder")
	fs.Int("delete-remainder", d.Workflow.DeleteRemainder, "Remainder selecting the deleting clients")

	fs.String("log-level", d.Output.LogLevel, "Log level: trace, debug, info, warn, error")
	fs.String("log-format", d.Output.LogFormat, "Log format: text or json")
}

// LoadFlags are the run-only flags.
func LoadFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.IntP("vus", "c", d.Load.VUs, "Number of virtual users")
	fs.DurationP("duration", "d", d.Load.Duration, "How long to start new iterations")
	fs.Duration("graceful-stop", d.Load.GracefulStop, "Time in-flight iterations get to finish after the duration")
	fs.IntP("rps", "r", d.Load.RPS, "Iterations per second across all VUs (0 = unlimited)")
	fs.Duration("start-delay", d.Load.StartDelay, "Delay between VU starts (helps with connection storms)")

	fs.String("csv-output", "", "CSV file to log per-second metrics")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	fs.Bool("cloudwatch-enabled", false, "Enable CloudWatch metrics emission")
	fs.String("cloudwatch-region", d.Output.CloudWatch.Region, "AWS region for CloudWatch metrics")
	fs.String("cloudwatch-namespace", d.Output.CloudWatch.Namespace, "CloudWatch namespace for metrics")
	fs.Bool("quiet", false, "Suppress the per-second progress line")

	fs.String("pprof-addr", "", "Enable pprof HTTP server on address (e.g., localhost:6060)")
	fs.String("cpu-profile", "", "Write CPU profile to file")
	fs.String("mem-profile", "", "Write memory profile to file")
}
