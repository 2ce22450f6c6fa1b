package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "CACHELOAD"

// New returns a viper instance carrying every default and reading
// CACHELOAD_* variables, e.g. CACHELOAD_LOAD_VUS or
// CACHELOAD_TARGET_SERVICE_DISCOVERY.
func New() *viper.Viper {
	v := viper.New()
	walk("", reflect.ValueOf(*Default()), func(key string, value any) {
		v.SetDefault(key, value)
	})
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds each flag in fs that has a config key to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// Load reads file when set, then unmarshals and validates.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType(strings.TrimPrefix(filepath.Ext(file), "."))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// walk calls fn for every leaf of a config struct with its dotted key.
func walk(prefix string, v reflect.Value, fn func(key string, value any)) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("mapstructure")
		if prefix != "" {
			key = prefix + "." + key
		}
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			walk(key, field, fn)
			continue
		}
		fn(key, field.Interface())
	}
}

// YAML renders c in field order with durations in Go notation (e.g. 1m0s).
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(yamlNode(reflect.ValueOf(*c)))
}

func yamlNode(v reflect.Value) *yaml.Node {
	if d, ok := v.Interface().(time.Duration); ok {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: d.String()}
	}
	if v.Kind() != reflect.Struct {
		n := &yaml.Node{}
		if err := n.Encode(v.Interface()); err != nil {
			return &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprint(v.Interface())}
		}
		return n
	}

	n := &yaml.Node{Kind: yaml.MappingNode}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("yaml")
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: name},
			yamlNode(v.Field(i)),
		)
	}
	return n
}
