package config

import (
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/dreamware/torua-kv/internal/logging"
	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/status"
)

const (
	// EnvPrefix prefixes every environment override, e.g. TORUA_NODE_LISTEN
	EnvPrefix = "TORUA"

	DefaultCoordinator = "http://127.0.0.1:8080"
	DefaultNodeListen  = ":8081"
	DefaultReplicas    = 2
)

// Log configures the process logger
type Log struct {
	Level  logging.Level `json:"level"  mapstructure:"level"`
	Format string        `json:"format" mapstructure:"format"`
}

// Client configures a client process
type Client struct {
	Coordinator      string         `json:"coordinator"       mapstructure:"coordinator"`
	RefreshInterval  time.Duration  `json:"refresh_interval"  mapstructure:"refresh_interval"`
	BatchConcurrency int            `json:"batch_concurrency" mapstructure:"batch_concurrency"`
	Policy           map[string]any `json:"policy,omitempty"  mapstructure:"policy"`
	Log              Log            `json:"log"               mapstructure:"log"`
}

// Options decodes the configured policy bag into a policy layer
func (c *Client) Options() (policy.Options, error) {
	return policy.ParseOptions(c.Policy)
}

// Node configures a storage node
type Node struct {
	ID          string        `json:"id"           mapstructure:"id"`
	Listen      string        `json:"listen"       mapstructure:"listen"`
	Addr        string        `json:"addr"         mapstructure:"addr"`
	Coordinator string        `json:"coordinator"  mapstructure:"coordinator"`
	DataDir     string        `json:"data_dir"     mapstructure:"data_dir"`
	DefaultTTL  time.Duration `json:"default_ttl"  mapstructure:"default_ttl"`
	Standalone  bool          `json:"standalone"   mapstructure:"standalone"`
	Log         Log           `json:"log"          mapstructure:"log"`
}

// Coordinator configures the partition map service
type Coordinator struct {
	Listen         string        `json:"listen"          mapstructure:"listen"`
	Replicas       int           `json:"replicas"        mapstructure:"replicas"`
	HealthInterval time.Duration `json:"health_interval" mapstructure:"health_interval"`
	Log            Log           `json:"log"             mapstructure:"log"`
}

func newViper(section, file string) (*viper.Viper, error) {
	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)
	v.SetEnvPrefix(EnvPrefix + "_" + strings.ToUpper(section))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, status.Wrap(status.ErrParam, err, "read config %s", file)
		}
	}
	return v, nil
}

func unmarshal(v *viper.Viper, out any) error {
	hooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(out, viper.DecodeHook(hooks)); err != nil {
		return status.Wrap(status.ErrParam, err, "failed to load configuration")
	}
	return nil
}

func bind(v *viper.Viper, defaults map[string]any) {
	for k, d := range defaults {
		_ = v.BindEnv(k)
		v.SetDefault(k, d)
	}
}

// LoadClient reads the client configuration from file (optional) and
// TORUA_CLIENT_* environment variables.
func LoadClient(file string) (*Client, error) {
	v, err := newViper("client", file)
	if err != nil {
		return nil, err
	}
	bind(v, map[string]any{
		"coordinator":       DefaultCoordinator,
		"refresh_interval":  "5s",
		"batch_concurrency": 16,
	})

	cfg := &Client{}
	if err := unmarshal(v, cfg); err != nil {
		return nil, err
	}
	if cfg.BatchConcurrency <= 0 {
		return nil, status.New(status.ErrParam, "batch_concurrency must be positive, got %d", cfg.BatchConcurrency)
	}
	if _, err := cfg.Options(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadNode reads the node configuration from file (optional) and
// TORUA_NODE_* environment variables.
func LoadNode(file string) (*Node, error) {
	v, err := newViper("node", file)
	if err != nil {
		return nil, err
	}
	bind(v, map[string]any{
		"id":          "",
		"listen":      DefaultNodeListen,
		"addr":        "",
		"coordinator": DefaultCoordinator,
		"data_dir":    "",
		"default_ttl": "0s",
		"standalone":  false,
	})

	cfg := &Node{}
	if err := unmarshal(v, cfg); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		cfg.Addr = "localhost" + cfg.Listen
		if !strings.HasPrefix(cfg.Listen, ":") {
			cfg.Addr = cfg.Listen
		}
	}
	if cfg.DefaultTTL < 0 {
		return nil, status.New(status.ErrParam, "default_ttl must not be negative")
	}
	return cfg, nil
}

// LoadCoordinator reads the coordinator configuration from file (optional)
// and TORUA_COORDINATOR_* environment variables.
func LoadCoordinator(file string) (*Coordinator, error) {
	v, err := newViper("coordinator", file)
	if err != nil {
		return nil, err
	}
	bind(v, map[string]any{
		"listen":          ":8080",
		"replicas":        DefaultReplicas,
		"health_interval": "5s",
	})

	cfg := &Coordinator{}
	if err := unmarshal(v, cfg); err != nil {
		return nil, err
	}
	if cfg.Replicas < 1 {
		return nil, status.New(status.ErrParam, "replicas must be at least 1, got %d", cfg.Replicas)
	}
	return cfg, nil
}
