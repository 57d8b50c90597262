package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tiagocmendes/restaurant-p2p/internal/restaurant"
)

// Config represents the application configuration
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Kitchen   KitchenConfig   `mapstructure:"kitchen"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Client    ClientConfig    `mapstructure:"client"`
}

// NodeConfig describes this process's place in the ring
type NodeConfig struct {
	Role     string `mapstructure:"role"`
	ID       int    `mapstructure:"id"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	RingSize int    `mapstructure:"ring_size"`
	// Rendezvous is the ring address joiners contact. Ignored when Initial.
	Rendezvous  string        `mapstructure:"rendezvous"`
	Initial     bool          `mapstructure:"initial"`
	RecvTimeout time.Duration `mapstructure:"recv_timeout"`
}

// HTTPConfig is the ops (and, on the drive-through, client) endpoint
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DiscoveryConfig points at the etcd cluster holding the rendezvous address
type DiscoveryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	Prefix      string        `mapstructure:"prefix"`
	LeaseTTL    int64         `mapstructure:"lease_ttl"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// EquipmentConfig is the normal distribution of one equipment's work time
type EquipmentConfig struct {
	Mean time.Duration `mapstructure:"mean"`
	Std  time.Duration `mapstructure:"std"`
}

type PriceConfig struct {
	Hamburger float64 `mapstructure:"hamburger"`
	Fries     float64 `mapstructure:"fries"`
	Drink     float64 `mapstructure:"drink"`
}

// KitchenConfig contains the restaurant simulation parameters
type KitchenConfig struct {
	TimeScale float64         `mapstructure:"time_scale"`
	Grill     EquipmentConfig `mapstructure:"grill"`
	Fryer     EquipmentConfig `mapstructure:"fryer"`
	Bar       EquipmentConfig `mapstructure:"bar"`
	Prices    PriceConfig     `mapstructure:"prices"`
	TicketTTL time.Duration   `mapstructure:"ticket_ttl"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ClientConfig bounds client calls through the drive-through window
type ClientConfig struct {
	Server  string        `mapstructure:"server"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RingAddr is the UDP address this node listens on.
func (c NodeConfig) RingAddr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

func (c HTTPConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Kitchen builds the simulation parameters for the restaurant roles.
func (c KitchenConfig) Kitchen() *restaurant.Kitchen {
	return &restaurant.Kitchen{
		Timings: map[restaurant.Equipment]restaurant.Timing{
			restaurant.Grill: {Mean: c.Grill.Mean, Std: c.Grill.Std},
			restaurant.Fryer: {Mean: c.Fryer.Mean, Std: c.Fryer.Std},
			restaurant.Bar:   {Mean: c.Bar.Mean, Std: c.Bar.Std},
		},
		TimeScale: c.TimeScale,
		Prices: restaurant.Prices{
			Hamburger: c.Prices.Hamburger,
			Fries:     c.Prices.Fries,
			Drink:     c.Prices.Drink,
		},
	}
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("drivethru")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/drivethru")
	}

	// Set defaults
	setDefaults(v)

	// Read environment variables, e.g. DRIVETHRU_NODE_ROLE
	v.SetEnvPrefix("DRIVETHRU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Node defaults: the drive-through bootstraps the ring
	v.SetDefault("node.role", restaurant.RoleDriveThrough)
	v.SetDefault("node.id", 0)
	v.SetDefault("node.host", "localhost")
	v.SetDefault("node.port", 5000)
	v.SetDefault("node.ring_size", restaurant.DefaultRingSize)
	v.SetDefault("node.rendezvous", "localhost:5000")
	v.SetDefault("node.initial", true)
	v.SetDefault("node.recv_timeout", "3s")

	// HTTP defaults
	v.SetDefault("http.host", "localhost")
	v.SetDefault("http.port", 8080)

	// Discovery defaults
	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.endpoints", []string{"http://localhost:2379"})
	v.SetDefault("discovery.prefix", "/drivethru")
	v.SetDefault("discovery.lease_ttl", 10)
	v.SetDefault("discovery.dial_timeout", "5s")

	// Kitchen defaults
	v.SetDefault("kitchen.time_scale", 1.0)
	v.SetDefault("kitchen.grill.mean", "3s")
	v.SetDefault("kitchen.grill.std", "500ms")
	v.SetDefault("kitchen.fryer.mean", "5s")
	v.SetDefault("kitchen.fryer.std", "500ms")
	v.SetDefault("kitchen.bar.mean", "1s")
	v.SetDefault("kitchen.bar.std", "500ms")
	v.SetDefault("kitchen.prices.hamburger", 5.0)
	v.SetDefault("kitchen.prices.fries", 2.0)
	v.SetDefault("kitchen.prices.drink", 1.0)
	v.SetDefault("kitchen.ticket_ttl", "10m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Client defaults
	v.SetDefault("client.server", "localhost:8080")
	v.SetDefault("client.timeout", "2m")
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	n := &config.Node
	if !restaurant.ValidRole(n.Role) {
		return fmt.Errorf("node.role %q is not one of Drive-Through, Clerk, Chef, Waiter", n.Role)
	}
	if n.ID < 0 {
		return fmt.Errorf("node.id must be non-negative")
	}
	if n.RingSize < 1 {
		return fmt.Errorf("node.ring_size must be at least 1")
	}
	if !n.Initial && n.Rendezvous == "" && !config.Discovery.Enabled {
		return fmt.Errorf("node.rendezvous is required unless node.initial or discovery.enabled is set")
	}
	if n.RecvTimeout <= 0 {
		return fmt.Errorf("node.recv_timeout must be positive")
	}

	// Validate port ranges
	if n.Port < 1 || n.Port > 65535 {
		return fmt.Errorf("node.port must be between 1 and 65535")
	}
	if config.HTTP.Port < 0 || config.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 0 and 65535")
	}

	if config.Discovery.Enabled {
		if len(config.Discovery.Endpoints) == 0 {
			return fmt.Errorf("discovery.endpoints is required when discovery is enabled")
		}
		if config.Discovery.LeaseTTL < 1 {
			return fmt.Errorf("discovery.lease_ttl must be at least 1 second")
		}
	}

	if config.Kitchen.TimeScale < 0 {
		return fmt.Errorf("kitchen.time_scale must not be negative")
	}
	if config.Metrics.Enabled && !strings.HasPrefix(config.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// GetDefaultConfig returns a default configuration
func GetDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	v.Unmarshal(&config)
	validateConfig(&config)

	return &config
}
