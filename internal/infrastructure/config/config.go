package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration of the bridge.
// It is loaded from YAML and can be overridden by environment variables.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	KNX      KNXConfig      `yaml:"knx"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig identifies this app instance to the catalog and the bus.
type AppConfig struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"`
}

// CatalogConfig locates the remote device catalog.
type CatalogConfig struct {
	// URL is the catalog root; "/api/v1" is appended by the client.
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"` // seconds
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials. Both default from the app
// identity: username "app:<id>", password the app token.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// Echo modes for control writes.
const (
	// EchoShared echoes a control write as status only when the control
	// address is also one of the datapoint's status addresses.
	EchoShared = "shared"
	// EchoAlways echoes every control write of a statusable datapoint.
	EchoAlways = "always"
	// EchoNever disables optimistic echoes.
	EchoNever = "never"
)

// KNXConfig contains fieldbus gateway settings. The gateway host itself
// comes from the app's general configuration in the catalog.
type KNXConfig struct {
	Port              int    `yaml:"port"`
	ConnectTimeout    int    `yaml:"connect_timeout"`    // seconds
	ReconnectInterval int    `yaml:"reconnect_interval"` // seconds
	ReadOnBind        bool   `yaml:"read_on_bind"`
	LogEvents         bool   `yaml:"log_events"`
	EchoMode          string `yaml:"echo_mode"`
}

// DatabaseConfig contains SQLite settings for the provisioning journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// APIConfig contains admin HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeouts, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file.
//
// Loading order:
//  1. Defaults
//  2. YAML file
//  3. Environment variables (FORAKNX_SECTION_KEY)
//  4. Derived values (MQTT credentials, client id)
//
// Environment variables follow the pattern FORAKNX_SECTION_KEY, for
// example FORAKNX_MQTT_HOST or FORAKNX_DATABASE_PATH.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Timeout: 15,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		KNX: KNXConfig{
			Port:              6720,
			ConnectTimeout:    10,
			ReconnectInterval: 5,
			ReadOnBind:        true,
			EchoMode:          EchoShared,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/foraknx.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies FORAKNX_* environment variables.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"FORAKNX_APP_ID", &cfg.App.ID},
		{"FORAKNX_APP_TOKEN", &cfg.App.Token},
		{"FORAKNX_CATALOG_URL", &cfg.Catalog.URL},
		{"FORAKNX_MQTT_HOST", &cfg.MQTT.Broker.Host},
		{"FORAKNX_MQTT_USERNAME", &cfg.MQTT.Auth.Username},
		{"FORAKNX_MQTT_PASSWORD", &cfg.MQTT.Auth.Password},
		{"FORAKNX_DATABASE_PATH", &cfg.Database.Path},
		{"FORAKNX_INFLUXDB_TOKEN", &cfg.InfluxDB.Token},
		{"FORAKNX_LOG_LEVEL", &cfg.Logging.Level},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// applyDerived fills values that default from other settings.
func (c *Config) applyDerived() {
	if c.MQTT.Auth.Username == "" && c.App.ID != "" {
		c.MQTT.Auth.Username = "app:" + c.App.ID
	}
	if c.MQTT.Auth.Password == "" {
		c.MQTT.Auth.Password = c.App.Token
	}
	if c.MQTT.Broker.ClientID == "" {
		c.MQTT.Broker.ClientID = "foraknx-" + uuid.NewString()[:8]
	}
	c.KNX.EchoMode = strings.ToLower(strings.TrimSpace(c.KNX.EchoMode))
}

// Validate checks the configuration and reports every problem at once.
//
// Returns:
//   - error: One error listing every invalid field, or nil
func (c *Config) Validate() error {
	var errs []string

	if c.App.ID == "" {
		errs = append(errs, "app.id is required (or FORAKNX_APP_ID)")
	}
	if c.App.Token == "" {
		errs = append(errs, "app.token is required (or FORAKNX_APP_TOKEN)")
	}
	if c.Catalog.URL == "" {
		errs = append(errs, "catalog.url is required (or FORAKNX_CATALOG_URL)")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.KNX.Port < 1 || c.KNX.Port > 65535 {
		errs = append(errs, "knx.port must be between 1 and 65535")
	}
	switch c.KNX.EchoMode {
	case EchoShared, EchoAlways, EchoNever:
	default:
		errs = append(errs, fmt.Sprintf("knx.echo_mode must be %q, %q or %q", EchoShared, EchoAlways, EchoNever))
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CatalogTimeout returns the per-request catalog timeout.
func (c *Config) CatalogTimeout() time.Duration {
	return time.Duration(c.Catalog.Timeout) * time.Second
}

// KNXConnectTimeout returns the gateway dial and handshake timeout.
func (c *Config) KNXConnectTimeout() time.Duration {
	return time.Duration(c.KNX.ConnectTimeout) * time.Second
}

// KNXReconnectInterval returns the initial gateway reconnect delay.
func (c *Config) KNXReconnectInterval() time.Duration {
	return time.Duration(c.KNX.ReconnectInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
