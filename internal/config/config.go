// Package config loads service settings from an optional YAML file, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/atm-dispatch/internal/dispatch"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMongo  = "mongo"
	BackendBadger = "badger"
)

// Config is the full service configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// StoreConfig selects and configures persistence.
type StoreConfig struct {
	Backend    string `yaml:"backend"`
	MongoURI   string `yaml:"mongo_uri"`
	MongoDB    string `yaml:"mongo_db"`
	BadgerPath string `yaml:"badger_path"`
}

// MQTTConfig holds the telemetry broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// HTTPConfig holds the ops server settings.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// LogConfig holds logrus settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DispatchConfig tunes ticket creation and engineer assignment.
type DispatchConfig struct {
	DedupPolicy    dispatch.DedupPolicy `yaml:"dedup_policy"`
	ClaimEngineers bool                 `yaml:"claim_engineers"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend:  BackendMongo,
			MongoURI: "mongodb://localhost:27017",
			MongoDB:  "atm_dispatch",
		},
		MQTT: MQTTConfig{
			ClientID: "atm-dispatch",
			Topic:    "atm/+/telemetry",
			QoS:      1,
		},
		HTTP:     HTTPConfig{Port: 8080},
		Log:      LogConfig{Level: "info", Format: "json"},
		Dispatch: DispatchConfig{DedupPolicy: dispatch.DedupNone, ClaimEngineers: true},
	}
}

// Load builds the configuration. envFiles are passed to godotenv; with none
// given an optional ./.env is read. A YAML file named by CONFIG_FILE is
// applied over the defaults, then environment variables override both.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env: %w", err)
		}
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadYAML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Store.Backend, "STORE_BACKEND")
	setString(&c.Store.MongoURI, "MONGO_URI")
	setString(&c.Store.MongoDB, "MONGO_DB")
	setString(&c.Store.BadgerPath, "BADGER_PATH")
	setString(&c.MQTT.Broker, "MQTT_BROKER")
	setString(&c.MQTT.ClientID, "MQTT_CLIENT_ID")
	setString(&c.MQTT.Topic, "MQTT_TOPIC")
	setString(&c.MQTT.Username, "MQTT_USERNAME")
	setString(&c.MQTT.Password, "MQTT_PASSWORD")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	if v := os.Getenv("DISPATCH_DEDUP_POLICY"); v != "" {
		c.Dispatch.DedupPolicy = dispatch.DedupPolicy(v)
	}
	if v := os.Getenv("MQTT_QOS"); v != "" {
		q, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return fmt.Errorf("MQTT_QOS: %w", err)
		}
		c.MQTT.QoS = byte(q)
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.HTTP.Port = p
	}
	if v := os.Getenv("DISPATCH_CLAIM_ENGINEERS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DISPATCH_CLAIM_ENGINEERS: %w", err)
		}
		c.Dispatch.ClaimEngineers = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	c.Store.Backend = strings.ToLower(c.Store.Backend)
	switch c.Store.Backend {
	case BackendMongo:
		if c.Store.MongoURI == "" || c.Store.MongoDB == "" {
			return errors.New("mongo backend requires MONGO_URI and MONGO_DB")
		}
	case BackendBadger:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTP.Port)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if !dispatch.IsValidDedupPolicy(c.Dispatch.DedupPolicy) {
		return fmt.Errorf("unknown dedup policy %q", c.Dispatch.DedupPolicy)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos %d", c.MQTT.QoS)
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return errors.New("mqtt broker set without topic")
	}
	return nil
}
