// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. RELAY_STORE_URI.
const EnvPrefix = "RELAY"

const (
	ModeAll     = "all"
	ModeIngress = "ingress"
	ModeRelay   = "relay"
)

type Config struct {
	Mode string `yaml:"mode" envconfig:"MODE" validate:"oneof=all ingress relay"`

	HTTP struct {
		Port            int           `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
		MaxBodyBytes    int64         `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES" validate:"min=1"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	} `yaml:"http" envconfig:"HTTP"`

	Datagram struct {
		Transport     string `yaml:"transport" envconfig:"TRANSPORT" validate:"oneof=udp amqp"`
		Address       string `yaml:"address" envconfig:"ADDRESS" validate:"omitempty,hostname_port"`
		MaxPacketSize int    `yaml:"max_packet_size" envconfig:"MAX_PACKET_SIZE" validate:"min=1,max=65507"`
		ReadBuffer    int    `yaml:"read_buffer" envconfig:"READ_BUFFER" validate:"min=0"`
	} `yaml:"datagram" envconfig:"DATAGRAM"`

	RabbitMQ struct {
		URL       string `yaml:"url" envconfig:"URL"`
		Queue     string `yaml:"queue" envconfig:"QUEUE"`
		MaxLength int    `yaml:"max_length" envconfig:"MAX_LENGTH" validate:"min=0"`
	} `yaml:"rabbitmq" envconfig:"RABBITMQ"`

	Store struct {
		Driver        string        `yaml:"driver" envconfig:"DRIVER" validate:"oneof=mongodb postgres badger"`
		URI           string        `yaml:"uri" envconfig:"URI" validate:"required"`
		Database      string        `yaml:"database" envconfig:"DATABASE"`
		Collection    string        `yaml:"collection" envconfig:"COLLECTION" validate:"required"`
		InsertTimeout time.Duration `yaml:"insert_timeout" envconfig:"INSERT_TIMEOUT"`
	} `yaml:"store" envconfig:"STORE"`

	Static struct {
		Dir string `yaml:"dir" envconfig:"DIR" validate:"required"`
	} `yaml:"static" envconfig:"STATIC"`

	Metrics struct {
		Addr string `yaml:"addr" envconfig:"ADDR"`
	} `yaml:"metrics" envconfig:"METRICS"`
}

// Default returns the settings used when neither file nor environment set a key.
func Default() *Config {
	cfg := &Config{Mode: ModeAll}

	cfg.HTTP.Port = 3000
	cfg.HTTP.MaxBodyBytes = 1024
	cfg.HTTP.ShutdownTimeout = 5 * time.Second

	cfg.Datagram.Transport = "udp"
	cfg.Datagram.Address = "127.0.0.1:5000"
	cfg.Datagram.MaxPacketSize = 1024

	cfg.RabbitMQ.Queue = "form_messages"
	cfg.RabbitMQ.MaxLength = 1000

	cfg.Store.Driver = "mongodb"
	cfg.Store.URI = "mongodb://mongodb_service:27017"
	cfg.Store.Database = "messages_db"
	cfg.Store.Collection = "messages"
	cfg.Store.InsertTimeout = 5 * time.Second

	cfg.Static.Dir = "front-init"
	cfg.Metrics.Addr = ":9090"
	return cfg
}

// LoadConfig layers defaults, the YAML file at path (skipped when absent) and
// RELAY_* environment variables, then validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config: %w", err)
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch {
	case c.Datagram.Transport == "udp" && c.Datagram.Address == "":
		return errors.New("invalid config: datagram.address is required for the udp transport")
	case c.Datagram.Transport == "amqp" && c.RabbitMQ.URL == "":
		return errors.New("invalid config: rabbitmq.url is required for the amqp transport")
	case c.Store.Driver == "mongodb" && c.Store.Database == "":
		return errors.New("invalid config: store.database is required for mongodb")
	case c.HTTP.MaxBodyBytes > int64(c.Datagram.MaxPacketSize):
		// larger bodies would be accepted and then dropped by the relay
		return fmt.Errorf("invalid config: http.max_body_bytes (%d) exceeds datagram.max_packet_size (%d)",
			c.HTTP.MaxBodyBytes, c.Datagram.MaxPacketSize)
	}
	return nil
}

// HTTPAddr is the listen address of the ingress handler, all interfaces.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}
