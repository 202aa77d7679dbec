package pkg

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

type Type string

const (
	WatchType  Type = "watch"
	ServerType Type = "server"
	ClientType Type = "client"
)

type WatchConfig struct {
	Latency       time.Duration `yaml:"latency" env:"FSEVENTS_LATENCY" env-default:"100ms"`
	MaxBatch      int           `yaml:"max_batch" env:"FSEVENTS_MAX_BATCH" env-default:"1024"`
	Coalesce      bool          `yaml:"coalesce" env:"FSEVENTS_COALESCE"`
	SuppressEmpty bool          `yaml:"suppress_empty" env:"FSEVENTS_SUPPRESS_EMPTY"`
	Ignore        []string      `yaml:"ignore" env:"FSEVENTS_IGNORE" env-separator:","`
}

type JournalConfig struct {
	Path string `yaml:"path" env:"FSEVENTS_JOURNAL"`
}

type MediaConfig struct {
	Enabled    bool `yaml:"enabled" env:"FSEVENTS_MEDIA"`
	IncludeRaw bool `yaml:"include_raw" env:"FSEVENTS_MEDIA_INCLUDE_RAW"`
}

type ServerTLSConfig struct {
	Key  string `yaml:"key" env:"FSEVENTS_TLS_KEY"`
	Cert string `yaml:"cert" env:"FSEVENTS_TLS_CERT"`
}

type ServerConfig struct {
	TLS    ServerTLSConfig `yaml:"tls"`
	PwFile string          `yaml:"pwfile" env:"FSEVENTS_PWFILE"`
}

type ClientConfig struct {
	TLS      bool   `yaml:"tls" env:"FSEVENTS_CLIENT_TLS"`
	Username string `yaml:"username" env:"FSEVENTS_USERNAME"`
	Password string `yaml:"password" env:"FSEVENTS_PASSWORD"`
	Since    uint64 `yaml:"since" env:"FSEVENTS_SINCE"`
}

type Config struct {
	ServiceType Type          `yaml:"type" env:"FSEVENTS_TYPE"`
	Address     string        `yaml:"address" env:"FSEVENTS_ADDRESS"`
	Paths       []string      `yaml:"paths" env:"FSEVENTS_PATHS" env-separator:","`
	Watch       WatchConfig   `yaml:"watch"`
	Journal     JournalConfig `yaml:"journal"`
	Media       MediaConfig   `yaml:"media"`
	Client      ClientConfig  `yaml:"client"`
	Server      ServerConfig  `yaml:"server"`
}

// ReadConfig reads the yaml file and applies environment overrides on top
// of it.
func ReadConfig(file string) (*Config, error) {
	return LoadConfig(file, "", nil)
}

// LoadConfig is ReadConfig for the command line: an empty file starts from
// the environment alone, a non empty t replaces the configured type and
// non empty paths replace the configured paths.
func LoadConfig(file string, t Type, paths []string) (*Config, error) {
	c := Config{}

	if file != "" {
		yfile, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}

		err = yaml.Unmarshal(yfile, &c)
		if err != nil {
			return nil, err
		}
	}

	err := cleanenv.ReadEnv(&c)
	if err != nil {
		return nil, err
	}

	if t != "" {
		c.ServiceType = t
	}
	if len(paths) > 0 {
		c.Paths = paths
	}

	if err = c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *Config) Validate() error {
	switch c.ServiceType {
	case WatchType, ServerType:
		if len(c.Paths) == 0 {
			return fmt.Errorf("config: %s requires at least one path", c.ServiceType)
		}
	case ClientType:
	default:
		return fmt.Errorf("config: invalid service type %q", c.ServiceType)
	}

	if c.ServiceType != WatchType && c.Address == "" {
		return fmt.Errorf("config: %s requires an address", c.ServiceType)
	}

	if c.Watch.Latency < 0 || c.Watch.MaxBatch < 0 {
		return fmt.Errorf("config: negative watch latency or batch size")
	}

	return nil
}
