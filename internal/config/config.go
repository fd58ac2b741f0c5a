package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"paratest/internal/api"
)

// PTConfig holds the application configuration
type PTConfig struct {
	Source struct {
		Path    string `mapstructure:"path"`
		Pattern string `mapstructure:"pattern"`
	} `mapstructure:"source"`

	Workers       int    `mapstructure:"workers"`
	WorkspacePath string `mapstructure:"workspace_path"`
	OutputPath    string `mapstructure:"output_path"`
	Plugin        string `mapstructure:"plugin"`
	Schedule      string `mapstructure:"schedule"`

	Database struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Queue struct {
		Backend  string `mapstructure:"backend"`
		Host     string `mapstructure:"host"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"queue"`

	Hooks struct {
		Setup             string `mapstructure:"setup"`
		Teardown          string `mapstructure:"teardown"`
		SetupWorkspace    string `mapstructure:"setup_workspace"`
		TeardownWorkspace string `mapstructure:"teardown_workspace"`
		SetupTest         string `mapstructure:"setup_test"`
		TeardownTest      string `mapstructure:"teardown_test"`
	} `mapstructure:"hooks"`

	Command struct {
		Discover string `mapstructure:"discover"`
		Execute  string `mapstructure:"execute"`
	} `mapstructure:"command"`

	GoTest struct {
		Binary  string        `mapstructure:"binary"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"gotest"`

	Server api.Config `mapstructure:"server"`

	LogLevel string `mapstructure:"log_level"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// LoadConfig reads the configuration from a file or environment variables. Unlike a service
// config, a missing config file is not an error: paratest runs with defaults and flags alone.
func LoadConfig(configPaths ...string) (*PTConfig, error) {
	// can specify config path from environment
	if path, exists := os.LookupEnv("PT_CONFIG_PATH"); exists {
		configPaths = append(configPaths, path)
	}
	for _, path := range configPaths {
		fi, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		mode := fi.Mode()
		switch {
		case mode.IsRegular():
			v := newViper()
			v.SetConfigFile(path)
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil

		case mode.IsDir():
			v := newViper()
			v.AddConfigPath(path)
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil
		}
	}

	v := newViper()
	// finally read from current working directory
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	cwd, _ := os.Getwd()

	config, err := readConfig(v, cwd)
	if err == nil {
		return config, nil
	}

	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}

	// no config file at all, defaults and environment only
	var defaults PTConfig
	if err := v.Unmarshal(&defaults); err != nil {
		return nil, err
	}
	return &defaults, nil
}

// newViper creates a viper instance with all defaults set
func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("source.path", ".")
	v.SetDefault("source.pattern", "")
	v.SetDefault("workers", 5)
	v.SetDefault("workspace_path", "workspaces")
	v.SetDefault("output_path", "output")
	v.SetDefault("plugin", "")
	v.SetDefault("schedule", "")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", ".paratest.db")

	v.SetDefault("queue.backend", QueueMemory)
	v.SetDefault("queue.host", "localhost:6379")
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 0)

	// hooks are opt-in, an empty template is a no-op
	for _, hook := range []string{"setup", "teardown", "setup_workspace", "teardown_workspace", "setup_test", "teardown_test"} {
		v.SetDefault("hooks."+hook, "")
	}

	v.SetDefault("command.discover", "")
	v.SetDefault("command.execute", "")

	v.SetDefault("gotest.binary", "go")
	v.SetDefault("gotest.timeout", "10m")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)

	// Log level default
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("PT")                               // Prefix for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // Replace dots with underscores in env vars
	v.AutomaticEnv()                                   // Read environment variables

	return v
}

func readConfig(v *viper.Viper, path string) (*PTConfig, error) {
	var config PTConfig

	if err := v.ReadInConfig(); err != nil {
		log.Debug().
			Err(err).
			Str("path", path).
			Msg("Could not read config file")
		return nil, err
	}
	if err := v.Unmarshal(&config); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not unmarshall config")
		return nil, err
	}

	return &config, nil
}

// Level parses LogLevel, falling back to info when it is not a zerolog level name
func (c *PTConfig) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
