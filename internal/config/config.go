// Package config loads the tool settings.
//
// Settings come, in increasing priority, from defaults, a YAML file, BE_
// prefixed environment variables (BE_SERVER_ADDR for server.addr) and
// command line flags bound by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Server configures "be serve".
type Server struct {
	Addr string `mapstructure:"addr"`
	// JWTSecret signs bearer tokens. Authentication is off when AuthFile is
	// empty.
	JWTSecret string `mapstructure:"jwt_secret"`
	// AuthFile holds "user:bcrypt-hash" lines.
	AuthFile string `mapstructure:"auth_file"`
	ReadOnly bool   `mapstructure:"read_only"`
	// Rate is the number of requests per minute allowed per client, 0 for
	// no limit.
	Rate int `mapstructure:"rate"`
	// Watch rescans the id cache when the tree changes behind the server.
	Watch bool `mapstructure:"watch"`
}

// Config is the complete configuration.
type Config struct {
	// VCS is the backend name; empty means detect.
	VCS string `mapstructure:"vcs"`
	// Clients overrides the executable per backend name.
	Clients map[string]string `mapstructure:"clients"`
	// UserID is the commit author, "Name <email>".
	UserID    string `mapstructure:"user_id"`
	Readable  bool   `mapstructure:"readable"`
	Writeable bool   `mapstructure:"writeable"`
	LogLevel  string `mapstructure:"log_level"`
	Server    Server `mapstructure:"server"`
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("vcs", "")
	v.SetDefault("clients", map[string]string{})
	v.SetDefault("user_id", "")
	v.SetDefault("readable", true)
	v.SetDefault("writeable", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("server.addr", "localhost:8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.auth_file", "")
	v.SetDefault("server.read_only", false)
	v.SetDefault("server.rate", 600)
	v.SetDefault("server.watch", true)
	v.SetEnvPrefix("BE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultFile returns the per-user configuration file path.
func DefaultFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "be", "config.yaml")
}

// Load reads file into v and decodes the result. A missing file is not an
// error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read %s: %w", file, err)
			}
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if cfg.Clients == nil {
		cfg.Clients = map[string]string{}
	}
	return &cfg, nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}
