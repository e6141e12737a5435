// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the server runtime parameters.
type Config struct {
	DatabaseURL    string        `mapstructure:"database_url"`
	RedisURL       string        `mapstructure:"redis_url"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTIssuer      string        `mapstructure:"jwt_issuer"`
	Port           string        `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	PushQueue      string        `mapstructure:"push_queue"`
	GroupCapacity  int           `mapstructure:"group_capacity"`
	FlushDelay     time.Duration `mapstructure:"flush_delay"`
	FlushMaxAge    time.Duration `mapstructure:"flush_max_age"`
	IndexKeyHex    string        `mapstructure:"index_key"`
}

const (
	defaultDatabaseURL   = "postgres://localhost/efmsg?sslmode=disable"
	defaultRedisURL      = "localhost:6379"
	defaultJWTIssuer     = "efchat"
	defaultPort          = "8081"
	defaultLogLevel      = "info"
	defaultLogFormat     = "json"
	defaultPushQueue     = "push:queue"
	defaultGroupCapacity = 50
	defaultFlushDelay    = 2 * time.Second
	indexKeySize         = 32
)

var defaultAllowedOrigins = []string{
	"https://efchat.net",
	"https://app.efchat.net",
	"http://localhost:3000",
}

// Load reads the optional config file at path, then lets environment
// variables (DATABASE_URL, JWT_SECRET, GROUP_CAPACITY, ...) override it.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("database_url", defaultDatabaseURL)
	v.SetDefault("redis_url", defaultRedisURL)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", defaultJWTIssuer)
	v.SetDefault("port", defaultPort)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_format", defaultLogFormat)
	v.SetDefault("allowed_origins", defaultAllowedOrigins)
	v.SetDefault("push_queue", defaultPushQueue)
	v.SetDefault("group_capacity", defaultGroupCapacity)
	v.SetDefault("flush_delay", defaultFlushDelay.String())
	v.SetDefault("flush_max_age", "0s")
	v.SetDefault("index_key", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Env values for lists arrive as one comma-separated string.
	cfg.AllowedOrigins = splitList(strings.Join(cfg.AllowedOrigins, ","))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.GroupCapacity < 1 {
		return fmt.Errorf("group_capacity must be positive (got %d)", c.GroupCapacity)
	}
	if c.FlushDelay <= 0 {
		return fmt.Errorf("flush_delay must be positive (got %s)", c.FlushDelay)
	}
	if c.FlushMaxAge < 0 {
		return fmt.Errorf("flush_max_age must not be negative (got %s)", c.FlushMaxAge)
	}
	if _, err := c.IndexKey(); err != nil {
		return err
	}
	return nil
}

// IndexKey decodes the server key used for search tokens.
func (c Config) IndexKey() ([]byte, error) {
	key, err := hex.DecodeString(c.IndexKeyHex)
	if err != nil {
		return nil, fmt.Errorf("index_key must be hex: %w", err)
	}
	if len(key) != indexKeySize {
		return nil, fmt.Errorf("index_key must be %d bytes (got %d)", indexKeySize, len(key))
	}
	return key, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
