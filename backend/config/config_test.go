// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIndexKey = strings.Repeat("ab", 32)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("INDEX_KEY", testIndexKey)
	t.Setenv("GROUP_CAPACITY", "10")
	t.Setenv("FLUSH_DELAY", "500ms")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 10, cfg.GroupCapacity)
	assert.Equal(t, 500*time.Millisecond, cfg.FlushDelay)
	assert.Equal(t, time.Duration(0), cfg.FlushMaxAge)
	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)

	key, err := cfg.IndexKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "efmsg.yaml")
	content := "jwt_secret: filesecret\nindex_key: " + testIndexKey + "\nflush_max_age: 30s\nport: \"9000\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "filesecret", cfg.JWTSecret)
	assert.Equal(t, 30*time.Second, cfg.FlushMaxAge)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, defaultGroupCapacity, cfg.GroupCapacity)
}

func TestValidate(t *testing.T) {
	base := Config{
		JWTSecret:     "x",
		GroupCapacity: 5,
		FlushDelay:    time.Second,
		IndexKeyHex:   testIndexKey,
	}
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"missing secret":  func(c *Config) { c.JWTSecret = "" },
		"zero capacity":   func(c *Config) { c.GroupCapacity = 0 },
		"zero delay":      func(c *Config) { c.FlushDelay = 0 },
		"negative maxage": func(c *Config) { c.FlushMaxAge = -time.Second },
		"short key":       func(c *Config) { c.IndexKeyHex = "abcd" },
		"non-hex key":     func(c *Config) { c.IndexKeyHex = "zz" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
