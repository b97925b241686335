// Copyright 2024-2026 Aiku AI

// Package config loads the appservice configuration file.
package config

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the full appservice configuration.
type Config struct {
	Homeserver HomeserverConfig `yaml:"homeserver"`
	AppService AppServiceConfig `yaml:"appservice"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Database   DatabaseConfig   `yaml:"database"`
	AdminAPI   AdminAPIConfig   `yaml:"admin_api"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type HomeserverConfig struct {
	Address string `yaml:"address"`
	Domain  string `yaml:"domain"`
}

type AppServiceConfig struct {
	Registration string `yaml:"registration"`
	Hostname     string `yaml:"hostname"`
	Port         uint16 `yaml:"port"`
}

type BridgeConfig struct {
	VirtualLocalpart string `yaml:"virtual_localpart"`
	RoomNamePostfix  string `yaml:"room_name_postfix"`
	DirectRoomName   string `yaml:"direct_room_name"`
}

type DatabaseConfig struct {
	// Path is the SQLite database file. Empty means in-memory.
	Path string `yaml:"path"`
}

type AdminAPIConfig struct {
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	RawLevel string `yaml:"level"`

	level zerolog.Level `yaml:"-"`
}

// Level returns the parsed log level. Valid after PostProcess.
func (l LoggingConfig) Level() zerolog.Level {
	return l.level
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess validates the config and fills in derived fields.
func (c *Config) PostProcess() error {
	if c.Homeserver.Domain == "" {
		return errors.New("homeserver.domain is required")
	}
	if c.Homeserver.Address == "" {
		return errors.New("homeserver.address is required")
	}
	if c.AppService.Registration == "" {
		return errors.New("appservice.registration is required")
	}
	if c.Bridge.VirtualLocalpart == "" {
		return errors.New("bridge.virtual_localpart is required")
	}
	c.Logging.level = zerolog.InfoLevel
	if c.Logging.RawLevel != "" {
		level, err := zerolog.ParseLevel(c.Logging.RawLevel)
		if err != nil {
			return fmt.Errorf("invalid logging.level: %w", err)
		}
		c.Logging.level = level
	}
	return nil
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "homeserver", "address")
	helper.Copy(up.Str, "homeserver", "domain")
	helper.Copy(up.Str, "appservice", "registration")
	helper.Copy(up.Str, "appservice", "hostname")
	helper.Copy(up.Int, "appservice", "port")
	helper.Copy(up.Str, "bridge", "virtual_localpart")
	helper.Copy(up.Str, "bridge", "room_name_postfix")
	helper.Copy(up.Str, "bridge", "direct_room_name")
	helper.Copy(up.Str, "database", "path")
	helper.Copy(up.Str, "admin_api", "address")
	helper.Copy(up.Str, "logging", "level")
}

// Upgrader merges a user config onto the current example config.
func Upgrader() up.BaseUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks:         nil,
		Base:           ExampleConfig,
	}
}

// Parse decodes and post-processes config data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Load upgrades the config file at path against the example config (saving
// the result if save is set) and parses it.
func Load(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return Parse(data)
}
