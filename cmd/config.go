// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Thermoquad/resinstat/pkg/anycubic"
	"github.com/Thermoquad/resinstat/pkg/coordinator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"
)

// Environment overrides
const (
	envHost     = "RESINSTAT_HOST"
	envPort     = "RESINSTAT_PORT"
	envPassword = "RESINSTAT_PASSWORD"
)

// Config is the resolved configuration.
//
// Example file:
//
//	[printer]
//	host = 192.168.1.50
//	port = 6000
//	connect_timeout = 10s
//	read_timeout = 1s
//
//	[server]
//	listen = :8080
//	interval = 60s
//	nats_url = nats://127.0.0.1:4222
//	username = admin
type Config struct {
	Printer PrinterConfig `ini:"printer"`
	Server  ServerConfig  `ini:"server"`
}

// PrinterConfig selects the printer and its timeouts
type PrinterConfig struct {
	Host           string        `ini:"host"`
	Port           int           `ini:"port"`
	ConnectTimeout time.Duration `ini:"connect_timeout"`
	ReadTimeout    time.Duration `ini:"read_timeout"`
}

// ServerConfig configures the serve command
type ServerConfig struct {
	Listen   string        `ini:"listen"`
	Interval time.Duration `ini:"interval"`
	NATSURL  string        `ini:"nats_url"`
	Username string        `ini:"username"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		Printer: PrinterConfig{
			Port:           anycubic.DefaultPort,
			ConnectTimeout: anycubic.DefaultConnectTimeout,
			ReadTimeout:    anycubic.DefaultReadTimeout,
		},
		Server: ServerConfig{
			Listen:   ":8080",
			Interval: coordinator.DefaultInterval,
		},
	}
}

// LoadConfig applies the INI file at path (if any) and the environment on top
// of the defaults
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path != "" {
		if err := ini.MapTo(&config, path); err != nil {
			return config, fmt.Errorf("cannot open configuration file %s: %w", path, err)
		}
		log.Debug().Str("path", path).Msg("configuration loaded")
	}

	if host := os.Getenv(envHost); host != "" {
		config.Printer.Host = host
	}
	if port := os.Getenv(envPort); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return config, fmt.Errorf("invalid %s %q", envPort, port)
		}
		config.Printer.Port = n
	}
	return config, nil
}

func setupLogger(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
