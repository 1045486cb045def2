package config

import (
	"time"

	"github.com/spf13/viper"
)

type APICfg struct {
	BaseURL                string `mapstructure:"base_url"`
	TimeoutSeconds         int    `mapstructure:"timeout_seconds"`
	RetryMaxElapsedSeconds int    `mapstructure:"retry_max_elapsed_seconds"`
}

type SocketCfg struct {
	URL                     string `mapstructure:"url"`
	HandshakeTimeoutSeconds int    `mapstructure:"handshake_timeout_seconds"`
	SendRatePerSecond       int    `mapstructure:"send_rate_per_second"`
	SendBuffer              int    `mapstructure:"send_buffer"`
}

type StateCfg struct {
	Dir string `mapstructure:"dir"`
}

type LogCfg struct {
	Development bool `mapstructure:"development"`
}

type Config struct {
	API    APICfg    `mapstructure:"api"`
	Socket SocketCfg `mapstructure:"socket"`
	State  StateCfg  `mapstructure:"state"`
	Log    LogCfg    `mapstructure:"log"`
	// Derived
	APITimeout       time.Duration
	RetryMaxElapsed  time.Duration
	HandshakeTimeout time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:3000/api"
	}
	if cfg.API.TimeoutSeconds == 0 {
		cfg.API.TimeoutSeconds = 15
	}
	if cfg.API.RetryMaxElapsedSeconds == 0 {
		cfg.API.RetryMaxElapsedSeconds = 30
	}
	if cfg.Socket.URL == "" {
		cfg.Socket.URL = "ws://localhost:3000/ws"
	}
	if cfg.Socket.HandshakeTimeoutSeconds == 0 {
		cfg.Socket.HandshakeTimeoutSeconds = 10
	}
	if cfg.Socket.SendRatePerSecond == 0 {
		cfg.Socket.SendRatePerSecond = 10
	}
	if cfg.Socket.SendBuffer == 0 {
		cfg.Socket.SendBuffer = 256
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = ".onestay"
	}

	cfg.APITimeout = time.Duration(cfg.API.TimeoutSeconds) * time.Second
	cfg.RetryMaxElapsed = time.Duration(cfg.API.RetryMaxElapsedSeconds) * time.Second
	cfg.HandshakeTimeout = time.Duration(cfg.Socket.HandshakeTimeoutSeconds) * time.Second
	return &cfg, nil
}
