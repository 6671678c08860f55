package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// config is read from the environment first; flags start from these values.
type config struct {
	Endpoint       string        `env:"ECHO_CHAT_ENDPOINT"        envDefault:"wss://echo.websocket.org"`
	DataPath       string        `env:"ECHO_CHAT_DATA_PATH"`
	User           string        `env:"ECHO_CHAT_USER"`
	RetryAttempts  int           `env:"ECHO_CHAT_RETRY_ATTEMPTS"  envDefault:"3"`
	RetryDelay     time.Duration `env:"ECHO_CHAT_RETRY_DELAY"     envDefault:"2s"`
	ConnectTimeout time.Duration `env:"ECHO_CHAT_CONNECT_TIMEOUT" envDefault:"10s"`
	Debug          bool          `env:"ECHO_CHAT_DEBUG"`

	Port       int      `env:"ECHO_CHAT_PORT"     envDefault:"8092"`
	Name       string   `env:"ECHO_CHAT_NAME"     envDefault:"echo-chat"`
	CredKey    string   `env:"ECHO_CHAT_CRED_KEY"`
	ServerURLs []string `env:"RELAY"              envSeparator:","`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
