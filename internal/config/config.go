package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/latoulicious/lavaclient/pkg/node"
)

// Configuration errors
var (
	ErrDiscordTokenNotSet = errors.New("DISCORD_TOKEN is not set")
	ErrNodeHostNotSet     = errors.New("LAVALINK_HOST is not set")
	ErrNodePasswordNotSet = errors.New("LAVALINK_PASSWORD is not set")
	ErrInvalidPort        = errors.New("invalid port value")
)

// Config holds everything the demo bot needs to start.
type Config struct {
	DiscordToken   string
	Node           node.Config
	ConnectTimeout time.Duration
	LogLevel       string
}

// LoadConfig reads configuration from the environment, loading a .env file
// first when one is present.
func LoadConfig() (*Config, error) {
	// A missing .env file is fine; plain environment variables still apply.
	_ = godotenv.Load()

	discordToken := os.Getenv("DISCORD_TOKEN")
	if discordToken == "" {
		return nil, ErrDiscordTokenNotSet
	}

	host := os.Getenv("LAVALINK_HOST")
	if host == "" {
		return nil, ErrNodeHostNotSet
	}

	password := os.Getenv("LAVALINK_PASSWORD")
	if password == "" {
		return nil, ErrNodePasswordNotSet
	}

	port, err := envPort("LAVALINK_PORT", 2333)
	if err != nil {
		return nil, err
	}
	restPort, err := envPort("LAVALINK_REST_PORT", port)
	if err != nil {
		return nil, err
	}

	return &Config{
		DiscordToken: discordToken,
		Node: node.Config{
			Host:      host,
			Port:      port,
			RestPort:  restPort,
			Password:  password,
			ResumeKey: os.Getenv("LAVALINK_RESUME_KEY"),
		},
		ConnectTimeout: 30 * time.Second,
		LogLevel:       os.Getenv("LOG_LEVEL"),
	}, nil
}

func envPort(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	port, err := strconv.Atoi(value)
	if err != nil || port <= 0 || port > 65535 {
		return 0, ErrInvalidPort
	}
	return port, nil
}
