package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeClient Mode = "client"
	ModeServe  Mode = "serve"
	// ModeAdmin is for one-shot commands against a running relay.
	ModeAdmin Mode = "admin"
)

type Transport string

const (
	TransportWS   Transport = "ws"
	TransportNATS Transport = "nats"
)

type Config struct {
	Mode Mode

	// Relay server
	ListenAddr      string
	AdminListenAddr string
	DBFile          string
	UploadsPath     string

	// Client
	ServerURL  string
	AdminURL   string
	UserID     string
	Transport  Transport
	NATSURL    string
	Room       string
	Debounce   time.Duration
	ProfileTTL time.Duration
}

// Load reads the configuration from the environment, after loading .env
// if present. A mode given by flag wins over KAZOKU_MODE.
func Load(mode Mode) (*Config, error) {
	_ = godotenv.Load(".env")

	debounce, err := time.ParseDuration(getEnv("KAZOKU_DEBOUNCE", "300ms"))
	if err != nil {
		return nil, fmt.Errorf("KAZOKU_DEBOUNCE: %w", err)
	}
	profileTTL, err := time.ParseDuration(getEnv("KAZOKU_PROFILE_TTL", "0"))
	if err != nil {
		return nil, fmt.Errorf("KAZOKU_PROFILE_TTL: %w", err)
	}

	if mode == "" {
		mode = Mode(getEnv("KAZOKU_MODE", string(ModeClient)))
	}

	cfg := &Config{
		Mode:            mode,
		ListenAddr:      getEnv("KAZOKU_LISTEN", ":8080"),
		AdminListenAddr: getEnv("KAZOKU_ADMIN_LISTEN", "localhost:8081"),
		DBFile:          getEnv("KAZOKU_DB", "kazoku.db"),
		UploadsPath:     getEnv("KAZOKU_UPLOADS", "uploads"),
		ServerURL:       getEnv("KAZOKU_SERVER", "http://localhost:8080"),
		AdminURL:        getEnv("KAZOKU_ADMIN", "http://localhost:8081"),
		UserID:          os.Getenv("KAZOKU_USER_ID"),
		Transport:       Transport(getEnv("KAZOKU_TRANSPORT", string(TransportWS))),
		NATSURL:         getEnv("NATS_URL", "nats://localhost:4222"),
		Room:            getEnv("KAZOKU_ROOM", "lobby"),
		Debounce:        debounce,
		ProfileTTL:      profileTTL,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeClient, ModeServe, ModeAdmin:
	default:
		return fmt.Errorf("KAZOKU_MODE must be client or serve, got %q", c.Mode)
	}

	if c.Mode == ModeClient && c.UserID == "" {
		return fmt.Errorf("KAZOKU_USER_ID is required in client mode")
	}

	switch c.Transport {
	case TransportWS, TransportNATS:
	default:
		return fmt.Errorf("KAZOKU_TRANSPORT must be ws or nats, got %q", c.Transport)
	}

	if c.Transport == TransportNATS && c.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required for the nats transport")
	}

	if c.Debounce <= 0 {
		return fmt.Errorf("KAZOKU_DEBOUNCE must be greater than 0")
	}

	if c.ProfileTTL < 0 {
		return fmt.Errorf("KAZOKU_PROFILE_TTL must not be negative")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
