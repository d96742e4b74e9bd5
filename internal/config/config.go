package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the server settings.
type Config struct {
	HTTPAddr          string
	DatabaseURL       string
	NATSURL           string
	NATSSubjectPrefix string
	MetricsAddr       string
	StaleAfter        time.Duration
	SendBuffer        int
	AllowedOrigins    []string
	Log               LogConfig
}

type LogConfig struct {
	File  string
	Level logrus.Level
}

// PublisherConfig holds the settings of the driver-side publisher.
type PublisherConfig struct {
	ServerURL   string
	RouteID     string
	FixesFile   string
	Interval    time.Duration
	Loop        bool
	Origin      string
	MetricsAddr string
	Log         LogConfig
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := &Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:       databaseURL(),
		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "routes"),
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
		AllowedOrigins:    splitList(os.Getenv("ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.StaleAfter, err = durationEnv("STALE_AFTER", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SendBuffer, err = intEnv("SEND_BUFFER", 64); err != nil {
		return nil, err
	}
	if cfg.Log, err = loadLog(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPublisher reads the PUBLISHER_* variables.
func LoadPublisher() (*PublisherConfig, error) {
	loadDotEnv()

	cfg := &PublisherConfig{
		ServerURL:   getEnv("PUBLISHER_SERVER_URL", "ws://localhost:8080/ws/routes"),
		RouteID:     strings.TrimSpace(os.Getenv("PUBLISHER_ROUTE_ID")),
		FixesFile:   os.Getenv("PUBLISHER_FIXES_FILE"),
		Origin:      os.Getenv("PUBLISHER_ORIGIN"),
		MetricsAddr: os.Getenv("PUBLISHER_METRICS_ADDR"),
	}
	if cfg.RouteID == "" {
		return nil, fmt.Errorf("PUBLISHER_ROUTE_ID must be set")
	}
	if cfg.FixesFile == "" {
		return nil, fmt.Errorf("PUBLISHER_FIXES_FILE must be set")
	}

	var err error
	if cfg.Interval, err = durationEnv("PUBLISHER_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Loop, err = boolEnv("PUBLISHER_LOOP", false); err != nil {
		return nil, err
	}
	if cfg.Log, err = loadLog(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, relying on env vars")
	}
}

func loadLog() (LogConfig, error) {
	lc := LogConfig{File: os.Getenv("LOG_FILE"), Level: logrus.InfoLevel}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		lvl, err := logrus.ParseLevel(v)
		if err != nil {
			return lc, fmt.Errorf("invalid LOG_LEVEL: %q", v)
		}
		lc.Level = lvl
	}
	return lc, nil
}

// databaseURL prefers DATABASE_URL, else builds a DSN from DB_* variables.
func databaseURL() string {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return v
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "password"),
		getEnv("DB_NAME", "tracker"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_SSLMODE", "disable"),
		getEnv("DB_TIMEZONE", "UTC"),
	)
}

// getEnv reads an environment variable or returns the provided default
func getEnv(key, defaultValue string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return defaultValue
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s: %q", key, v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
