// Package config reads process settings from the environment and the
// session descriptor from disk.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Server holds settings for the session server process.
type Server struct {
	Port              string
	SessionFile       string
	NATSURL           string
	NATSSubjectPrefix string
	LogLevel          zerolog.Level
	ViewerSummary     time.Duration
	AllowedOrigins    []string
}

// ServerFromEnv reads the server settings, falling back to defaults.
// An empty NATS_URL disables the event mirror.
func ServerFromEnv() Server {
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return Server{
		Port:              getEnv("PORT", "3000"),
		SessionFile:       getEnv("SESSION_FILE", "session.yaml"),
		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "syncwatch"),
		LogLevel:          level,
		ViewerSummary:     getEnvAsDuration("VIEWER_SUMMARY_INTERVAL", 30*time.Second),
		AllowedOrigins:    getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
	}
}

// Client holds settings for the headless client.
type Client struct {
	ServerURL string
	Leader    bool
	Password  string
	Profile   string
	LogLevel  zerolog.Level
}

// ClientFromEnv reads the client settings.
func ClientFromEnv() Client {
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	leader, _ := strconv.ParseBool(getEnv("SYNC_LEADER", "false"))

	return Client{
		ServerURL: getEnv("SYNC_SERVER_URL", "ws://localhost:3000/ws"),
		Leader:    leader,
		Password:  getEnv("SYNC_LEADER_PASSWORD", ""),
		Profile:   getEnv("SYNC_CLIENT_PROFILE", "desktop"),
		LogLevel:  level,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvAsDuration accepts Go duration strings and bare integers, which are
// read as seconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
