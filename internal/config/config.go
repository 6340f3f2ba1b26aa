package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Error is returned for missing or malformed settings.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return "config: " + e.Message
}

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	BotToken       string
	TelegramAPIURL string
	WebhookURL     string
	WebhookSecret  string
	GroupID        string
	RelayAPIKey    string
	HTTPTimeout    time.Duration
	SendRate       int // messages per second, 0 disables pacing

	SFInstanceURL  string
	SFClientID     string
	SFClientSecret string
	SFAPIVersion   string
	SFIntakeQueue  string

	StateBackend  string // memory | redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	StateTTL      time.Duration

	DatabaseURL string

	SupportPolicy string // heuristic | off | openai
	OpenAIKey     string
	OpenAIModel   string

	StrictPhone         bool
	SessionPollAttempts int
	SessionPollDelay    time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:      env("PORT", "8080"),
		LogLevel:  env("LOG_LEVEL", "info"),
		LogFormat: env("LOG_FORMAT", "console"),

		BotToken:       strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		TelegramAPIURL: env("TELEGRAM_API_URL", "https://api.telegram.org"),
		WebhookURL:     os.Getenv("TELEGRAM_WEBHOOK_URL"),
		WebhookSecret:  os.Getenv("TELEGRAM_WEBHOOK_SECRET"),
		GroupID:        strings.TrimSpace(os.Getenv("TELEGRAM_GROUP_ID")),
		RelayAPIKey:    os.Getenv("RELAY_API_KEY"),

		SFInstanceURL:  strings.TrimRight(os.Getenv("SF_INSTANCE_URL"), "/"),
		SFClientID:     os.Getenv("SF_CLIENT_ID"),
		SFClientSecret: os.Getenv("SF_CLIENT_SECRET"),
		SFAPIVersion:   env("SF_API_VERSION", "v58.0"),
		SFIntakeQueue:  env("SF_INTAKE_QUEUE", "Telegram_Support"),

		StateBackend:  env("STATE_BACKEND", "memory"),
		RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisPrefix:   env("REDIS_PREFIX", "relay:"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		SupportPolicy: env("SUPPORT_POLICY", "heuristic"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return cfg, err
	}
	if cfg.SendRate, err = envInt("TELEGRAM_SEND_RATE", 25); err != nil {
		return cfg, err
	}
	if cfg.SessionPollAttempts, err = envInt("SESSION_POLL_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	if cfg.StrictPhone, err = envBool("STRICT_PHONE", true); err != nil {
		return cfg, err
	}
	if cfg.HTTPTimeout, err = envDuration("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.SessionPollDelay, err = envDuration("SESSION_POLL_DELAY", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.StateTTL, err = envDuration("STATE_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the settings needed to serve traffic.
func (c Config) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"BOT_TOKEN":        c.BotToken,
		"SF_INSTANCE_URL":  c.SFInstanceURL,
		"SF_CLIENT_ID":     c.SFClientID,
		"SF_CLIENT_SECRET": c.SFClientSecret,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &Error{Message: "missing " + strings.Join(missing, ", ")}
	}

	switch c.StateBackend {
	case "memory", "redis":
	default:
		return &Error{Message: fmt.Sprintf("unknown STATE_BACKEND %q", c.StateBackend)}
	}

	switch c.SupportPolicy {
	case "heuristic", "off":
	case "openai":
		if c.OpenAIKey == "" {
			return &Error{Message: "SUPPORT_POLICY=openai requires OPENAI_API_KEY"}
		}
	default:
		return &Error{Message: fmt.Sprintf("unknown SUPPORT_POLICY %q", c.SupportPolicy)}
	}

	if c.SessionPollAttempts < 1 {
		return &Error{Message: "SESSION_POLL_ATTEMPTS must be at least 1"}
	}
	return nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, &Error{Message: fmt.Sprintf("%s: %v", key, err)}
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, &Error{Message: fmt.Sprintf("%s: %v", key, err)}
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, &Error{Message: fmt.Sprintf("%s: %v", key, err)}
	}
	return d, nil
}
