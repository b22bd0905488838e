package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the runtime settings of the notification service.
type Config struct {
	Port           string
	MongoURI       string
	DBName         string
	JWTSecret      string
	AllowedOrigins []string
	LogLevel       string

	// MaxPerType bounds how many notifications of one type are kept in memory.
	MaxPerType int
	// FeedLimit bounds the initial snapshot query of every collection feed.
	FeedLimit int
	// PaymentScanInterval is how often payment alerts are recomputed.
	PaymentScanInterval time.Duration
	// NotifyDebounce delays snapshot pushes so bursts collapse into one.
	NotifyDebounce time.Duration
	// Location is used for day-granularity payment bucketing.
	Location *time.Location
}

// LoadConfig reads the .env file (if any) and the process environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		MongoURI:            getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:              getEnv("DB_NAME", "vehicle_marketplace"),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		AllowedOrigins:      splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		MaxPerType:          getEnvInt("MAX_NOTIFICATIONS_PER_TYPE", 50),
		FeedLimit:           getEnvInt("FEED_LIMIT", 50),
		PaymentScanInterval: getEnvDuration("PAYMENT_SCAN_INTERVAL", 5*time.Minute),
		NotifyDebounce:      getEnvDuration("NOTIFY_DEBOUNCE", 250*time.Millisecond),
		Location:            getEnvLocation("TIMEZONE", time.Local),
	}

	if cfg.JWTSecret == "" {
		logrus.Warn("JWT_SECRET is empty, token verification will reject every request")
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		logrus.WithFields(logrus.Fields{"key": key, "value": raw}).Warn("Invalid integer setting, using default")
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		logrus.WithFields(logrus.Fields{"key": key, "value": raw}).Warn("Invalid duration setting, using default")
		return fallback
	}
	return v
}

func getEnvLocation(key string, fallback *time.Location) *time.Location {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	loc, err := time.LoadLocation(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "value": raw}).Warn("Unknown timezone, using default")
		return fallback
	}
	return loc
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
