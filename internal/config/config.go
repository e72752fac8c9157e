package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port               string
	CorsAllowedOrigins []string

	// Remote café API (all paths live under the /api prefix).
	APIBaseURL string
	APITimeout time.Duration

	RedisAddr     string
	RedisPassword string
	DatabaseURL   string
	PrinterURL    string

	ArchiveBucket    string
	ArchiveEndpoint  string
	ArchiveRegion    string
	ArchiveAccessKey string
	ArchiveSecretKey string

	NoticeTTL time.Duration

	ShopName    string
	ShopAddress string
	ShopPhone   string
}

// Load reads configuration from an optional .env file, an optional
// configs/config.yaml and the environment, in increasing priority.
func Load() *Config {
	// .env is a development convenience; missing is fine.
	godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile("configs/config.yaml")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8082")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")
	v.SetDefault("API_BASE_URL", "http://localhost:8000/api")
	v.SetDefault("API_TIMEOUT", "15s")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("PRINTER_URL", "")
	v.SetDefault("ARCHIVE_REGION", "auto")
	v.SetDefault("NOTICE_TTL", "5s")
	v.SetDefault("SHOP_NAME", "Café")

	if err := v.ReadInConfig(); err != nil {
		log.Printf("[Config] No config file found, using defaults")
	}

	return &Config{
		Port:               v.GetString("PORT"),
		CorsAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		APIBaseURL:         v.GetString("API_BASE_URL"),
		APITimeout:         v.GetDuration("API_TIMEOUT"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisPassword:      v.GetString("REDIS_PASSWORD"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		PrinterURL:         v.GetString("PRINTER_URL"),
		ArchiveBucket:      v.GetString("ARCHIVE_BUCKET"),
		ArchiveEndpoint:    v.GetString("ARCHIVE_ENDPOINT"),
		ArchiveRegion:      v.GetString("ARCHIVE_REGION"),
		ArchiveAccessKey:   v.GetString("ARCHIVE_ACCESS_KEY"),
		ArchiveSecretKey:   v.GetString("ARCHIVE_SECRET_KEY"),
		NoticeTTL:          v.GetDuration("NOTICE_TTL"),
		ShopName:           v.GetString("SHOP_NAME"),
		ShopAddress:        v.GetString("SHOP_ADDRESS"),
		ShopPhone:          v.GetString("SHOP_PHONE"),
	}
}

// splitList parses a comma-separated setting, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
