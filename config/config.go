package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Discord  DiscordConfig
	Poll     PollConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the bucket with option images.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ImagesBucket    string
	ImagesPrefix    string
}

// DiscordConfig holds bot credentials and where the poll lives.
type DiscordConfig struct {
	Token         string
	GuildID       string
	PollChannelID string
}

// PollConfig holds voting rules and display settings.
type PollConfig struct {
	ID                 string
	RefreshIntervalSec int
	TierRoles          map[string]float64 // role ID -> multiplier
	SupporterRoleID    string
	SupporterBonus     float64
	LevelBonus         float64
	LevelCacheSec      int
	EmojiEleven        string // API form, e.g. eleven:1475214132268761129
	EmojiTwelve        string
	ImageBaseURL       string // used when no S3 bucket is configured
	TimeZone           string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

const defaultTierRoles = "1465444240845963326:1.2,1465670134743044139:1.5,1465904476417163457:1.8,1465904548320378956:2.0,1465952085026541804:2.3"

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	tiers, err := ParseTierRoles(getEnv("POLL_TIER_ROLES", defaultTierRoles))
	if err != nil {
		return nil, fmt.Errorf("POLL_TIER_ROLES: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "pollbot"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ImagesBucket:    getEnv("AWS_S3_IMAGES_BUCKET", ""),
			ImagesPrefix:    getEnv("AWS_S3_IMAGES_PREFIX", "images/poll"),
		},
		Discord: DiscordConfig{
			Token:         getEnv("DISCORD_TOKEN", ""),
			GuildID:       getEnv("DISCORD_GUILD_ID", ""),
			PollChannelID: getEnv("POLL_CHANNEL_ID", ""),
		},
		Poll: PollConfig{
			ID:                 getEnv("POLL_ID", "character_poll_new"),
			RefreshIntervalSec: getEnvInt("POLL_REFRESH_SEC", 10),
			TierRoles:          tiers,
			SupporterRoleID:    getEnv("POLL_SUPPORTER_ROLE_ID", "1469284491456548976"),
			SupporterBonus:     getEnvFloat("POLL_SUPPORTER_BONUS", 0.5),
			LevelBonus:         getEnvFloat("POLL_LEVEL_BONUS", 0.02),
			LevelCacheSec:      getEnvInt("POLL_LEVEL_CACHE_SEC", 60),
			EmojiEleven:        getEnv("POLL_EMOJI_ELEVEN", "eleven:1475214132268761129"),
			EmojiTwelve:        getEnv("POLL_EMOJI_TWELVE", "twelve:1475214143589056713"),
			ImageBaseURL:       getEnv("POLL_IMAGE_BASE_URL", "https://velutinx.github.io/images/poll"),
			TimeZone:           getEnv("POLL_TIME_ZONE", "UTC"),
		},
	}
	if cfg.Discord.Token == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}
	return cfg, nil
}

// ParseTierRoles parses "roleID:multiplier,roleID:multiplier".
func ParseTierRoles(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, pair := range splitTrim(s, ",") {
		role, mult, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid tier %q", pair)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(mult), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid multiplier in %q: %w", pair, err)
		}
		out[strings.TrimSpace(role)] = f
	}
	return out, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
