// config/config.go
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

// Config holds everything main.go needs to wire the service.
type Config struct {
	Port           string
	DatabaseURL    string
	AllowedOrigins []string
	LogMode        string

	// Shared secret the gateway sends in X-Service-Token.
	ServiceToken string
	// HS256 secret for learner/child session tokens.
	SessionJWTSecret string

	// Optional; empty means in-process locking.
	RedisURL string

	CatalogPath            string
	CatalogR2Key           string
	CatalogRefreshInterval time.Duration

	R2 R2Config

	Location         *time.Location
	OperationTimeout time.Duration

	Policy PolicyConfig
}

// R2Config is the Cloudflare R2 (S3 compatible) bucket holding the course catalog.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

func (r R2Config) Enabled() bool {
	return r.AccountID != "" && r.Bucket != ""
}

// StreakTier grants Percent bonus XP once the streak reaches MinStreak days.
type StreakTier struct {
	MinStreak int
	Percent   int
}

// PolicyConfig holds the tunable reward numbers.
type PolicyConfig struct {
	PassMark             int
	DefaultLessonXP      int64
	StreakTiers          []StreakTier
	RevealCostMultiplier int64
	RevealLevelDamping   int64
}

// DefaultStreakTiers is the stock bonus table: +10% at 3 days, +25% at 7, +50% at 30.
var DefaultStreakTiers = []StreakTier{
	{MinStreak: 3, Percent: 10},
	{MinStreak: 7, Percent: 25},
	{MinStreak: 30, Percent: 50},
}

func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		PassMark:             70,
		DefaultLessonXP:      50,
		StreakTiers:          append([]StreakTier(nil), DefaultStreakTiers...),
		RevealCostMultiplier: 2,
		RevealLevelDamping:   10,
	}
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", "5200"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		AllowedOrigins:         splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		LogMode:                getEnv("LOG_MODE", "dev"),
		ServiceToken:           os.Getenv("SERVICE_TOKEN"),
		SessionJWTSecret:       os.Getenv("SESSION_JWT_SECRET"),
		RedisURL:               os.Getenv("REDIS_URL"),
		CatalogPath:            getEnv("CATALOG_PATH", "./catalog.json"),
		CatalogR2Key:           os.Getenv("CATALOG_R2_KEY"),
		CatalogRefreshInterval: 5 * time.Minute,
		OperationTimeout:       5 * time.Second,
		R2: R2Config{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
		},
		Policy: DefaultPolicy(),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if cfg.ServiceToken == "" && cfg.SessionJWTSecret == "" {
		return nil, fmt.Errorf("at least one of SERVICE_TOKEN or SESSION_JWT_SECRET must be set")
	}

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Location = loc

	if cfg.OperationTimeout, err = getDuration("OPERATION_TIMEOUT", cfg.OperationTimeout); err != nil {
		return nil, err
	}
	if cfg.CatalogRefreshInterval, err = getDuration("CATALOG_REFRESH_INTERVAL", cfg.CatalogRefreshInterval); err != nil {
		return nil, err
	}

	if v := os.Getenv("PASS_MARK"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			return nil, fmt.Errorf("PASS_MARK must be an integer in 0..100, got %q", v)
		}
		cfg.Policy.PassMark = n
	}
	if v := os.Getenv("DEFAULT_LESSON_XP"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("DEFAULT_LESSON_XP must be a non-negative integer, got %q", v)
		}
		cfg.Policy.DefaultLessonXP = n
	}
	if v := os.Getenv("STREAK_BONUS_TIERS"); v != "" {
		tiers, err := ParseStreakTiers(v)
		if err != nil {
			return nil, err
		}
		cfg.Policy.StreakTiers = tiers
	}
	if v := os.Getenv("REVEAL_COST_MULTIPLIER"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("REVEAL_COST_MULTIPLIER must be a positive integer, got %q", v)
		}
		cfg.Policy.RevealCostMultiplier = n
	}
	if v := os.Getenv("REVEAL_LEVEL_DAMPING"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("REVEAL_LEVEL_DAMPING must be a positive integer, got %q", v)
		}
		cfg.Policy.RevealLevelDamping = n
	}

	return cfg, nil
}

// ParseStreakTiers parses "3:10,7:25,30:50" into tiers sorted by MinStreak.
// Percentages must not decrease as the streak grows.
func ParseStreakTiers(s string) ([]StreakTier, error) {
	var tiers []StreakTier
	for _, part := range splitList(s) {
		pieces := strings.SplitN(part, ":", 2)
		if len(pieces) != 2 {
			return nil, fmt.Errorf("invalid streak tier %q (want days:percent)", part)
		}
		days, err := strconv.Atoi(strings.TrimSpace(pieces[0]))
		if err != nil || days < 1 {
			return nil, fmt.Errorf("invalid streak tier days in %q", part)
		}
		pct, err := strconv.Atoi(strings.TrimSpace(pieces[1]))
		if err != nil || pct < 0 {
			return nil, fmt.Errorf("invalid streak tier percent in %q", part)
		}
		tiers = append(tiers, StreakTier{MinStreak: days, Percent: pct})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinStreak < tiers[j].MinStreak })
	for i := 1; i < len(tiers); i++ {
		if tiers[i].Percent < tiers[i-1].Percent {
			return nil, fmt.Errorf("streak tier percentages must be non-decreasing (%d%% at %d days after %d%%)",
				tiers[i].Percent, tiers[i].MinStreak, tiers[i-1].Percent)
		}
	}
	return tiers, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
