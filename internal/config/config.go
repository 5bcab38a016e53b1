// config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr string

	DB    DBConfig
	Redis RedisConfig
	Kafka KafkaConfig

	Jobs     JobsConfig
	Benefit  BenefitConfig
	Referral ReferralConfig
	Pool     PoolConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Addrs    []string
	Password string
}

type KafkaConfig struct {
	Brokers    []string
	AlertTopic string
}

// JobsConfig gates and paces the daily batch ticks. Disabled jobs must no-op
// cleanly, logging the skip.
type JobsConfig struct {
	BenefitReleaseEnabled    bool
	CommissionReleaseEnabled bool
	TickInterval             time.Duration
	LockTTL                  time.Duration
	StaleAfter               time.Duration
}

// BenefitConfig holds the compiled-in accrual defaults. Cohort records may
// override commission rates, never the cycle geometry.
type BenefitConfig struct {
	Cycles         int
	ProductionDays int
	PauseDays      int
	DailyRate      decimal.Decimal
	CashbackRate   decimal.Decimal
	CashbackDays   int
	MaxAttempts    int
}

type ReferralConfig struct {
	DirectRate       decimal.Decimal
	ParentRate       decimal.Decimal
	DirectUnlockDays int
	ParentUnlockDays int
}

type PoolConfig struct {
	Policy          string
	AssignmentTTL   time.Duration
	DefaultCooldown time.Duration
}

func Load() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8087"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "licensing"),
		},
		Redis: RedisConfig{
			Addrs:    strings.Split(getEnv("REDIS_ADDRS", "localhost:6379"), ","),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:    splitNonEmpty(getEnv("KAFKA_BROKERS", "")),
			AlertTopic: getEnv("KAFKA_ALERT_TOPIC", "ops.job-alerts"),
		},
		Jobs: JobsConfig{
			BenefitReleaseEnabled:    getEnvAsBool("BENEFIT_RELEASE_ENABLED", true),
			CommissionReleaseEnabled: getEnvAsBool("COMMISSION_RELEASE_ENABLED", true),
			TickInterval:             getEnvAsDuration("JOB_TICK_INTERVAL", 24*time.Hour),
			LockTTL:                  getEnvAsDuration("JOB_LOCK_TTL", 30*time.Minute),
			StaleAfter:               getEnvAsDuration("JOB_STALE_AFTER", 25*time.Hour),
		},
		Benefit: BenefitConfig{
			Cycles:         getEnvAsInt("BENEFIT_CYCLES", 5),
			ProductionDays: getEnvAsInt("BENEFIT_PRODUCTION_DAYS", 8),
			PauseDays:      getEnvAsInt("BENEFIT_PAUSE_DAYS", 1),
			DailyRate:      getEnvAsDecimal("BENEFIT_DAILY_RATE", "0.125"),
			CashbackRate:   getEnvAsDecimal("BENEFIT_CASHBACK_RATE", "1.0"),
			CashbackDays:   getEnvAsInt("BENEFIT_CASHBACK_DAYS", 8),
			MaxAttempts:    getEnvAsInt("BENEFIT_MAX_ATTEMPTS", 3),
		},
		Referral: ReferralConfig{
			DirectRate:       getEnvAsDecimal("REFERRAL_DIRECT_RATE", "0.10"),
			ParentRate:       getEnvAsDecimal("REFERRAL_PARENT_RATE", "0.10"),
			DirectUnlockDays: getEnvAsInt("REFERRAL_DIRECT_UNLOCK_DAYS", 9),
			ParentUnlockDays: getEnvAsInt("REFERRAL_PARENT_UNLOCK_DAYS", 17),
		},
		Pool: PoolConfig{
			Policy:          getEnv("POOL_POLICY", "random"),
			AssignmentTTL:   getEnvAsDuration("POOL_ASSIGNMENT_TTL", 24*time.Hour),
			DefaultCooldown: getEnvAsDuration("POOL_DEFAULT_COOLDOWN", 15*time.Minute),
		},
	}
}

// ============================================================================
// Helper Functions
// ============================================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDecimal(key, defaultValue string) decimal.Decimal {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.RequireFromString(defaultValue)
	}
	return value
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
