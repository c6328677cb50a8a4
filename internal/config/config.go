/**
 * @description
 * This package handles the configuration management for the checkout service
 * and the terminal client. It uses the Viper library to read configuration from
 * environment variables and an optional .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	defaultPINLength         = 4
	minPINLength             = 4
	maxPINLength             = 8
	defaultMaxAmountKobo     = 500_000_000
	defaultSweepSchedule     = "@every 5m"
	defaultAttemptPrefix     = "payflow:pin_attempts"
	defaultEventsExchange    = "transfa.events"
	defaultOperationTimeoutS = 60
)

// Config holds all the configuration variables for payflow.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	AppEnv                   string `mapstructure:"APP_ENV"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	EventsExchange           string `mapstructure:"EVENTS_EXCHANGE"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisAttemptPrefix       string `mapstructure:"REDIS_ATTEMPT_PREFIX"`
	TransactionServiceURL    string `mapstructure:"TRANSACTION_SERVICE_URL"`
	TransactionServiceToken  string `mapstructure:"TRANSACTION_SERVICE_TOKEN"`
	ClerkJWKSURL             string `mapstructure:"CLERK_JWKS_URL"`
	ClerkAudience            string `mapstructure:"CLERK_AUDIENCE"`
	ClerkIssuer              string `mapstructure:"CLERK_ISSUER"`
	CORSAllowedOrigins       string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	PINLength                int    `mapstructure:"PIN_LENGTH"`
	PINMaxAttempts           int    `mapstructure:"PIN_MAX_ATTEMPTS"`
	PINLockoutSeconds        int    `mapstructure:"PIN_LOCKOUT_SECONDS"`
	PINResendSeconds         int    `mapstructure:"PIN_RESEND_SECONDS"`
	BiometricEnabled         bool   `mapstructure:"BIOMETRIC_ENABLED"`
	SuccessDurationMs        int    `mapstructure:"SUCCESS_DURATION_MS"`
	ErrorDurationMs          int    `mapstructure:"ERROR_DURATION_MS"`
	ToastTTLMs               int    `mapstructure:"TOAST_TTL_MS"`
	MismatchResetMs          int    `mapstructure:"MISMATCH_RESET_MS"`
	OperationTimeoutSeconds  int    `mapstructure:"OPERATION_TIMEOUT_SECONDS"`
	MaxTransactionAmountKobo int64  `mapstructure:"MAX_TRANSACTION_AMOUNT_KOBO"`
	WorkspaceIdleMinutes     int    `mapstructure:"WORKSPACE_IDLE_MINUTES"`
	WorkspaceSweepSchedule   string `mapstructure:"WORKSPACE_SWEEP_SCHEDULE"`
	AlertTimeoutSeconds      int    `mapstructure:"ALERT_TIMEOUT_SECONDS"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8090")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("REDIS_ATTEMPT_PREFIX", defaultAttemptPrefix)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("PIN_LENGTH", defaultPINLength)
	viper.SetDefault("PIN_MAX_ATTEMPTS", 5)
	viper.SetDefault("PIN_LOCKOUT_SECONDS", 900)
	viper.SetDefault("PIN_RESEND_SECONDS", 30)
	viper.SetDefault("BIOMETRIC_ENABLED", true)
	viper.SetDefault("SUCCESS_DURATION_MS", 2000)
	viper.SetDefault("ERROR_DURATION_MS", 3000)
	viper.SetDefault("TOAST_TTL_MS", 3000)
	viper.SetDefault("MISMATCH_RESET_MS", 2000)
	viper.SetDefault("OPERATION_TIMEOUT_SECONDS", defaultOperationTimeoutS)
	viper.SetDefault("MAX_TRANSACTION_AMOUNT_KOBO", defaultMaxAmountKobo)
	viper.SetDefault("WORKSPACE_IDLE_MINUTES", 30)
	viper.SetDefault("WORKSPACE_SWEEP_SCHEDULE", defaultSweepSchedule)
	viper.SetDefault("ALERT_TIMEOUT_SECONDS", 300)

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("APP_ENV", "APP_ENV", "ENVIRONMENT")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYFLOW_REDIS_URL")
	_ = viper.BindEnv("REDIS_ATTEMPT_PREFIX")
	_ = viper.BindEnv("TRANSACTION_SERVICE_URL", "TRANSACTION_SERVICE_URL", "TRANSACTION_SERVICE_BASE_URL")
	_ = viper.BindEnv("TRANSACTION_SERVICE_TOKEN")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("CLERK_AUDIENCE")
	_ = viper.BindEnv("CLERK_ISSUER")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("PIN_LENGTH")
	_ = viper.BindEnv("PIN_MAX_ATTEMPTS")
	_ = viper.BindEnv("PIN_LOCKOUT_SECONDS")
	_ = viper.BindEnv("PIN_RESEND_SECONDS")
	_ = viper.BindEnv("BIOMETRIC_ENABLED")
	_ = viper.BindEnv("SUCCESS_DURATION_MS")
	_ = viper.BindEnv("ERROR_DURATION_MS")
	_ = viper.BindEnv("TOAST_TTL_MS")
	_ = viper.BindEnv("MISMATCH_RESET_MS")
	_ = viper.BindEnv("OPERATION_TIMEOUT_SECONDS")
	_ = viper.BindEnv("MAX_TRANSACTION_AMOUNT_KOBO")
	_ = viper.BindEnv("MAX_TRANSACTION_AMOUNT_NAIRA")
	_ = viper.BindEnv("WORKSPACE_IDLE_MINUTES")
	_ = viper.BindEnv("WORKSPACE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("ALERT_TIMEOUT_SECONDS")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.AppEnv = strings.ToLower(strings.TrimSpace(config.AppEnv))
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.TransactionServiceURL = strings.TrimSuffix(strings.TrimSpace(config.TransactionServiceURL), "/")
	config.TransactionServiceToken = strings.TrimSpace(config.TransactionServiceToken)
	config.ClerkJWKSURL = strings.TrimSpace(config.ClerkJWKSURL)
	config.ClerkAudience = strings.TrimSpace(config.ClerkAudience)
	config.ClerkIssuer = strings.TrimSpace(config.ClerkIssuer)

	config.EventsExchange = strings.TrimSpace(config.EventsExchange)
	if config.EventsExchange == "" {
		config.EventsExchange = defaultEventsExchange
	}
	config.RedisAttemptPrefix = strings.TrimSpace(config.RedisAttemptPrefix)
	if config.RedisAttemptPrefix == "" {
		config.RedisAttemptPrefix = defaultAttemptPrefix
	}

	// Allow the limit in whole naira via MAX_TRANSACTION_AMOUNT_NAIRA.
	if viper.IsSet("MAX_TRANSACTION_AMOUNT_NAIRA") {
		amountStr := strings.TrimSpace(viper.GetString("MAX_TRANSACTION_AMOUNT_NAIRA"))
		if amountStr != "" {
			amountValue, parseErr := strconv.ParseFloat(amountStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid MAX_TRANSACTION_AMOUNT_NAIRA\" value=%q err=%v", amountStr, parseErr)
			} else {
				config.MaxTransactionAmountKobo = int64(math.Round(amountValue * 100))
			}
		}
	}
	if config.MaxTransactionAmountKobo <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive transaction limit configured; using default\" limit_kobo=%d", config.MaxTransactionAmountKobo)
		config.MaxTransactionAmountKobo = defaultMaxAmountKobo
	}

	if config.PINLength < minPINLength || config.PINLength > maxPINLength {
		log.Printf("level=warn component=config msg=\"pin length out of range; using default\" pin_length=%d", config.PINLength)
		config.PINLength = defaultPINLength
	}
	if config.PINMaxAttempts <= 0 {
		config.PINMaxAttempts = 5
	}
	if config.PINLockoutSeconds < 0 {
		log.Printf("level=warn component=config msg=\"negative pin lockout configured; disabling lockout\" lockout_seconds=%d", config.PINLockoutSeconds)
		config.PINLockoutSeconds = 0
	}
	if config.PINResendSeconds <= 0 {
		config.PINResendSeconds = 30
	}
	if config.SuccessDurationMs <= 0 {
		config.SuccessDurationMs = 2000
	}
	if config.ErrorDurationMs <= 0 {
		config.ErrorDurationMs = 3000
	}
	if config.ToastTTLMs <= 0 {
		config.ToastTTLMs = 3000
	}
	if config.MismatchResetMs <= 0 {
		config.MismatchResetMs = 2000
	}
	if config.OperationTimeoutSeconds <= 0 {
		config.OperationTimeoutSeconds = defaultOperationTimeoutS
	}
	if config.WorkspaceIdleMinutes <= 0 {
		config.WorkspaceIdleMinutes = 30
	}
	if config.AlertTimeoutSeconds < 0 {
		config.AlertTimeoutSeconds = 0
	}

	config.WorkspaceSweepSchedule = strings.TrimSpace(config.WorkspaceSweepSchedule)
	if _, parseErr := cron.ParseStandard(config.WorkspaceSweepSchedule); parseErr != nil {
		log.Printf("level=warn component=config msg=\"invalid workspace sweep schedule; using default\" schedule=%q err=%v", config.WorkspaceSweepSchedule, parseErr)
		config.WorkspaceSweepSchedule = defaultSweepSchedule
	}

	return
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func (c Config) IsProduction() bool { return c.AppEnv == "production" }

func (c Config) SuccessDuration() time.Duration {
	return time.Duration(c.SuccessDurationMs) * time.Millisecond
}

func (c Config) ErrorDuration() time.Duration {
	return time.Duration(c.ErrorDurationMs) * time.Millisecond
}

func (c Config) ToastTTL() time.Duration { return time.Duration(c.ToastTTLMs) * time.Millisecond }

func (c Config) MismatchResetDelay() time.Duration {
	return time.Duration(c.MismatchResetMs) * time.Millisecond
}

func (c Config) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutSeconds) * time.Second
}

func (c Config) PINLockout() time.Duration {
	return time.Duration(c.PINLockoutSeconds) * time.Second
}

func (c Config) PINResendCooldown() time.Duration {
	return time.Duration(c.PINResendSeconds) * time.Second
}

func (c Config) WorkspaceIdle() time.Duration {
	return time.Duration(c.WorkspaceIdleMinutes) * time.Minute
}

// AlertTimeout is zero when alerts wait indefinitely.
func (c Config) AlertTimeout() time.Duration {
	return time.Duration(c.AlertTimeoutSeconds) * time.Second
}
