package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Port                             string `mapstructure:"PORT" validate:"required,numeric"`
	GinMode                          string `mapstructure:"GIN_MODE" validate:"oneof=debug release test"`
	FirebaseProjectID                string `mapstructure:"FIREBASE_PROJECT_ID" validate:"required"`
	GoogleApplicationCredentials     string `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS"`
	FirebaseServiceAccountJSONBase64 string `mapstructure:"FIREBASE_SERVICE_ACCOUNT_JSON_BASE64"`
	StripeSecretKey                  string `mapstructure:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret              string `mapstructure:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	ClientURL                        string `mapstructure:"CLIENT_URL" validate:"omitempty,url"`

	// Outbound call budgets. A hung dependency must not hold a webhook request open.
	StripeTimeout    time.Duration `mapstructure:"STRIPE_TIMEOUT" validate:"gt=0"`
	StoreTimeout     time.Duration `mapstructure:"STORE_TIMEOUT" validate:"gt=0"`
	WebhookTolerance time.Duration `mapstructure:"WEBHOOK_TOLERANCE" validate:"gt=0"`

	RedisAddress      string        `mapstructure:"REDIS_ADDRESS"`
	RedisPassword     string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB           int           `mapstructure:"REDIS_DB" validate:"gte=0"`
	ProcessedEventTTL time.Duration `mapstructure:"PROCESSED_EVENT_TTL" validate:"gt=0"`

	RabbitMQURL    string        `mapstructure:"RABBITMQ_URL"`
	RabbitMQQueue  string        `mapstructure:"RABBITMQ_QUEUE" validate:"required"`
	PublishTimeout time.Duration `mapstructure:"PUBLISH_TIMEOUT" validate:"gt=0"`

	AWSRegion  string `mapstructure:"AWS_REGION"`
	MailSender string `mapstructure:"MAIL_SENDER" validate:"omitempty,email"`

	ReadRateLimit float64 `mapstructure:"READ_RATE_LIMIT" validate:"gt=0"`
	ReadRateBurst int     `mapstructure:"READ_RATE_BURST" validate:"gt=0"`
}

var keys = []string{
	"PORT",
	"GIN_MODE",
	"FIREBASE_PROJECT_ID",
	"GOOGLE_APPLICATION_CREDENTIALS",
	"FIREBASE_SERVICE_ACCOUNT_JSON_BASE64",
	"STRIPE_SECRET_KEY",
	"STRIPE_WEBHOOK_SECRET",
	"CLIENT_URL",
	"STRIPE_TIMEOUT",
	"STORE_TIMEOUT",
	"WEBHOOK_TOLERANCE",
	"REDIS_ADDRESS",
	"REDIS_PASSWORD",
	"REDIS_DB",
	"PROCESSED_EVENT_TTL",
	"RABBITMQ_URL",
	"RABBITMQ_QUEUE",
	"PUBLISH_TIMEOUT",
	"AWS_REGION",
	"MAIL_SENDER",
	"READ_RATE_LIMIT",
	"READ_RATE_BURST",
}

// LoadConfig loads the webhook server's configuration from an optional YAML file and the
// environment using Viper. Environment variables always win over the file. The file location
// can be set with PATH_CONFIG.
func LoadConfig() (*Config, error) {
	return load((*Config).ValidateServer)
}

// LoadNotifierConfig loads the same sources as LoadConfig but validates only what the
// change notifier uses; Stripe secrets are neither required nor checked.
func LoadNotifierConfig() (*Config, error) {
	return load((*Config).ValidateNotifier)
}

func load(validate func(*Config) error) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path := os.Getenv("PATH_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.New("failed to unmarshal config: " + err.Error())
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("STRIPE_TIMEOUT", 10*time.Second)
	v.SetDefault("STORE_TIMEOUT", 10*time.Second)
	v.SetDefault("WEBHOOK_TOLERANCE", 300*time.Second)
	v.SetDefault("REDIS_DB", 0)
	// Stripe keeps retrying a failed delivery for up to three days.
	v.SetDefault("PROCESSED_EVENT_TTL", 72*time.Hour)
	v.SetDefault("RABBITMQ_QUEUE", "subscription.changes")
	v.SetDefault("PUBLISH_TIMEOUT", 2*time.Second)
	v.SetDefault("READ_RATE_LIMIT", 20.0)
	v.SetDefault("READ_RATE_BURST", 40)
}

// Fields only the webhook server needs.
var serverOnlyFields = []string{"StripeSecretKey", "StripeWebhookSecret"}

// Validate checks the struct tags shared by every process.
func (c *Config) Validate() error {
	if err := validator.New().StructExcept(c, serverOnlyFields...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ValidateServer adds the Stripe settings the webhook server cannot run without.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := validator.New().StructPartial(c, serverOnlyFields...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !strings.HasPrefix(c.StripeWebhookSecret, "whsec_") {
		return errors.New("STRIPE_WEBHOOK_SECRET must be a Stripe signing secret (whsec_...)")
	}
	return nil
}

// ValidateNotifier adds the queue and mail settings the change notifier needs.
func (c *Config) ValidateNotifier() error {
	if err := c.Validate(); err != nil {
		return err
	}
	switch {
	case c.RabbitMQURL == "":
		return errors.New("invalid configuration: RABBITMQ_URL is required for the notifier")
	case c.MailSender == "":
		return errors.New("invalid configuration: MAIL_SENDER is required for the notifier")
	case c.AWSRegion == "":
		return errors.New("invalid configuration: AWS_REGION is required for the notifier")
	}
	return nil
}

// IsRelease reports whether the service runs in gin release mode.
func (c *Config) IsRelease() bool {
	return strings.EqualFold(c.GinMode, "release")
}
