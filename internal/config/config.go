package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Service holds process-level settings.
type Service struct {
	Environment string        `envconfig:"SERVICE_ENVIRONMENT" default:"development"`
	RunTimeout  time.Duration `envconfig:"RUN_TIMEOUT" default:"0"`
}

// ClickHouse holds warehouse connection settings.
type ClickHouse struct {
	Host            string `envconfig:"CLICKHOUSE_HOST" required:"true"`
	Port            string `envconfig:"CLICKHOUSE_PORT" required:"true"`
	Database        string `envconfig:"CLICKHOUSE_DB" required:"true"`
	User            string `envconfig:"CLICKHOUSE_USER" default:""`
	Password        string `envconfig:"CLICKHOUSE_PASSWORD" default:""`
	UseTLS          bool   `envconfig:"CLICKHOUSE_USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"CLICKHOUSE_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"CLICKHOUSE_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CLICKHOUSE_CONN_MAX_LIFETIME_SEC" default:"3600"`
	LogTable        string `envconfig:"CLICKHOUSE_LOG_TABLE" default:"ad_conversion_log"`
}

// Sync holds the engine options.
type Sync struct {
	LookbackDays              int    `envconfig:"LOOKBACK_DAYS" default:"30"`
	MaxRetries                int    `envconfig:"MAX_RETRIES" default:"3"`
	SendRenewalPayments       bool   `envconfig:"SEND_RENEWAL_PAYMENTS" default:"false"`
	DryRun                    bool   `envconfig:"DRY_RUN" default:"false"`
	CurrencyCode              string `envconfig:"CURRENCY_CODE" default:"USD"`
	EnableEnhancedConversions bool   `envconfig:"ENABLE_ENHANCED_CONVERSIONS" default:"true"`
	ActionMapPath             string `envconfig:"ACTION_MAP_PATH" default:"action_map.yaml"`
}

// GoogleAds holds the Google Ads API settings. Credential acquisition
// is out of scope: the uploader expects a ready access token.
type GoogleAds struct {
	CustomerID      string `envconfig:"GOOGLE_ADS_CUSTOMER_ID" required:"true"`
	LoginCustomerID string `envconfig:"GOOGLE_ADS_LOGIN_CUSTOMER_ID" required:"true"`
	DeveloperToken  string `envconfig:"GOOGLE_ADS_DEVELOPER_TOKEN" required:"true"`
	AccessToken     string `envconfig:"GOOGLE_ADS_ACCESS_TOKEN" required:"true"`
	BaseURL         string `envconfig:"GOOGLE_ADS_BASE_URL" default:"https://googleads.googleapis.com/v17"`
}

// MicrosoftAds holds the Microsoft Ads conversions endpoint settings.
type MicrosoftAds struct {
	TagID   string `envconfig:"MS_CAPI_TAG_ID" required:"true"`
	Token   string `envconfig:"MS_CAPI_TOKEN" required:"true"`
	BaseURL string `envconfig:"MS_CAPI_BASE_URL" default:"https://capi.bingads.microsoft.com/v1"`
}

// SQS holds the optional run-summary notification queue. Disabled when
// QueueURL is empty.
type SQS struct {
	Endpoint string `envconfig:"SQS_ENDPOINT"`
	QueueURL string `envconfig:"SQS_QUEUE_URL"`
	Region   string `envconfig:"SQS_REGION" default:"us-east-1"`
}

// Metrics holds the optional Pushgateway settings. Disabled when
// PushgatewayURL is empty.
type Metrics struct {
	PushgatewayURL string `envconfig:"METRICS_PUSHGATEWAY_URL"`
	JobName        string `envconfig:"METRICS_JOB_NAME" default:"conversion_syncer"`
}

type Config struct {
	Service      Service
	ClickHouse   ClickHouse
	Sync         Sync
	GoogleAds    GoogleAds
	MicrosoftAds MicrosoftAds
	SQS          SQS
	Metrics      Metrics
}

// Load builds the configuration from the environment. Platform
// credentials are not required in dry-run mode, where no external call
// is made.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg.Service); err != nil {
		return nil, fmt.Errorf("failed to process service config: %w", err)
	}
	if err := envconfig.Process("", &cfg.ClickHouse); err != nil {
		return nil, fmt.Errorf("failed to process clickhouse config: %w", err)
	}
	if err := envconfig.Process("", &cfg.Sync); err != nil {
		return nil, fmt.Errorf("failed to process sync config: %w", err)
	}
	if err := envconfig.Process("", &cfg.SQS); err != nil {
		return nil, fmt.Errorf("failed to process sqs config: %w", err)
	}
	if err := envconfig.Process("", &cfg.Metrics); err != nil {
		return nil, fmt.Errorf("failed to process metrics config: %w", err)
	}
	if !cfg.Sync.DryRun {
		if err := envconfig.Process("", &cfg.GoogleAds); err != nil {
			return nil, fmt.Errorf("failed to process google ads config: %w", err)
		}
		if err := envconfig.Process("", &cfg.MicrosoftAds); err != nil {
			return nil, fmt.Errorf("failed to process microsoft ads config: %w", err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Sync.LookbackDays <= 0 {
		return fmt.Errorf("LOOKBACK_DAYS must be positive, got %d", c.Sync.LookbackDays)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.CurrencyCode == "" {
		return fmt.Errorf("CURRENCY_CODE must not be empty")
	}
	return nil
}
