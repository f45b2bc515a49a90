package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var (
	ServiceName    = "broker-gateway"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	Env                     string                    `mapstructure:"env"`
	Log                     LogConfig                 `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration             `mapstructure:"graceful_shutdown_timeout"`
	Port                    map[string]string         `mapstructure:"port"`
	Venue                   VenueConfig               `mapstructure:"venue"`
	Sync                    SyncConfig                `mapstructure:"sync"`
	Trading                 TradingConfig             `mapstructure:"trading"`
	Session                 SessionConfig             `mapstructure:"session"`
	Database                map[string]DatabaseConfig `mapstructure:"database"`
	Redis                   map[string]RedisConfig    `mapstructure:"redis"`
	SubmissionGuardTTL      time.Duration             `mapstructure:"submission_guard_ttl"`
	NatsJetstream           NatsJetstreamConfig       `mapstructure:"nats_jetstream"`
}

type VenueConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type SyncConfig struct {
	OrderBookInterval time.Duration `mapstructure:"order_book_interval"`
	AccountInterval   time.Duration `mapstructure:"account_interval"`
	OrderPollInterval time.Duration `mapstructure:"order_poll_interval"`
	MaxActivePolls    int           `mapstructure:"max_active_polls"`
	OrderBookDepth    int           `mapstructure:"order_book_depth"`
}

type TradingConfig struct {
	Timezone         string                     `mapstructure:"timezone"`
	DefaultCurrency  string                     `mapstructure:"default_currency"`
	ExpiryWindowDays int                        `mapstructure:"expiry_window_days"`
	DefaultFeeRate   decimal.Decimal            `mapstructure:"default_fee_rate"` // in percentage, e.g. 1 for 1%
	FeeRates         map[string]decimal.Decimal `mapstructure:"fee_rates"`        // instrument class -> percentage
	CurrencyDigits   map[string]int32           `mapstructure:"currency_digits"`
	PriceSteps       []PriceStepConfig          `mapstructure:"price_steps"`
}

type PriceStepConfig struct {
	From decimal.Decimal `mapstructure:"from"`
	Step decimal.Decimal `mapstructure:"step"`
}

type SessionConfig struct {
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	StreamAllowedOrigins []string      `mapstructure:"stream_allowed_origins"`
}

type NatsJetstreamConfig struct {
	URL             string        `mapstructure:"url"`
	MaxRetries      int           `mapstructure:"max_retries"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	PublishTimeout  time.Duration `mapstructure:"publish_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type RedisConfig struct {
	CacheDSN string `mapstructure:"cache_dsn"`
}

// Location resolves the venue timezone, UTC when unset.
func (t TradingConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(t.Timezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(t.Timezone)
}

func (c *EnvConfig) Validate() error {
	hundred := decimal.NewFromInt(100)
	checkRate := func(name string, rate decimal.Decimal) error {
		if rate.IsNegative() || rate.GreaterThan(hundred) {
			return fmt.Errorf("trading fee rate %s must be between 0 and 100, got %s", name, rate)
		}
		return nil
	}

	if err := checkRate("default", c.Trading.DefaultFeeRate); err != nil {
		return err
	}
	for class, rate := range c.Trading.FeeRates {
		if err := checkRate(class, rate); err != nil {
			return err
		}
	}

	if c.Trading.ExpiryWindowDays < 0 {
		return fmt.Errorf("trading expiry_window_days must not be negative")
	}

	if _, err := c.Trading.Location(); err != nil {
		return fmt.Errorf("invalid trading timezone: %w", err)
	}

	return nil
}

func LoadConfig(configPath string) error {
	viper.Reset()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	setDefaults()

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// decimals are written as strings or numbers in yaml
	err = viper.Unmarshal(&Env, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
		decimalFromNumberHook(),
	)))
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	err = Env.Validate()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// setDefaults covers process level settings only, component defaults live
// next to the component.
func setDefaults() {
	viper.SetDefault("env", "development")
	viper.SetDefault("log.log_level", "info")
	viper.SetDefault("graceful_shutdown_timeout", "10s")
	viper.SetDefault("port.gateway_http", "8080")
	viper.SetDefault("port.gateway_grpc", "9090")
}

func decimalFromNumberHook() mapstructure.DecodeHookFuncType {
	decimalType := reflect.TypeOf(decimal.Decimal{})
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		}
		return data, nil
	}
}
