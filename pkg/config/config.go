package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORS            bool          `yaml:"cors"`
	} `yaml:"server"`
	Logger struct {
		Level          string        `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format         string        `yaml:"format" default:"json" validate:"oneof=json console"`
		Output         string        `yaml:"output" default:"stdout"`
		CollectTopic   string        `yaml:"collect_topic"`
		CollectEvery   time.Duration `yaml:"collect_every" default:"30s"`
		CollectMaxKeys int           `yaml:"collect_max_keys" default:"100"`
	} `yaml:"logger"`
	Redis struct {
		Addr     string `yaml:"addr" default:"localhost:6379" validate:"required"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		Prefix   string `yaml:"prefix" default:"eventarb"`
	} `yaml:"redis"`
	Postgres struct {
		DSN      string `yaml:"dsn"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"5432"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database" default:"eventarb"`
		SSLMode  string `yaml:"ssl_mode" default:"disable"`
	} `yaml:"postgres"`
	ClickHouse struct {
		Host         string        `yaml:"host" default:"localhost" validate:"required"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"eventarb" validate:"required"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Brokers           []string `yaml:"brokers" validate:"required,min=1"`
		FillsTopic        string   `yaml:"fills_topic" default:"eventarb.fills"`
		EventChangesTopic string   `yaml:"event_changes_topic" default:"eventarb.event-changes"`
		Compression       string   `yaml:"compression" default:"gzip"`
		RequiredAcks      int      `yaml:"required_acks" default:"-1"`
		Producer          struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"eventarb-core"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"eventarb.event-changes.dlq"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Exchange struct {
		BaseURL         string        `yaml:"base_url" default:"https://api.binance.com" validate:"required,url"`
		StreamURL       string        `yaml:"stream_url" default:"wss://stream.binance.com:9443/ws"`
		APIKey          string        `yaml:"api_key"`
		APISecret       string        `yaml:"api_secret"`
		Symbols         []string      `yaml:"symbols"`
		Timeout         time.Duration `yaml:"timeout" default:"10s"`
		PriceMaxAge     time.Duration `yaml:"price_max_age" default:"30s"`
		FiltersTTL      time.Duration `yaml:"filters_ttl" default:"1h"`
		ReconnectDelay  time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval    time.Duration `yaml:"ping_interval" default:"30s"`
		RecvWindowMilli int           `yaml:"recv_window_ms" default:"5000"`
	} `yaml:"exchange"`
	Scheduler struct {
		PollInterval    time.Duration `yaml:"poll_interval" default:"60s" validate:"gt=0"`
		Horizon         time.Duration `yaml:"horizon" default:"24h" validate:"gt=0"`
		FireWindow      time.Duration `yaml:"fire_window" default:"300s" validate:"gt=0"`
		LoadTimeout     time.Duration `yaml:"load_timeout" default:"10s"`
		FireTimeout     time.Duration `yaml:"fire_timeout" default:"60s"`
		LedgerRetention time.Duration `yaml:"ledger_retention" default:"720h"`
	} `yaml:"scheduler"`
	Risk struct {
		StartingCapital     float64       `yaml:"starting_capital" default:"500" validate:"gt=0"`
		MaxTradesPerDay     int           `yaml:"max_trades_per_day" default:"20" validate:"gt=0"`
		MaxDailyLossPct     float64       `yaml:"max_daily_loss_pct" default:"5" validate:"gt=0,lte=100"`
		DailyLossLimitCents int64         `yaml:"daily_loss_limit_cents" default:"10000" validate:"gte=0"`
		Timezone            string        `yaml:"timezone" default:"UTC" validate:"required"`
		StoreTimeout        time.Duration `yaml:"store_timeout" default:"3s"`
	} `yaml:"risk"`
	Execution struct {
		Simulation      bool          `yaml:"simulation" default:"true"`
		MinNotional     float64       `yaml:"min_notional" default:"10" validate:"gt=0"`
		NotionalMargin  float64       `yaml:"notional_margin" default:"0.001" validate:"gte=0"`
		QtyPrecision    int32         `yaml:"qty_precision" default:"6" validate:"gte=0,lte=18"`
		PricePrecision  int32         `yaml:"price_precision" default:"8" validate:"gte=0,lte=18"`
		TickSize        float64       `yaml:"tick_size" default:"0.01" validate:"gt=0"`
		MaxNudgeRetries int           `yaml:"max_nudge_retries" default:"1" validate:"gte=0"`
		FeeRateBps      float64       `yaml:"fee_rate_bps" default:"10" validate:"gte=0"`
		OrderTimeout    time.Duration `yaml:"order_timeout" default:"10s"`
	} `yaml:"execution"`
	Planner struct {
		DefaultNotional float64 `yaml:"default_notional" default:"25" validate:"gt=0"`
	} `yaml:"planner"`
	Alerts struct {
		Error   AlertRule     `yaml:"error"`
		Warning AlertRule     `yaml:"warning"`
		Sweep   time.Duration `yaml:"sweep" default:"10m"`
	} `yaml:"alerts"`
	Notify struct {
		Timeout       time.Duration `yaml:"timeout" default:"10s"`
		MaxLength     int           `yaml:"max_length" default:"4000"`
		RatePerMinute int           `yaml:"rate_per_minute" default:"20"`
		Telegram      struct {
			APIURL   string `yaml:"api_url" default:"https://api.telegram.org"`
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`
		Discord struct {
			WebhookURL string `yaml:"webhook_url"`
		} `yaml:"discord"`
	} `yaml:"notify"`
}

// AlertRule is the windowed threshold for one severity.
type AlertRule struct {
	Window    time.Duration `yaml:"window"`
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides secrets and endpoints
// with environment variables before validating.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// decode applies defaults and then decodes YAML on top of them.
func decode(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyAlertDefaults()
	return &c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("EXCHANGE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := getenv("EXCHANGE_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.Telegram.BotToken = v
	}
	if v := getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Notify.Telegram.ChatID = v
	}
	if v := getenv("DISCORD_WEBHOOK_URL"); v != "" {
		c.Notify.Discord.WebhookURL = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	switch strings.ToLower(getenv("SIMULATION")) {
	case "1", "true", "yes":
		c.Execution.Simulation = true
	case "0", "false", "no":
		c.Execution.Simulation = false
	}
}

// AlertRule is shared by both severities, so its defaults live here rather
// than in struct tags.
func (c *Config) applyAlertDefaults() {
	fill := func(r *AlertRule, window time.Duration, threshold int, cooldown time.Duration) {
		if r.Window <= 0 {
			r.Window = window
		}
		if r.Threshold <= 0 {
			r.Threshold = threshold
		}
		if r.Cooldown <= 0 {
			r.Cooldown = cooldown
		}
	}
	fill(&c.Alerts.Error, 180*time.Second, 5, 300*time.Second)
	fill(&c.Alerts.Warning, 300*time.Second, 10, 600*time.Second)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Risk.Timezone); err != nil {
		return fmt.Errorf("risk.timezone: %w", err)
	}
	if !c.Execution.Simulation && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("exchange.api_key and exchange.api_secret are required when simulation is off")
	}
	return nil
}

// Location returns the reference timezone for daily state keys.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Risk.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
