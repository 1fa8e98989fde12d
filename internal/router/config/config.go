package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config - структура для хранения конфигураций приложения
type Config struct {
	ServerAddress string `mapstructure:"SERVER_ADDRESS"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFormat     string `mapstructure:"LOG_FORMAT"`

	HTTPTimeout     time.Duration `mapstructure:"HTTP_TIMEOUT"`
	PipelineTimeout time.Duration `mapstructure:"PIPELINE_TIMEOUT"`

	PostgresConn string `mapstructure:"POSTGRES_CONN"`
	PostgresUser string `mapstructure:"POSTGRES_USERNAME"`
	PostgresPass string `mapstructure:"POSTGRES_PASSWORD"`
	PostgresHost string `mapstructure:"POSTGRES_HOST"`
	PostgresPort string `mapstructure:"POSTGRES_PORT"`
	PostgresDB   string `mapstructure:"POSTGRES_DATABASE"`
	MigrationURL string `mapstructure:"MIGRATION_URL"`

	IMAPAddress  string        `mapstructure:"IMAP_ADDRESS"`
	IMAPUsername string        `mapstructure:"IMAP_USERNAME"`
	IMAPPassword string        `mapstructure:"IMAP_PASSWORD"`
	IMAPMailbox  string        `mapstructure:"IMAP_MAILBOX"`
	IMAPTimeout  time.Duration `mapstructure:"IMAP_TIMEOUT"`
	PollInterval time.Duration `mapstructure:"POLL_INTERVAL"`

	SMTPAddress  string        `mapstructure:"SMTP_ADDRESS"`
	SMTPUsername string        `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string        `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string        `mapstructure:"SMTP_FROM"`
	SMTPTimeout  time.Duration `mapstructure:"SMTP_TIMEOUT"`

	ReplyBaseAddress string `mapstructure:"REPLY_BASE_ADDRESS"`
	ReplyPrefix      string `mapstructure:"REPLY_PREFIX"`

	OpenAIKey       string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `mapstructure:"OPENAI_BASE_URL"`
	OpenAIModel     string        `mapstructure:"OPENAI_MODEL"`
	OpenAITimeout   time.Duration `mapstructure:"OPENAI_TIMEOUT"`
	OpenAIMaxTokens int64         `mapstructure:"OPENAI_MAX_TOKENS"`

	NATSURL     string        `mapstructure:"NATS_URL"`
	NATSStream  string        `mapstructure:"NATS_STREAM"`
	NATSAckWait time.Duration `mapstructure:"NATS_ACK_WAIT"`

	WorkerConcurrency  int           `mapstructure:"WORKER_CONCURRENCY"`
	DeliveryMaxRetries int           `mapstructure:"DELIVERY_MAX_RETRIES"`
	DeliveryBaseDelay  time.Duration `mapstructure:"DELIVERY_BASE_DELAY"`
	RateLimitDelay     time.Duration `mapstructure:"DELIVERY_RATE_LIMIT_DELAY"`

	Scoring `mapstructure:",squash"`
}

// Scoring - настраиваемые константы формулы оценки предложений.
type Scoring struct {
	PriceWeight         float64 `mapstructure:"SCORE_PRICE_WEIGHT"`
	DeliveryPenaltyDay  float64 `mapstructure:"SCORE_DELIVERY_PENALTY_PER_DAY"`
	VaguePenalty        float64 `mapstructure:"SCORE_VAGUE_PENALTY"`
	MissingItemPenalty  float64 `mapstructure:"SCORE_MISSING_ITEM_PENALTY"`
	NoPricingPenalty    float64 `mapstructure:"SCORE_NO_PRICING_PENALTY"`
	OverBudgetRatio     float64 `mapstructure:"SCORE_OVER_BUDGET_RATIO"`
	OverBudgetCap       float64 `mapstructure:"SCORE_OVER_BUDGET_CAP"`
	MissingItemsCap     float64 `mapstructure:"SCORE_MISSING_ITEMS_CAP"`
	HistoryBonus        float64 `mapstructure:"SCORE_HISTORY_BONUS"`
	HistoryMinRating    float64 `mapstructure:"SCORE_HISTORY_MIN_RATING"`
	OnTimeThresholdDays int     `mapstructure:"RATING_ON_TIME_DAYS"`
}

// DefaultScoring возвращает константы оценки, используемые по умолчанию.
func DefaultScoring() Scoring {
	return Scoring{
		PriceWeight:         30,
		DeliveryPenaltyDay:  1,
		VaguePenalty:        10,
		MissingItemPenalty:  15,
		NoPricingPenalty:    25,
		OverBudgetRatio:     1.2,
		OverBudgetCap:       50,
		MissingItemsCap:     60,
		HistoryBonus:        15,
		HistoryMinRating:    1.0,
		OnTimeThresholdDays: 30,
	}
}

// defaults задает значения, используемые, если параметр не указан в app.env.
var defaults = map[string]any{
	"SERVER_ADDRESS":                 "0.0.0.0:8080",
	"LOG_LEVEL":                      "info",
	"LOG_FORMAT":                     "json",
	"HTTP_TIMEOUT":                   5 * time.Second,
	"PIPELINE_TIMEOUT":               5 * time.Minute,
	"MIGRATION_URL":                  "file://migrations",
	"IMAP_MAILBOX":                   "INBOX",
	"IMAP_TIMEOUT":                   30 * time.Second,
	"POLL_INTERVAL":                  time.Minute,
	"SMTP_TIMEOUT":                   30 * time.Second,
	"REPLY_PREFIX":                   "rfq",
	"OPENAI_MODEL":                   "gpt-4o-mini",
	"OPENAI_TIMEOUT":                 60 * time.Second,
	"OPENAI_MAX_TOKENS":              2000,
	"NATS_STREAM":                    "TENDER_TASKS",
	"NATS_ACK_WAIT":                  5 * time.Minute,
	"WORKER_CONCURRENCY":             5,
	"DELIVERY_MAX_RETRIES":           3,
	"DELIVERY_BASE_DELAY":            time.Second,
	"DELIVERY_RATE_LIMIT_DELAY":      10 * time.Second,
	"SCORE_PRICE_WEIGHT":             30.0,
	"SCORE_DELIVERY_PENALTY_PER_DAY": 1.0,
	"SCORE_VAGUE_PENALTY":            10.0,
	"SCORE_MISSING_ITEM_PENALTY":     15.0,
	"SCORE_NO_PRICING_PENALTY":       25.0,
	"SCORE_OVER_BUDGET_RATIO":        1.2,
	"SCORE_OVER_BUDGET_CAP":          50.0,
	"SCORE_MISSING_ITEMS_CAP":        60.0,
	"SCORE_HISTORY_BONUS":            15.0,
	"SCORE_HISTORY_MIN_RATING":       1.0,
	"RATING_ON_TIME_DAYS":            30,
}

// envOnly - параметры без значений по умолчанию, которые могут прийти только из окружения или app.env.
var envOnly = []string{
	"POSTGRES_CONN", "POSTGRES_USERNAME", "POSTGRES_PASSWORD", "POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DATABASE",
	"IMAP_ADDRESS", "IMAP_USERNAME", "IMAP_PASSWORD",
	"SMTP_ADDRESS", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	"REPLY_BASE_ADDRESS", "OPENAI_API_KEY", "OPENAI_BASE_URL", "NATS_URL",
}

// LoadConfig загружает конфигурацию из файла app.env; переменные окружения имеют приоритет.
func LoadConfig(path string) (cfg Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range envOnly {
		if err = v.BindEnv(key); err != nil {
			return
		}
	}

	err = v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}
	err = v.Unmarshal(&cfg)
	return
}

// Validate проверяет обязательные параметры для запуска конвейера.
func (c Config) Validate() error {
	var missing []string
	if c.PostgresConn == "" {
		missing = append(missing, "POSTGRES_CONN")
	}
	if c.ReplyBaseAddress == "" {
		missing = append(missing, "REPLY_BASE_ADDRESS")
	}
	if c.SMTPAddress == "" {
		missing = append(missing, "SMTP_ADDRESS")
	}
	if c.IMAPAddress == "" {
		missing = append(missing, "IMAP_ADDRESS")
	}
	if c.OpenAIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return errors.New("missing required config: " + strings.Join(missing, ", "))
	}
	return nil
}
