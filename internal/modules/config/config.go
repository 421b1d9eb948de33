package config

import (
	"os"
	"path/filepath"
	"time"

	"arb_bot/internal/models"
	"arb_bot/pkg/logger"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFileENV    = "CONFIG_FILE"
	configDir        = "configs"
	databaseDSNENV   = "DATABASE_DSN"
	telegramTokenENV = "TELEGRAM_TOKEN"
)

// rawAccount — вид аккаунта в yaml до обогащения кредами.
type rawAccount struct {
	Name            string   `mapstructure:"name"`
	Enabled         *bool    `mapstructure:"enabled"`
	CredentialsFile string   `mapstructure:"credentials_file"`
	Timeframes      []string `mapstructure:"timeframes"`
	TradingPairs    []string `mapstructure:"trading_pairs"`
	Trading         struct {
		TIF              string  `mapstructure:"tif"`
		MaxRetries       int     `mapstructure:"max_retries"`
		RetryDelay       string  `mapstructure:"retry_delay"`
		RepoInterestRate float64 `mapstructure:"repo_interest_rate"`
		BidAdjustment    float64 `mapstructure:"bid_adjustment"`
		AskAdjustment    float64 `mapstructure:"ask_adjustment"`
		RepoPolicy       string  `mapstructure:"repo_policy"`
		AutoShort        struct {
			Enabled         bool    `mapstructure:"enabled"`
			Cooldown        string  `mapstructure:"cooldown"`
			PriceAdjustment float64 `mapstructure:"price_adjustment"`
		} `mapstructure:"auto_short"`
	} `mapstructure:"trading"`
	Currencies map[string]struct {
		MinQuantity       float64 `mapstructure:"min_quantity"`
		StrictLimit       float64 `mapstructure:"strict_limit"`
		RepoQuantity      float64 `mapstructure:"repo_quantity"`
		AutoShortQuantity float64 `mapstructure:"auto_short_quantity"`
		PriceDecimals     int32   `mapstructure:"price_decimals"`
		TruncateDecimals  int32   `mapstructure:"truncate_decimals"`
	} `mapstructure:"currencies"`
}

type rawConfig struct {
	Service struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"service"`
	LogFile  string `mapstructure:"log_file"`
	DB       string `mapstructure:"db_dsn"`
	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`
	Jaeger struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"jaeger"`
	Signals struct {
		ValidMessages    []string `mapstructure:"valid_messages"`
		ValidTimeframes  []string `mapstructure:"valid_timeframes"`
		DefaultTimeframe string   `mapstructure:"default_timeframe"`
		MinInterval      string   `mapstructure:"min_interval"`
	} `mapstructure:"signals"`
	Monitor struct {
		Interval       string `mapstructure:"interval"`
		RepoCheckEvery int    `mapstructure:"repo_check_every"`
	} `mapstructure:"monitor"`
	Accounts []rawAccount `mapstructure:"accounts"`
}

// Config — вся конфигурация процесса. Неизменяема после загрузки.
type Config struct {
	Host    string
	Port    int
	LogFile string
	DB      string

	TelegramToken  string
	TelegramChatID int64

	JaegerHost string
	JaegerPort int

	ValidMessages    []string
	ValidTimeframes  []string
	DefaultTimeframe string
	MinSignalWindow  time.Duration

	MonitorInterval time.Duration
	RepoCheckEvery  int

	Accounts     map[string]*models.Account
	AccountOrder []string          // порядок объявления в конфиге
	Routing      map[string]string // timeframe -> account name
	AllPairs     []string
}

func (c *Config) Account(name string) (*models.Account, bool) {
	acc, ok := c.Accounts[name]
	return acc, ok
}

// AccountForTimeframe — роутинг сигнала по таймфрейму.
func (c *Config) AccountForTimeframe(tf string) (*models.Account, bool) {
	if name, ok := c.Routing[tf]; ok {
		return c.Accounts[name], true
	}
	if acc, ok := c.Accounts["default"]; ok {
		return acc, true
	}
	return nil, false
}

func (c *Config) KnownPair(symbol string) bool {
	for _, p := range c.AllPairs {
		if p == symbol {
			return true
		}
	}
	return false
}

func NewConfig() (*Config, error) {
	name := os.Getenv(configFileENV)
	if name == "" {
		name = "values_local.yaml"
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(configDir, name))
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	cfg := &Config{
		Host:             defStr(raw.Service.Host, "0.0.0.0"),
		Port:             defInt(raw.Service.Port, 6101),
		LogFile:          defStr(raw.LogFile, "arb_bot.log"),
		DB:               raw.DB,
		TelegramToken:    raw.Telegram.Token,
		TelegramChatID:   raw.Telegram.ChatID,
		JaegerHost:       raw.Jaeger.Host,
		JaegerPort:       defInt(raw.Jaeger.Port, 6831),
		ValidMessages:    raw.Signals.ValidMessages,
		ValidTimeframes:  raw.Signals.ValidTimeframes,
		DefaultTimeframe: defStr(raw.Signals.DefaultTimeframe, "1h"),
		MinSignalWindow:  parseDur(raw.Signals.MinInterval, 5*time.Second),
		MonitorInterval:  parseDur(raw.Monitor.Interval, 30*time.Second),
		RepoCheckEvery:   defInt(raw.Monitor.RepoCheckEvery, 5),
		Accounts:         make(map[string]*models.Account),
		Routing:          make(map[string]string),
	}
	if len(cfg.ValidMessages) == 0 {
		cfg.ValidMessages = []string{models.MessageBuy, models.MessageSell}
	}
	if len(cfg.ValidTimeframes) == 0 {
		cfg.ValidTimeframes = []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d"}
	}

	if dsn := os.Getenv(databaseDSNENV); dsn != "" {
		cfg.DB = dsn
	}
	if tok := os.Getenv(telegramTokenENV); tok != "" {
		cfg.TelegramToken = tok
	}

	for _, ra := range raw.Accounts {
		if ra.Enabled != nil && !*ra.Enabled {
			continue
		}
		acc, err := buildAccount(ra)
		if err != nil {
			return nil, errors.Wrapf(err, "account %s", ra.Name)
		}
		cfg.Accounts[acc.Name] = acc
		cfg.AccountOrder = append(cfg.AccountOrder, acc.Name)

		for _, tf := range acc.Timeframes {
			if prev, dup := cfg.Routing[tf]; dup {
				logger.Warn("timeframe %s already routed to %s, overriding with %s", tf, prev, acc.Name)
			}
			cfg.Routing[tf] = acc.Name
		}
		for _, p := range acc.TradingPairs {
			if !contains(cfg.AllPairs, p) {
				cfg.AllPairs = append(cfg.AllPairs, p)
			}
		}
	}

	if len(cfg.Accounts) == 0 {
		return nil, errors.New("no enabled accounts in config")
	}

	return cfg, nil
}

func buildAccount(ra rawAccount) (*models.Account, error) {
	if ra.Name == "" {
		return nil, errors.New("account has no name")
	}
	if ra.CredentialsFile == "" {
		return nil, errors.New("credentials_file is required")
	}
	if len(ra.Timeframes) == 0 || len(ra.TradingPairs) == 0 {
		return nil, errors.New("timeframes and trading_pairs are required")
	}

	creds, err := loadCredentials(ra.CredentialsFile)
	if err != nil {
		return nil, err
	}

	acc := &models.Account{
		Name:         ra.Name,
		Credentials:  creds,
		TradingPairs: ra.TradingPairs,
		Timeframes:   ra.Timeframes,
		Currencies:   make(map[string]models.CurrencySettings),
		Trading: models.TradingSettings{
			TIF:              defStr(ra.Trading.TIF, "GTC"),
			MaxRetries:       defInt(ra.Trading.MaxRetries, 3),
			RetryDelay:       parseDur(ra.Trading.RetryDelay, time.Second),
			RepoInterestRate: defDec(ra.Trading.RepoInterestRate, "10"),
			BidAdjustment:    defDec(ra.Trading.BidAdjustment, "1.05"),
			AskAdjustment:    defDec(ra.Trading.AskAdjustment, "0.95"),
			RepoPolicy:       models.RepoPolicy(defStr(ra.Trading.RepoPolicy, string(models.RepoPolicyAPIWins))),
			AutoShort: models.AutoShortSettings{
				Enabled:         ra.Trading.AutoShort.Enabled,
				Cooldown:        parseDur(ra.Trading.AutoShort.Cooldown, 5*time.Minute),
				PriceAdjustment: defDec(ra.Trading.AutoShort.PriceAdjustment, "0.95"),
			},
		},
	}

	switch acc.Trading.RepoPolicy {
	case models.RepoPolicyAPIWins, models.RepoPolicyPushWins:
	default:
		return nil, errors.Errorf("unknown repo_policy %q", acc.Trading.RepoPolicy)
	}

	for cur, rc := range ra.Currencies {
		acc.Currencies[cur] = models.CurrencySettings{
			MinQuantity:       defDec(rc.MinQuantity, "0.001"),
			StrictLimit:       defDec(rc.StrictLimit, "0.001"),
			RepoQuantity:      defDec(rc.RepoQuantity, "0.001"),
			AutoShortQuantity: defDec(rc.AutoShortQuantity, "0.001"),
			PriceDecimals:     defI32(rc.PriceDecimals, 2),
			TruncateDecimals:  defI32(rc.TruncateDecimals, truncateDefault(cur)),
		}
	}

	if acc.Credentials.APIKey == "" || acc.Credentials.APISecret == "" ||
		acc.Credentials.BaseURL == "" || acc.Credentials.WSURL == "" {
		return nil, errors.New("missing required credentials")
	}

	return acc, nil
}

// Дефолтная точность усечения по валюте, как в боевых настройках.
func truncateDefault(currency string) int32 {
	switch currency {
	case "BTC":
		return 3
	case "ETH":
		return 2
	default:
		return 2
	}
}

func loadCredentials(file string) (models.Credentials, error) {
	var creds models.Credentials
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return creds, errors.Wrap(err, "read credentials file")
	}
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return creds, errors.Wrap(err, "decode credentials file")
	}
	return creds, nil
}

func defStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func defI32(v, def int32) int32 {
	if v == 0 {
		return def
	}
	return v
}

func defDec(v float64, def string) decimal.Decimal {
	if v == 0 {
		return decimal.RequireFromString(def)
	}
	return decimal.NewFromFloat(v)
}

func parseDur(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
