package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Credentials — доступы одного аккаунта. Загружаются из отдельного yaml-файла.
type Credentials struct {
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	Username    string `yaml:"api_username"`
	Password    string `yaml:"api_password"`
	Code        string `yaml:"api_code"`
	APIURL      string `yaml:"api_url"`      // ордерный REST
	BaseURL     string `yaml:"api_base_url"` // sso/балансы/репо
	WSURL       string `yaml:"ws_url"`
	CustodianID string `yaml:"custodian_id"`
}

// CurrencySettings — лимиты и точности по базовой валюте.
type CurrencySettings struct {
	MinQuantity       decimal.Decimal
	StrictLimit       decimal.Decimal
	RepoQuantity      decimal.Decimal
	AutoShortQuantity decimal.Decimal
	PriceDecimals     int32
	TruncateDecimals  int32
}

type AutoShortSettings struct {
	Enabled         bool
	Cooldown        time.Duration
	PriceAdjustment decimal.Decimal
}

// RepoPolicy — чей голос решает при расхождении push-фида и REST по статусу репо.
type RepoPolicy string

const (
	RepoPolicyAPIWins  RepoPolicy = "api_wins"
	RepoPolicyPushWins RepoPolicy = "push_wins"
)

type TradingSettings struct {
	TIF              string
	MaxRetries       int
	RetryDelay       time.Duration
	RepoInterestRate decimal.Decimal
	BidAdjustment    decimal.Decimal
	AskAdjustment    decimal.Decimal
	RepoPolicy       RepoPolicy
	AutoShort        AutoShortSettings
}

// Account — неизменяемая после загрузки конфигурация одного аккаунта.
// У каждого аккаунта ровно один фид-клиент и одна партиция стора позиций.
type Account struct {
	Name         string
	Credentials  Credentials
	TradingPairs []string
	Timeframes   []string
	Currencies   map[string]CurrencySettings
	Trading      TradingSettings
}

func (a *Account) Currency(base string) CurrencySettings {
	if cs, ok := a.Currencies[base]; ok {
		return cs
	}
	return CurrencySettings{
		MinQuantity:      decimal.RequireFromString("0.001"),
		StrictLimit:      decimal.RequireFromString("0.001"),
		PriceDecimals:    2,
		TruncateDecimals: 2,
	}
}

func (a *Account) HasPair(symbol string) bool {
	for _, p := range a.TradingPairs {
		if p == symbol {
			return true
		}
	}
	return false
}
