/*
Copyright 2024 Orangemart Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5100"

	DefaultCheckIntervalSeconds  = 10
	DefaultInvoiceTimeoutSeconds = 300
	DefaultMaxRetries            = 25
	DefaultReconnectDelaySeconds = 5
	DefaultMaxPendingPerActor    = 1
	DefaultMaxPurchaseAmount     = 10000
	DefaultMaxSendAmount         = 10000
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"ORANGEMART_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"ORANGEMART_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"ORANGEMART_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"ORANGEMART_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"ORANGEMART_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"ORANGEMART_SERVER_PORT"`
}

// GatewayConfig holds the LNbits connection settings. The WebSocket URL is
// derived from the base URL during validation, never configured directly.
type GatewayConfig struct {
	BaseUrl        string `json:"base_url" envconfig:"ORANGEMART_GATEWAY_BASE_URL"`
	ApiKey         string `json:"api_key" envconfig:"ORANGEMART_GATEWAY_API_KEY"`
	TimeoutSeconds int    `json:"timeout_seconds" envconfig:"ORANGEMART_GATEWAY_TIMEOUT_SECONDS"`
	WebSocketUrl   string `json:"-"`
}

type CurrencyConfig struct {
	Name               string `json:"name" envconfig:"ORANGEMART_CURRENCY_NAME"`
	SatsPerUnit        int64  `json:"sats_per_unit" envconfig:"ORANGEMART_CURRENCY_SATS_PER_UNIT"`
	PricePerUnit       int64  `json:"price_per_unit" envconfig:"ORANGEMART_CURRENCY_PRICE_PER_UNIT"`
	MaxPurchaseAmount  int64  `json:"max_purchase_amount" envconfig:"ORANGEMART_CURRENCY_MAX_PURCHASE"`
	MaxSendAmount      int64  `json:"max_send_amount" envconfig:"ORANGEMART_CURRENCY_MAX_SEND"`
	CooldownSeconds    int    `json:"cooldown_seconds" envconfig:"ORANGEMART_CURRENCY_COOLDOWN_SECONDS"`
	MaxPendingPerActor int    `json:"max_pending_per_actor" envconfig:"ORANGEMART_CURRENCY_MAX_PENDING"`
}

type VipConfig struct {
	PriceSats int64  `json:"price_sats" envconfig:"ORANGEMART_VIP_PRICE_SATS"`
	Command   string `json:"command" envconfig:"ORANGEMART_VIP_COMMAND"`
}

// InvoiceConfig controls the reconciliation loop: how often the fallback
// poller runs, how long an invoice may stay in flight, and how the push
// channel reconnects.
type InvoiceConfig struct {
	CheckIntervalSeconds  int      `json:"check_interval_seconds" envconfig:"ORANGEMART_INVOICE_CHECK_INTERVAL"`
	TimeoutSeconds        int      `json:"timeout_seconds" envconfig:"ORANGEMART_INVOICE_TIMEOUT_SECONDS"`
	MaxRetries            int      `json:"max_retries" envconfig:"ORANGEMART_INVOICE_MAX_RETRIES"`
	UseWebSockets         bool     `json:"use_websockets" envconfig:"ORANGEMART_INVOICE_USE_WEBSOCKETS"`
	ReconnectDelaySeconds int      `json:"reconnect_delay_seconds" envconfig:"ORANGEMART_INVOICE_RECONNECT_DELAY"`
	BlacklistedDomains    []string `json:"blacklisted_domains"`
	WhitelistedDomains    []string `json:"whitelisted_domains"`
}

type DiscordConfig struct {
	WebhookUrl  string `json:"webhook_url" envconfig:"ORANGEMART_DISCORD_WEBHOOK_URL"`
	ChannelName string `json:"channel_name" envconfig:"ORANGEMART_DISCORD_CHANNEL_NAME"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"ORANGEMART_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"ORANGEMART_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"ORANGEMART_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Configuration struct {
	ProjectName string          `json:"project_name" envconfig:"ORANGEMART_PROJECT_NAME"`
	DataDir     string          `json:"data_dir" envconfig:"ORANGEMART_DATA_DIR"`
	Server      ServerConfig    `json:"server"`
	Gateway     GatewayConfig   `json:"gateway"`
	Currency    CurrencyConfig  `json:"currency"`
	Vip         VipConfig       `json:"vip"`
	Invoice     InvoiceConfig   `json:"invoice"`
	Discord     DiscordConfig   `json:"discord"`
	RateLimit   RateLimitConfig `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("orangemart", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called orangemart.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Orangemart"
	}

	cnf.Gateway.BaseUrl = strings.TrimRight(strings.TrimSpace(cnf.Gateway.BaseUrl), "/")
	if cnf.Gateway.BaseUrl == "" {
		log.Println("Error: Gateway base URL is empty. It's a required field.")
		return errors.New("gateway base URL is required")
	}
	if _, err := url.ParseRequestURI(cnf.Gateway.BaseUrl); err != nil {
		return errors.New("gateway base URL is not a valid absolute URL")
	}
	if cnf.Gateway.ApiKey == "" {
		log.Println("Error: Gateway API key is empty. It's a required field.")
		return errors.New("gateway API key is required")
	}

	// The push channel shares the gateway host; swap the scheme.
	wsUrl := strings.Replace(cnf.Gateway.BaseUrl, "https://", "wss://", 1)
	wsUrl = strings.Replace(wsUrl, "http://", "ws://", 1)
	cnf.Gateway.WebSocketUrl = wsUrl

	if cnf.Gateway.TimeoutSeconds <= 0 {
		cnf.Gateway.TimeoutSeconds = 20
	}

	if cnf.DataDir == "" {
		cnf.DataDir = "./data"
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Currency.Name == "" {
		cnf.Currency.Name = "blood"
	}
	if cnf.Currency.SatsPerUnit <= 0 {
		cnf.Currency.SatsPerUnit = 1
	}
	if cnf.Currency.PricePerUnit <= 0 {
		cnf.Currency.PricePerUnit = 1
	}
	// Zero means "disabled" for the protection limits, so only repair
	// negatives here.
	if cnf.Currency.MaxPurchaseAmount < 0 {
		cnf.Currency.MaxPurchaseAmount = DefaultMaxPurchaseAmount
	}
	if cnf.Currency.MaxSendAmount < 0 {
		cnf.Currency.MaxSendAmount = DefaultMaxSendAmount
	}
	if cnf.Currency.CooldownSeconds < 0 {
		cnf.Currency.CooldownSeconds = 0
	}
	if cnf.Currency.MaxPendingPerActor < 0 {
		cnf.Currency.MaxPendingPerActor = DefaultMaxPendingPerActor
	}

	if cnf.Vip.PriceSats <= 0 {
		cnf.Vip.PriceSats = 1000
	}
	if cnf.Vip.Command == "" {
		cnf.Vip.Command = "usergroup add {player} vip"
	}

	if cnf.Invoice.CheckIntervalSeconds <= 0 {
		cnf.Invoice.CheckIntervalSeconds = DefaultCheckIntervalSeconds
	}
	if cnf.Invoice.TimeoutSeconds <= 0 {
		cnf.Invoice.TimeoutSeconds = DefaultInvoiceTimeoutSeconds
	}
	if cnf.Invoice.MaxRetries <= 0 {
		cnf.Invoice.MaxRetries = DefaultMaxRetries
	}
	if cnf.Invoice.ReconnectDelaySeconds <= 0 {
		cnf.Invoice.ReconnectDelaySeconds = DefaultReconnectDelaySeconds
	}
	for i, d := range cnf.Invoice.BlacklistedDomains {
		cnf.Invoice.BlacklistedDomains[i] = strings.ToLower(strings.TrimSpace(d))
	}
	for i, d := range cnf.Invoice.WhitelistedDomains {
		cnf.Invoice.WhitelistedDomains[i] = strings.ToLower(strings.TrimSpace(d))
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
