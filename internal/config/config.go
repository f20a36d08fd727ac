package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// FileConfig models config.yaml. Durations are Go duration strings.
type FileConfig struct {
	Backend struct {
		URL            string `yaml:"url"`
		HMACSecret     string `yaml:"hmacSecret"`
		RequestTimeout string `yaml:"requestTimeout"`
	} `yaml:"backend"`
	Payment struct {
		RecipientAddress    string `yaml:"recipientAddress"`
		PriceWei            string `yaml:"priceWei"`
		NetworkEndpoint     string `yaml:"networkEndpoint"`
		SignerEndpoint      string `yaml:"signerEndpoint"`
		PrivateKey          string `yaml:"privateKey"`
		MaxBlockAge         string `yaml:"maxBlockAge"`
		ConfirmTimeout      string `yaml:"confirmTimeout"`
		ConfirmPollInterval string `yaml:"confirmPollInterval"`
		MinConfirmations    int    `yaml:"minConfirmations"`
	} `yaml:"payment"`
	Polling struct {
		Interval string `yaml:"interval"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"polling"`
	Service struct {
		HTTPPort      int    `yaml:"httpPort"`
		ControlSecret string `yaml:"controlSecret"`
		HMACClockSkew string `yaml:"hmacClockSkew"`
	} `yaml:"service"`
	Ledger struct {
		Driver    string `yaml:"driver"`
		Path      string `yaml:"path"`
		DSN       string `yaml:"dsn"`
		RedisAddr string `yaml:"redisAddr"`
	} `yaml:"ledger"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// AppConfig is the parsed, validated configuration.
type AppConfig struct {
	Backend BackendConfig
	Payment PaymentConfig
	Polling PollingConfig
	Service ServiceConfig
	Ledger  LedgerConfig
	Log     LogConfig
}

type BackendConfig struct {
	URL            string
	HMACSecret     string
	RequestTimeout time.Duration
}

// PaymentConfig holds the deployment-time payment constants. Recipient and
// price are never taken from user input.
type PaymentConfig struct {
	Recipient           common.Address
	PriceWei            *big.Int
	NetworkEndpoint     string // empty selects the in-memory simulated network
	SignerEndpoint      string
	PrivateKey          string
	MaxBlockAge         time.Duration
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
	MinConfirmations    uint64
}

type PollingConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

type ServiceConfig struct {
	HTTPPort      int
	ControlSecret string
	HMACClockSkew time.Duration
}

type LedgerConfig struct {
	Driver    string
	Path      string
	DSN       string
	RedisAddr string
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	defaultConfigPath = "config.yaml"
	// 0.01 ETH.
	defaultPriceWei = "10000000000000000"
)

// Load reads the optional YAML file at CONFIG_PATH and applies environment overrides.
func Load() (*AppConfig, error) {
	path := envOr("CONFIG_PATH", defaultConfigPath)
	fileCfg, err := loadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	return FromFile(fileCfg)
}

// FromFile applies environment overrides and defaults to fileCfg and validates the result.
func FromFile(fileCfg *FileConfig) (*AppConfig, error) {
	requestTimeout, err := durationOr("BACKEND_REQUEST_TIMEOUT", fileCfg.Backend.RequestTimeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	maxBlockAge, err := durationOr("PAYMENT_MAX_BLOCK_AGE", fileCfg.Payment.MaxBlockAge, 60*time.Second)
	if err != nil {
		return nil, err
	}
	confirmTimeout, err := durationOr("PAYMENT_CONFIRM_TIMEOUT", fileCfg.Payment.ConfirmTimeout, 2*time.Minute)
	if err != nil {
		return nil, err
	}
	confirmPoll, err := durationOr("PAYMENT_CONFIRM_POLL_INTERVAL", fileCfg.Payment.ConfirmPollInterval, 2*time.Second)
	if err != nil {
		return nil, err
	}
	pollInterval, err := durationOr("POLL_INTERVAL", fileCfg.Polling.Interval, 5*time.Second)
	if err != nil {
		return nil, err
	}
	pollTimeout, err := durationOr("POLL_TIMEOUT", fileCfg.Polling.Timeout, 20*time.Minute)
	if err != nil {
		return nil, err
	}
	clockSkew, err := durationOr("HMAC_CLOCK_SKEW", fileCfg.Service.HMACClockSkew, 60*time.Second)
	if err != nil {
		return nil, err
	}

	recipientHex := envOr("PAYMENT_RECIPIENT_ADDRESS", fileCfg.Payment.RecipientAddress)
	if !common.IsHexAddress(recipientHex) {
		return nil, fmt.Errorf("invalid payment recipient address %q", recipientHex)
	}

	priceRaw := envOr("PAYMENT_PRICE_WEI", orDefault(fileCfg.Payment.PriceWei, defaultPriceWei))
	price, ok := new(big.Int).SetString(strings.TrimSpace(priceRaw), 10)
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("invalid payment price %q", priceRaw)
	}

	backendURL := strings.TrimRight(envOr("BACKEND_URL", orDefault(fileCfg.Backend.URL, "http://localhost:3004")), "/")
	if backendURL == "" {
		return nil, errors.New("backend url is required")
	}

	minConf := envOrInt("PAYMENT_MIN_CONFIRMATIONS", fileCfg.Payment.MinConfirmations)
	if minConf <= 0 {
		minConf = 1
	}

	cfg := &AppConfig{
		Backend: BackendConfig{
			URL:            backendURL,
			HMACSecret:     envOr("BACKEND_HMAC_SECRET", fileCfg.Backend.HMACSecret),
			RequestTimeout: requestTimeout,
		},
		Payment: PaymentConfig{
			Recipient:           common.HexToAddress(recipientHex),
			PriceWei:            price,
			NetworkEndpoint:     envOr("PAYMENT_NETWORK_ENDPOINT", fileCfg.Payment.NetworkEndpoint),
			SignerEndpoint:      envOr("PAYMENT_SIGNER_ENDPOINT", fileCfg.Payment.SignerEndpoint),
			PrivateKey:          envOr("PAYMENT_PRIVATE_KEY", fileCfg.Payment.PrivateKey),
			MaxBlockAge:         maxBlockAge,
			ConfirmTimeout:      confirmTimeout,
			ConfirmPollInterval: confirmPoll,
			MinConfirmations:    uint64(minConf),
		},
		Polling: PollingConfig{
			Interval: pollInterval,
			Timeout:  pollTimeout,
		},
		Service: ServiceConfig{
			HTTPPort:      envOrInt("API_HTTP_PORT", orDefaultInt(fileCfg.Service.HTTPPort, 3000)),
			ControlSecret: envOr("CONTROL_HMAC_SECRET", fileCfg.Service.ControlSecret),
			HMACClockSkew: clockSkew,
		},
		Ledger: LedgerConfig{
			Driver:    envOr("LEDGER_DRIVER", orDefault(fileCfg.Ledger.Driver, "file")),
			Path:      envOr("LEDGER_PATH", orDefault(fileCfg.Ledger.Path, filepath.Join(os.TempDir(), "demoreel-ledger.json"))),
			DSN:       envOr("LEDGER_DSN", fileCfg.Ledger.DSN),
			RedisAddr: envOr("LEDGER_REDIS_ADDR", fileCfg.Ledger.RedisAddr),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", orDefault(fileCfg.Log.Level, "info")),
			Format: envOr("LOG_FORMAT", orDefault(fileCfg.Log.Format, "json")),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func validate(cfg *AppConfig) error {
	if cfg.Service.HTTPPort < 0 || cfg.Service.HTTPPort > 65535 {
		return errors.New("service port must be between 0 and 65535")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"backend request timeout", cfg.Backend.RequestTimeout},
		{"payment max block age", cfg.Payment.MaxBlockAge},
		{"payment confirm timeout", cfg.Payment.ConfirmTimeout},
		{"payment confirm poll interval", cfg.Payment.ConfirmPollInterval},
		{"polling interval", cfg.Polling.Interval},
		{"polling timeout", cfg.Polling.Timeout},
		{"hmac clock skew", cfg.Service.HMACClockSkew},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	switch cfg.Ledger.Driver {
	case "memory", "file":
	case "postgres":
		if cfg.Ledger.DSN == "" {
			return errors.New("ledger dsn is required for the postgres driver")
		}
	case "redis":
		if cfg.Ledger.RedisAddr == "" {
			return errors.New("ledger redis address is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}
	return nil
}

func loadFile(path string) (*FileConfig, error) {
	var cfg FileConfig
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func durationOr(envKey, fileValue string, fallback time.Duration) (time.Duration, error) {
	raw := envOr(envKey, fileValue)
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", envKey, err)
	}
	return d, nil
}

func orDefault(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func orDefaultInt(val, fallback int) int {
	if val == 0 {
		return fallback
	}
	return val
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
