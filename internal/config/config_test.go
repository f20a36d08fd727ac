package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testRecipient = "0x1111111111111111111111111111111111111111"

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
backend:
  url: https://api.example.com/
  requestTimeout: 3s
payment:
  recipientAddress: "` + testRecipient + `"
  priceWei: "5000"
  maxBlockAge: 30s
  minConfirmations: 2
polling:
  interval: 250ms
ledger:
  driver: memory
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.URL != "https://api.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Backend.URL)
	}
	if cfg.Backend.RequestTimeout != 3*time.Second {
		t.Fatalf("unexpected request timeout %v", cfg.Backend.RequestTimeout)
	}
	if cfg.Payment.PriceWei.String() != "5000" {
		t.Fatalf("unexpected price %s", cfg.Payment.PriceWei)
	}
	if cfg.Payment.Recipient.Hex() != testRecipient {
		t.Fatalf("unexpected recipient %s", cfg.Payment.Recipient.Hex())
	}
	if cfg.Payment.MinConfirmations != 2 {
		t.Fatalf("unexpected confirmations %d", cfg.Payment.MinConfirmations)
	}
	if cfg.Polling.Interval != 250*time.Millisecond {
		t.Fatalf("unexpected poll interval %v", cfg.Polling.Interval)
	}
	if cfg.Polling.Timeout != 20*time.Minute {
		t.Fatalf("expected default poll timeout, got %v", cfg.Polling.Timeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("PAYMENT_RECIPIENT_ADDRESS", testRecipient)
	t.Setenv("PAYMENT_PRICE_WEI", "42")
	t.Setenv("LEDGER_DRIVER", "memory")
	t.Setenv("API_HTTP_PORT", "8088")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Payment.PriceWei.Int64() != 42 {
		t.Fatalf("unexpected price %s", cfg.Payment.PriceWei)
	}
	if cfg.Service.HTTPPort != 8088 {
		t.Fatalf("unexpected port %d", cfg.Service.HTTPPort)
	}
	if cfg.Payment.MinConfirmations != 1 {
		t.Fatalf("expected default confirmations, got %d", cfg.Payment.MinConfirmations)
	}
}

func TestRejectsInvalidPaymentConstants(t *testing.T) {
	var fc FileConfig
	fc.Payment.RecipientAddress = "not-an-address"
	if _, err := FromFile(&fc); err == nil {
		t.Fatalf("expected invalid recipient error")
	}

	fc.Payment.RecipientAddress = testRecipient
	fc.Payment.PriceWei = "-1"
	if _, err := FromFile(&fc); err == nil {
		t.Fatalf("expected invalid price error")
	}

	fc.Payment.PriceWei = "1"
	fc.Ledger.Driver = "postgres"
	if _, err := FromFile(&fc); err == nil {
		t.Fatalf("expected missing dsn error")
	}

	fc.Ledger.Driver = ""
	for _, tc := range []struct {
		name string
		set  func(*FileConfig, string)
	}{
		{"polling timeout", func(c *FileConfig, v string) { c.Polling.Timeout = v }},
		{"confirm timeout", func(c *FileConfig, v string) { c.Payment.ConfirmTimeout = v }},
		{"confirm poll interval", func(c *FileConfig, v string) { c.Payment.ConfirmPollInterval = v }},
		{"request timeout", func(c *FileConfig, v string) { c.Backend.RequestTimeout = v }},
		{"clock skew", func(c *FileConfig, v string) { c.Service.HMACClockSkew = v }},
	} {
		for _, v := range []string{"0s", "-1s"} {
			bad := fc
			tc.set(&bad, v)
			if _, err := FromFile(&bad); err == nil {
				t.Fatalf("expected %s %s to be rejected", tc.name, v)
			}
		}
	}
	if _, err := FromFile(&fc); err != nil {
		t.Fatalf("defaults should still validate: %v", err)
	}
}
