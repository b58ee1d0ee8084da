// internal/config/config_test.go
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", "test.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 720, cfg.Voucher.DefaultTTLHours)
	assert.Equal(t, 2160, cfg.Voucher.MaxTTLHours)
	assert.Equal(t, "file:test.db?_foreign_keys=on&_busy_timeout=2000", cfg.Database.DSN())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment: "development",
			Database:    DatabaseConfig{Driver: "postgres", TxTimeoutMs: 5000, LockTimeoutMs: 2000},
			JWT:         JWTConfig{SecretKey: "secret"},
			Voucher:     VoucherConfig{DefaultTTLHours: 24, MaxTTLHours: 48},
			Vendor:      VendorConfig{SessionTTLHours: 8},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"default secret in production", func(c *Config) {
			c.Environment = "production"
			c.Database.Password = "pw"
			c.JWT.SecretKey = "your-secret-key-change-in-production"
		}, true},
		{"no db password in production", func(c *Config) { c.Environment = "production" }, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"zero tx timeout", func(c *Config) { c.Database.TxTimeoutMs = 0 }, true},
		{"open-ended ttl", func(c *Config) { c.Voucher.MaxTTLHours = 0 }, true},
		{"default above max", func(c *Config) { c.Voucher.DefaultTTLHours = 100 }, true},
		{"stripe verification without key", func(c *Config) { c.Payment.VerifyPayments = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
