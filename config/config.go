// Package config loads server configuration from defaults, an optional
// YAML file, and FARMLEDGER_* environment variables, in that precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	DBPath   string `mapstructure:"db_path"`
	LogLevel string `mapstructure:"log_level"`

	// DebtLimit caps the total outstanding balance a single worker may
	// carry. Zero means unlimited.
	DebtLimit decimal.Decimal `mapstructure:"-"`

	// InterestMethod is the default accrual method for new debts that
	// do not specify one: "simple" or "compound".
	InterestMethod string `mapstructure:"interest_method"`

	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Load reads configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("addr", ":8624")
	v.SetDefault("db_path", "farmledger.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("debt_limit", "0")
	v.SetDefault("interest_method", "simple")
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})

	v.SetEnvPrefix("FARMLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	limit, err := decimal.NewFromString(v.GetString("debt_limit"))
	if err != nil {
		return nil, fmt.Errorf("invalid debt_limit %q: %w", v.GetString("debt_limit"), err)
	}
	if limit.IsNegative() {
		return nil, fmt.Errorf("debt_limit must not be negative, got %s", limit)
	}
	cfg.DebtLimit = limit

	switch cfg.InterestMethod {
	case "simple", "compound":
	default:
		return nil, fmt.Errorf("invalid interest_method %q", cfg.InterestMethod)
	}

	return &cfg, nil
}
