package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App     `json:"app"     toml:"app"`
		HTTP    `json:"http"    toml:"http"`
		DB      `json:"db"      toml:"db"`
		Ledger  `json:"ledger"  toml:"ledger"`
		Notify  `json:"notify"  toml:"notify"`
		Workers `json:"workers" toml:"workers"`
		Log     `json:"logger"  toml:"logger"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME" env-default:"dev"`
		Debug       bool   `json:"debug"       toml:"debug"       env:"DEBUG"    env-default:"false"`
	}

	HTTP struct {
		Port string `json:"port" toml:"port" env:"HTTP_PORT" env-default:"8080"`
	}

	DB struct {
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX"          env-default:"10"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT" env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK"  env-default:"1"`
	}

	Ledger struct {
		Currency string `json:"currency" toml:"currency" env:"LEDGER_CURRENCY" env-default:"CNY"`
		// SettlementHold is how long sale proceeds stay in pending
		// settlement before the settlement worker moves them to the
		// withdrawable balance.
		SettlementHold time.Duration `json:"settlement_hold" toml:"settlement_hold" env:"LEDGER_SETTLEMENT_HOLD" env-default:"24h"`
		// ReviewSLA is the age past which a pending refund or payout
		// request is reported as an SLA anomaly.
		ReviewSLA time.Duration `json:"review_sla" toml:"review_sla" env:"LEDGER_REVIEW_SLA" env-default:"24h"`
	}

	Notify struct {
		URL   string `json:"url"   toml:"url"   env:"NOTIFY_URL"`
		Token string `json:"token" toml:"token" env:"NOTIFY_TOKEN"`
	}

	Workers struct {
		// OrderExpiration is how long an unpaid order may stay in created
		// state before the expirer cancels it (minutes).
		OrderExpiration    int `json:"order_expiration"     toml:"order_expiration"     env:"ORDER_EXPIRATION_MINUTES"   env-default:"30"`
		OrderCleanInterval int `json:"order_clean_interval" toml:"order_clean_interval" env:"ORDER_CLEAN_INTERVAL_MINUTES" env-default:"5"`
		SettleInterval     int `json:"settle_interval"      toml:"settle_interval"      env:"SETTLE_INTERVAL_MINUTES"    env-default:"10"`
		ReconcileInterval  int `json:"reconcile_interval"   toml:"reconcile_interval"   env:"RECONCILE_INTERVAL_MINUTES" env-default:"60"`
	}

	Log struct {
		Level slog.Level `json:"level" toml:"level" env:"LOG_LEVEL"`
	}
)

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	_, b, _, _ := runtime.Caller(0)
	basePath := filepath.Dir(b)

	configTomlPath := filepath.Join(basePath, "config.toml")
	err := cleanenv.ReadConfig(configTomlPath, cfg)
	if err != nil {
		configJsonPath := filepath.Join(basePath, "config.json")
		err = cleanenv.ReadConfig(configJsonPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	err = cleanenv.ReadEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	return cfg, nil
}
