// Package config loads the simulation core's configuration via viper,
// mirroring the teacher's OrchestratorConfig/DefaultOrchestratorConfig
// pattern and pkg/types/config.go's JSON-tag convention, trimmed to the
// keys this core actually reads (§6).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BrokerConfig holds the simulated broker's commission schedule. Both
// coefficients default to 0, so commission defaults to 0 (§4.5).
type BrokerConfig struct {
	CommissionPerUnit        float64 `mapstructure:"commission_per_unit"`
	MinimumCommissionPerOrder float64 `mapstructure:"minimum_commission_per_order"`
}

// StoreConfig holds the two SQLite database paths §6 names.
type StoreConfig struct {
	DBPathRuns    string `mapstructure:"db_path_runs"`
	DBPathCatalog string `mapstructure:"db_path_catalog"`
}

// Config is the root configuration object for an orchestrator run.
type Config struct {
	Broker BrokerConfig `mapstructure:"broker"`
	Store  StoreConfig  `mapstructure:"store"`

	// InboxCapacity bounds each subscriber's FIFO inbox. Not part of §6,
	// but every subscriber needs a concrete buffer size; exposed here so
	// it is configurable rather than a magic number buried in a
	// constructor.
	InboxCapacity int `mapstructure:"inbox_capacity"`

	// RecorderBatchSize is BATCH_SIZE from §4.7, default 1000.
	RecorderBatchSize int `mapstructure:"recorder_batch_size"`

	// SystemIdlePollInterval is unused by the production idle barrier
	// (which is condition-variable based, not polling); it is loaded and
	// defaulted with the rest of the tunables, and no code in this module
	// reads it.
	SystemIdlePollInterval time.Duration `mapstructure:"system_idle_poll_interval"`
}

// Default returns the configuration used when nothing is loaded from
// environment or file, matching §6's documented defaults.
func Default() Config {
	return Config{
		Broker: BrokerConfig{
			CommissionPerUnit:         0.0,
			MinimumCommissionPerOrder: 0.0,
		},
		Store: StoreConfig{
			DBPathRuns:    "runs.db",
			DBPathCatalog: "secmaster.db",
		},
		InboxCapacity:          4096,
		RecorderBatchSize:      1000,
		SystemIdlePollInterval: 10 * time.Millisecond,
	}
}

// Load reads configuration from environment variables layered over
// Default(), matching the teacher's viper wiring in spirit (a typed
// struct populated via Unmarshal). The four variables §6 documents
// (DB_PATH_RUNS, DB_PATH_CATALOG, BROKER_COMMISSION_PER_UNIT,
// BROKER_MINIMUM_COMMISSION) are bound to their exact names with
// BindEnv rather than left to AutomaticEnv's prefix+replacer
// convention, which would otherwise require
// ONESECONDTRADER_STORE_DB_PATH_RUNS-style names nobody documented.
func Load() (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = v.BindEnv("store.db_path_runs", "DB_PATH_RUNS")
	_ = v.BindEnv("store.db_path_catalog", "DB_PATH_CATALOG")
	_ = v.BindEnv("broker.commission_per_unit", "BROKER_COMMISSION_PER_UNIT")
	_ = v.BindEnv("broker.minimum_commission_per_order", "BROKER_MINIMUM_COMMISSION")

	v.SetDefault("broker.commission_per_unit", cfg.Broker.CommissionPerUnit)
	v.SetDefault("broker.minimum_commission_per_order", cfg.Broker.MinimumCommissionPerOrder)
	v.SetDefault("store.db_path_runs", cfg.Store.DBPathRuns)
	v.SetDefault("store.db_path_catalog", cfg.Store.DBPathCatalog)
	v.SetDefault("inbox_capacity", cfg.InboxCapacity)
	v.SetDefault("recorder_batch_size", cfg.RecorderBatchSize)
	v.SetDefault("system_idle_poll_interval", cfg.SystemIdlePollInterval)

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
