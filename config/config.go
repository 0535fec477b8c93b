// Package config loads libsync settings with Viper from, in increasing
// priority, built-in defaults, a YAML file (.libsync.yaml, --config or
// LIBSYNC_CONFIG_FILE), LIBSYNC_* environment variables and command-line
// flags bound by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"library-sync/library"
)

// EnvPrefix is the prefix of every environment override, e.g.
// LIBSYNC_STORAGE_DRIVER or LIBSYNC_LOAN_BOOK_DAYS.
const EnvPrefix = "LIBSYNC"

// Storage drivers.
const (
	StorageSQLite   = "sqlite"   // mattn/go-sqlite3
	StoragePureGo   = "sqlite-purego"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Output formats.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Loan    LoanConfig    `mapstructure:"loan"`
	Log     LogConfig     `mapstructure:"log"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Output  string        `mapstructure:"output"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type LoanConfig struct {
	BookDays     int `mapstructure:"book_days"`
	MagazineDays int `mapstructure:"magazine_days"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ArchiveConfig struct {
	Driver string   `mapstructure:"driver"`
	Dir    string   `mapstructure:"dir"`
	S3     S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoanPolicy converts the loan section into the domain policy.
func (c *Config) LoanPolicy() library.LoanPolicy {
	return library.LoanPolicy{BookDays: c.Loan.BookDays, MagazineDays: c.Loan.MagazineDays}
}

// SetDefaults registers every key with its default so that environment
// overrides are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", StorageSQLite)
	v.SetDefault("storage.path", "library.db")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("loan.book_days", library.DefaultBookLoanDays)
	v.SetDefault("loan.magazine_days", library.DefaultMagazineLoanDays)
	v.SetDefault("log.level", "info")
	v.SetDefault("archive.driver", "")
	v.SetDefault("archive.dir", "snapshots")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.region", "us-east-1")
	v.SetDefault("archive.s3.endpoint", "")
	v.SetDefault("archive.s3.path_style", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("output", OutputTable)
}

// New returns a Viper instance with defaults, env binding and, when found,
// the config file. cfgFile wins over LIBSYNC_CONFIG_FILE, which wins over
// ./.libsync.yaml. A missing default file is not an error.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	explicit := true
	switch {
	case cfgFile != "":
		v.SetConfigFile(cfgFile)
	case os.Getenv(EnvPrefix+"_CONFIG_FILE") != "":
		v.SetConfigFile(os.Getenv(EnvPrefix + "_CONFIG_FILE"))
	default:
		explicit = false
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".libsync")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Output = strings.ToLower(strings.TrimSpace(cfg.Output))
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	switch cfg.Storage.Driver {
	case StorageSQLite, StoragePureGo:
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %s", cfg.Storage.Driver)
		}
	case StoragePostgres:
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required for driver postgres")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.driver %q is not one of sqlite, sqlite-purego, postgres, memory", cfg.Storage.Driver)
	}

	if cfg.Loan.BookDays <= 0 || cfg.Loan.MagazineDays <= 0 {
		return fmt.Errorf("loan periods must be positive (book_days=%d, magazine_days=%d)", cfg.Loan.BookDays, cfg.Loan.MagazineDays)
	}

	switch cfg.Archive.Driver {
	case "", "memory", "fs":
	case "s3":
		if cfg.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required for the s3 archive")
		}
	default:
		return fmt.Errorf("archive.driver %q is not one of fs, s3, memory", cfg.Archive.Driver)
	}

	switch cfg.Output {
	case OutputTable, OutputJSON, OutputYAML:
	default:
		return fmt.Errorf("output %q is not one of table, json, yaml", cfg.Output)
	}
	return nil
}
