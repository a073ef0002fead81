package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	ServerAddress string
	Environment   string
	LogLevel      string
	Database      DatabaseConfig
	Migration     MigrationConfig
	Reconcile     ReconcileConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Params   string
}

type MigrationConfig struct {
	Dir string
}

// ReconcileConfig holds the engine knobs.
type ReconcileConfig struct {
	PageSize                 int
	DefaultCurrencyPrecision int32
	CurrencyPrecisions       map[string]int32
	CompanyIDs               []int64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_ADDRESS", ":8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_HOST", "127.0.0.1")
	v.SetDefault("DB_PORT", 3306)
	v.SetDefault("DB_USER", "root")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "reconciliation")
	v.SetDefault("DB_PARAMS", "parseTime=true&multiStatements=true")
	v.SetDefault("MIGRATION_DIR", "migrations")
	v.SetDefault("RECONCILE_PAGE_SIZE", 5)
	v.SetDefault("DEFAULT_CURRENCY_PRECISION", 2)
	v.SetDefault("CURRENCY_PRECISIONS", "")
	v.SetDefault("COMPANY_IDS", "")
}

// LoadConfig reads .env from the working directory, if present, with
// environment variables taking precedence.
func LoadConfig() (*Config, error) {
	return Load(".env")
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	precisions, err := parsePrecisions(v.GetString("CURRENCY_PRECISIONS"))
	if err != nil {
		return nil, err
	}
	companies, err := parseIDs(v.GetString("COMPANY_IDS"))
	if err != nil {
		return nil, err
	}

	config := &Config{
		ServerAddress: v.GetString("SERVER_ADDRESS"),
		Environment:   v.GetString("ENVIRONMENT"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			Params:   v.GetString("DB_PARAMS"),
		},
		Migration: MigrationConfig{
			Dir: v.GetString("MIGRATION_DIR"),
		},
		Reconcile: ReconcileConfig{
			PageSize:                 v.GetInt("RECONCILE_PAGE_SIZE"),
			DefaultCurrencyPrecision: v.GetInt32("DEFAULT_CURRENCY_PRECISION"),
			CurrencyPrecisions:       precisions,
			CompanyIDs:               companies,
		},
	}
	if config.Reconcile.PageSize <= 0 {
		return nil, fmt.Errorf("RECONCILE_PAGE_SIZE must be positive, got %d", config.Reconcile.PageSize)
	}

	return config, nil
}

// parsePrecisions reads "EUR:2,JPY:0".
func parsePrecisions(raw string) (map[string]int32, error) {
	precisions := make(map[string]int32)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		code, digits, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid currency precision %q, use CODE:DIGITS", pair)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(digits), 10, 32)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid currency precision %q", pair)
		}
		precisions[strings.ToUpper(strings.TrimSpace(code))] = int32(n)
	}
	return precisions, nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid company id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetDSN returns the MySQL DSN string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}

// GetMigrationDBURL returns the database URL for migrations
func (c *Config) GetMigrationDBURL() string {
	return "mysql://" + c.GetDSN()
}
