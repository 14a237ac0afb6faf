// Package config loads process configuration from defaults, an optional TOML
// file, a .env file and MONERA_* environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MONERA_REMOTE_DRIVER.
const EnvPrefix = "MONERA"

// Config holds application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	BigQuery  BigQueryConfig  `mapstructure:"bigquery"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Recurring RecurringConfig `mapstructure:"recurring"`
	Migration MigrationConfig `mapstructure:"migration"`
	Backup    BackupConfig    `mapstructure:"backup"`
	API       APIConfig       `mapstructure:"api"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects the local backends. Backend is auto, structured or
// flat; auto lets the migration state decide.
type StorageConfig struct {
	Backend    string     `mapstructure:"backend"`
	SQLitePath string     `mapstructure:"sqlite_path"`
	Flat       FlatConfig `mapstructure:"flat"`
}

// FlatConfig picks where the flat backend's slots live: file or redis.
type FlatConfig struct {
	Driver string `mapstructure:"driver"`
	Dir    string `mapstructure:"dir"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// RemoteConfig selects the sync target: none, postgres, mongo or bigquery.
type RemoteConfig struct {
	Driver string `mapstructure:"driver"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BigQueryConfig struct {
	Project string `mapstructure:"project"`
	Dataset string `mapstructure:"dataset"`
}

// SyncConfig tunes the sync engine. Schedule is a cron spec; empty disables
// scheduled syncs.
type SyncConfig struct {
	OwnerID     string        `mapstructure:"owner_id"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	RunTimeout  time.Duration `mapstructure:"run_timeout"`
	Schedule    string        `mapstructure:"schedule"`
	PullPolicy  string        `mapstructure:"pull_policy"`
	LeaseTTL    time.Duration `mapstructure:"lease_ttl"`
}

type RecurringConfig struct {
	Schedule string `mapstructure:"schedule"`
}

type MigrationConfig struct {
	BackupRetention time.Duration `mapstructure:"backup_retention"`
	Auto            bool          `mapstructure:"auto"`
}

// BackupConfig enables the off-site copy of migration backups when Bucket
// is set.
type BackupConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// APIConfig configures the HTTP surface. CORSOrigins lists the browser
// origins allowed to call it; "*" allows any.
type APIConfig struct {
	Port        string   `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("storage.backend", "auto")
	v.SetDefault("storage.sqlite_path", "monera.db")
	v.SetDefault("storage.flat.driver", "file")
	v.SetDefault("storage.flat.dir", "monera-data")
	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("remote.driver", "none")
	v.SetDefault("postgres.url", "")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "monera")
	v.SetDefault("bigquery.project", "")
	v.SetDefault("bigquery.dataset", "monera")

	v.SetDefault("sync.owner_id", "")
	v.SetDefault("sync.call_timeout", "15s")
	v.SetDefault("sync.run_timeout", "5m")
	v.SetDefault("sync.schedule", "@every 15m")
	v.SetDefault("sync.pull_policy", "local-wins")
	v.SetDefault("sync.lease_ttl", "10m")

	v.SetDefault("recurring.schedule", "@every 1h")

	v.SetDefault("migration.backup_retention", "720h")
	v.SetDefault("migration.auto", true)

	v.SetDefault("backup.gcs_bucket", "")
	v.SetDefault("backup.gcs_prefix", "monera/backups")

	v.SetDefault("api.port", "8080")
	v.SetDefault("api.cors_origins", []string{"*"})
}

// Load reads configuration. path names a TOML file; when empty,
// MONERA_CONFIG is consulted and then ./monera.toml is tried. A missing
// file is not an error.
func Load(path string) (Config, error) {
	// Values already in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("monera")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: reading %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks enumerated values and the settings each remote driver
// needs.
func (c Config) Validate() error {
	var problems []string
	switch c.Storage.Backend {
	case "auto", "structured", "flat":
	default:
		problems = append(problems, fmt.Sprintf("storage.backend %q is not auto, structured or flat", c.Storage.Backend))
	}
	switch c.Storage.Flat.Driver {
	case "file", "redis":
	default:
		problems = append(problems, fmt.Sprintf("storage.flat.driver %q is not file or redis", c.Storage.Flat.Driver))
	}
	switch c.Remote.Driver {
	case "none":
	case "postgres":
		if c.Postgres.URL == "" {
			problems = append(problems, "postgres.url is required for remote.driver postgres")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			problems = append(problems, "mongo.uri is required for remote.driver mongo")
		}
	case "bigquery":
		if c.BigQuery.Project == "" {
			problems = append(problems, "bigquery.project is required for remote.driver bigquery")
		}
	default:
		problems = append(problems, fmt.Sprintf("remote.driver %q is not none, postgres, mongo or bigquery", c.Remote.Driver))
	}
	if c.Remote.Driver != "none" && c.Sync.OwnerID == "" {
		problems = append(problems, "sync.owner_id is required when a remote is configured")
	}
	switch c.Sync.PullPolicy {
	case "local-wins", "last-write-wins":
	default:
		problems = append(problems, fmt.Sprintf("sync.pull_policy %q is not local-wins or last-write-wins", c.Sync.PullPolicy))
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
