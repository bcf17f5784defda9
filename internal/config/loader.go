package config

import (
	"fmt"

	"dimload/internal/db"
	"dimload/internal/domain"
	"dimload/internal/etl"

	"github.com/spf13/viper"
)

// Config is the full application configuration: database connection plus the
// ETL behaviour knobs.
type Config struct {
	Database db.Config
	ETL      ETLConfig
}

// ETLConfig controls how a load run behaves.
type ETLConfig struct {
	Table          string
	CommitPolicy   etl.CommitPolicy
	MigrationsPath string
	Fields         domain.FieldRoles
}

// Load reads config.yaml from configPath, layering environment overrides on
// top of defaults. A missing file is fine; defaults plus env vars apply.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Database: db.DefaultConfig(),
		ETL: ETLConfig{
			Table:          "dim_customer",
			CommitPolicy:   etl.CommitBatch,
			MigrationsPath: "migrations",
			Fields:         domain.DefaultFieldRoles(),
		},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()     // allow environment overrides
	v.SetEnvPrefix("DB") // map env vars like DB_HOST, DB_PORT

	// Optional: Map nested keys to flat env vars
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config.yaml found, using defaults and env vars")
	}

	// Override defaults if values exist
	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("etl.table") {
		cfg.ETL.Table = v.GetString("etl.table")
	}
	if v.IsSet("etl.commit_policy") {
		policy, err := etl.ParseCommitPolicy(v.GetString("etl.commit_policy"))
		if err != nil {
			return Config{}, err
		}
		cfg.ETL.CommitPolicy = policy
	}
	if v.IsSet("etl.migrations_path") {
		cfg.ETL.MigrationsPath = v.GetString("etl.migrations_path")
	}
	if v.IsSet("etl.fields.business_key") {
		cfg.ETL.Fields.BusinessKey = v.GetString("etl.fields.business_key")
	}
	if v.IsSet("etl.fields.tracked") {
		cfg.ETL.Fields.Tracked = v.GetStringSlice("etl.fields.tracked")
	}
	if v.IsSet("etl.fields.inplace") {
		cfg.ETL.Fields.InPlace = v.GetStringSlice("etl.fields.inplace")
	}

	if err := cfg.ETL.Fields.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
