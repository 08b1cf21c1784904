package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port           int   `mapstructure:"port" default:"8080"`
	TimeoutSeconds int   `mapstructure:"timeoutSeconds" default:"60"`
	MaxUploadBytes int64 `mapstructure:"maxUploadBytes" default:"20971520"`
	RateLimitRPS   int   `mapstructure:"rateLimitRps" default:"10"`
	RateLimitBurst int   `mapstructure:"rateLimitBurst" default:"20"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" default:"clinic.db"`
}

type ImportConfig struct {
	BackupDir   string `mapstructure:"backupDir" default:"backups"`
	ReportsDir  string `mapstructure:"reportsDir" default:"import_reports"`
	UploadDir   string `mapstructure:"uploadDir" default:"uploads"`
	DefaultMode string `mapstructure:"defaultMode" default:"safe"`
}

type LogConfig struct {
	Level   string `mapstructure:"level" default:"info"`
	Console bool   `mapstructure:"console" default:"true"`
}

// LoadConfig reads config.yaml, overlaying environment variables. A missing
// config file is not an error; the defaults plus environment cover the CLI
// use case where no file exists.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeoutSeconds", 60)
	viper.SetDefault("server.maxUploadBytes", int64(20<<20))
	viper.SetDefault("server.rateLimitRps", 10)
	viper.SetDefault("server.rateLimitBurst", 20)
	viper.SetDefault("database.path", "clinic.db")
	viper.SetDefault("import.backupDir", "backups")
	viper.SetDefault("import.reportsDir", "import_reports")
	viper.SetDefault("import.uploadDir", "uploads")
	viper.SetDefault("import.defaultMode", "safe")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.console", true)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// LoadFromEnv builds a config from LEDGER_* environment variables only,
// ignoring any config file. Used by the importer CLI.
func LoadFromEnv() (*Config, error) {
	var config Config
	if err := envconfig.Process("ledger", &config); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	return &config, nil
}
