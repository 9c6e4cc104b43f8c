package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Source   SourceConfig
	Batch    BatchConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string
}

// SourceConfig describes the upstream catalog API.
type SourceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// BatchConfig controls batch refresh pacing.
type BatchConfig struct {
	// Delay is the fixed pause between consecutive fetches in a batch.
	// The source publishes no rate allowance, so batches stay sequential
	// and paced.
	Delay time.Duration
}

func Load() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_ENV", "development")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SCHEMA", "public")
	viper.SetDefault("SOURCE_BASE_URL", "https://card.wb.ru")
	viper.SetDefault("SOURCE_TIMEOUT", "10s")
	viper.SetDefault("BATCH_DELAY", "2s")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	return &Config{
		Server: ServerConfig{
			Port: viper.GetString("SERVER_PORT"),
			Env:  viper.GetString("SERVER_ENV"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_DATABASE"),
			Schema:   viper.GetString("DB_SCHEMA"),
		},
		Source: SourceConfig{
			BaseURL: viper.GetString("SOURCE_BASE_URL"),
			Timeout: viper.GetDuration("SOURCE_TIMEOUT"),
		},
		Batch: BatchConfig{
			Delay: viper.GetDuration("BATCH_DELAY"),
		},
	}
}
