package config

import "github.com/spf13/viper"

type Config struct {
	Port             string `mapstructure:"PORT"`
	Debug            bool   `mapstructure:"DEBUG"`
	DB_DSN           string `mapstructure:"DB_DSN"`
	NatsURL          string `mapstructure:"NATS_URL"`
	Broker           string `mapstructure:"BROKER"` // "alpaca" or "paper"
	AlpacaAPIKey     string `mapstructure:"ALPACA_API_KEY"`
	AlpacaAPISecret  string `mapstructure:"ALPACA_API_SECRET"`
	AlpacaBaseURL    string `mapstructure:"ALPACA_BASE_URL"`
	ScalpingInterval int    `mapstructure:"SCALPING_INTERVAL"`  // seconds
	PortfolioInterval int   `mapstructure:"PORTFOLIO_INTERVAL"` // seconds
	AccountSyncEvery int    `mapstructure:"ACCOUNT_SYNC_EVERY"` // iterations between capital syncs
	StopTimeoutSec   int    `mapstructure:"STOP_TIMEOUT"`
}

func LoadConfig() (config Config, err error) {
	viper.AddConfigPath(".")
	viper.SetConfigName("app")
	viper.SetConfigType("env")
	viper.AutomaticEnv() // 自动读取环境变量

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DEBUG", false)
	viper.SetDefault("NATS_URL", "nats://localhost:4222")
	// DB_DSN has no default: without one the service runs on the
	// in-memory store.
	viper.SetDefault("DB_DSN", "")
	viper.SetDefault("BROKER", "paper")
	viper.SetDefault("ALPACA_API_KEY", "")
	viper.SetDefault("ALPACA_API_SECRET", "")
	viper.SetDefault("ALPACA_BASE_URL", "https://paper-api.alpaca.markets")
	viper.SetDefault("SCALPING_INTERVAL", 60)
	viper.SetDefault("PORTFOLIO_INTERVAL", 3600)
	viper.SetDefault("ACCOUNT_SYNC_EVERY", 60)
	viper.SetDefault("STOP_TIMEOUT", 30)

	err = viper.ReadInConfig()
	// If config file not found, we can still use env vars
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	}

	if err != nil {
		return Config{}, err
	}
	err = viper.Unmarshal(&config)
	return
}
