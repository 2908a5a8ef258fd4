package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	databaseDSNENV    = "DATABASE_DSN"
	redisURLENV       = "REDIS_URL"
	telegramTokenENV  = "TELEGRAM_TOKEN"
)

type Config struct {
	DB    string `yaml:"db_dsn"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Telegram struct {
		Token string `yaml:"token"`
	} `yaml:"telegram"`
	Jaeger struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"jaeger"`
	Service struct {
		Host       string `yaml:"host"`
		PublicPort int    `yaml:"public_port"`
		AdminPort  int    `yaml:"admin_port"`
	} `yaml:"service"`

	// AutomationInterval is the settle delay after an evaluation that
	// produced results; it keeps one fill from retriggering the same
	// rule off the feed burst that follows it.
	AutomationInterval time.Duration `yaml:"automation_interval"`

	// CandleDir caches downloaded backtest candles between runs.
	CandleDir string `yaml:"candle_dir"`

	Logs bool `yaml:"logs"`
}

func NewConfig() (*Config, error) {
	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	config := Config{
		AutomationInterval: durationFromEnv("AUTOMATION_INTERVAL", "1s"),
		CandleDir:          getenvDefault("CANDLE_DIR", "candles"),
		Logs:               boolFromEnv("LOGS", false),
	}
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	if dsn := os.Getenv(databaseDSNENV); dsn != "" {
		config.DB = dsn
	}
	if addr := os.Getenv(redisURLENV); addr != "" {
		config.Redis.Addr = addr
	}
	if token := os.Getenv(telegramTokenENV); token != "" {
		config.Telegram.Token = token
	}

	return &config, nil
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
