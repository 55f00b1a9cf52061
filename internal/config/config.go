package config

import "github.com/caarlos0/env/v10"

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`
	LogFile  string `env:"LOG_FILE"`

	LLMBaseURL     string   `env:"LLM_BASE_URL" envDefault:"http://127.0.0.1:8000/v1"`
	LLMAPIKey      string   `env:"LLM_API_KEY"`
	LLMMaxTokens   int      `env:"LLM_MAX_TOKENS" envDefault:"1024"`
	LLMTemperature float64  `env:"LLM_TEMPERATURE" envDefault:"0.3"`
	ModelLow       string   `env:"MODEL_LOW" envDefault:"Qwen2.5-0.5B-Instruct-q4f16_1-MLC"`
	ModelMid       string   `env:"MODEL_MID" envDefault:"Llama-3.2-1B-Instruct-q4f16_1-MLC"`
	ModelHigh      string   `env:"MODEL_HIGH" envDefault:"Llama-3.2-3B-Instruct-q4f16_1-MLC"`
	DeviceMemoryGB *float64 `env:"DEVICE_MEMORY_GB"`
	ContextWindow  int      `env:"CONTEXT_WINDOW" envDefault:"10"`

	StoreDriver   string `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"data/tutor.db"`
	DatabaseURL   string `env:"DATABASE_URL"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	OCRBaseURL      string   `env:"OCR_BASE_URL"`
	OCRLanguages    []string `env:"OCR_LANGUAGES" envSeparator:"," envDefault:"eng"`
	SettingsBaseURL string   `env:"SETTINGS_BASE_URL"`
	TenantID        string   `env:"TENANT_ID"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 10
	}
	return &cfg, nil
}
