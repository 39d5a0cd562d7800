package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// WorkerConfig captures runtime settings for the asset-generation worker.
type WorkerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	APIKey          string        `mapstructure:"api_key"`
	ComfyURL        string        `mapstructure:"comfy_url"`
	RedisURL        string        `mapstructure:"redis_url"`
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
	AnthropicModel  string        `mapstructure:"anthropic_model"`
	ModelDir        string        `mapstructure:"model_dir"`
	HFToken         string        `mapstructure:"hf_token"`
	ImageTimeout    time.Duration `mapstructure:"image_timeout"`
	StartupTimeout  time.Duration `mapstructure:"startup_timeout"`
}

// LoadWorker loads worker configuration from defaults, files, and env vars.
func LoadWorker() (WorkerConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix("ASSETGEN")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("api_key", "")
	v.SetDefault("comfy_url", "http://127.0.0.1:8188")
	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("anthropic_model", "")
	v.SetDefault("model_dir", "/runpod-volume/models")
	v.SetDefault("hf_token", "")
	v.SetDefault("image_timeout", "300s")
	v.SetDefault("startup_timeout", "300s")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return WorkerConfig{}, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return WorkerConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}
