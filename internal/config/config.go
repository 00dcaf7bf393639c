package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppName   string `json:"app_name" env:"APP_NAME"`
	AppPort   int    `json:"app_port" env:"APP_PORT"`
	DebugMode bool   `json:"debug_mode" env:"DEBUG_MODE"`

	Auth struct {
		BaseURL         string `json:"base_url" env:"AUTH_SERVICE_URL"`
		ProfileCacheTTL string `json:"profile_cache_ttl"`
	} `json:"auth"`

	Storage struct {
		BaseURL string `json:"base_url" env:"STORAGE_SERVICE_URL"`
	} `json:"storage"`

	Relay struct {
		MaxFrameBytes int    `json:"max_frame_bytes"`
		TypingTimeout string `json:"typing_timeout"`
		ReadTimeout   string `json:"read_timeout"`
		ShutdownGrace string `json:"shutdown_grace"`
	} `json:"relay"`

	Backoff struct {
		MaxAttempts    int    `json:"max_attempts"`
		BaseDelay      string `json:"base_delay"`
		MaxDelay       string `json:"max_delay"`
		AttemptTimeout string `json:"attempt_timeout"`
	} `json:"backoff"`
}

var config Config
var initialized = false

func defaults() Config {
	var c Config
	c.AppName = "websocket-server"
	c.AppPort = 8080
	c.Auth.ProfileCacheTTL = "30s"
	c.Relay.MaxFrameBytes = 4096
	c.Relay.TypingTimeout = "3s"
	c.Relay.ReadTimeout = "90s"
	c.Relay.ShutdownGrace = "5s"
	c.Backoff.MaxAttempts = 3
	c.Backoff.BaseDelay = "200ms"
	c.Backoff.MaxDelay = "2s"
	c.Backoff.AttemptTimeout = "5s"
	return c
}

func ReadConfig() (Config, error) {
	config = defaults()

	bytes, err := os.ReadFile("config.json")

	if err != nil {
		writer, _ := os.OpenFile("config.json", os.O_WRONLY|os.O_CREATE, 0644)
		data, _ := json.MarshalIndent(config, "", "\t")
		_, _ = writer.Write(data)
		_ = writer.Close()
		return config, errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	}

	err = json.Unmarshal(bytes, &config)

	if err != nil {
		return config, errors.New("the configuration file does not contain valid JSON")
	}

	// 环境变量覆盖配置文件中的部署相关字段
	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("error occured while reading environment overrides, details: %v", err)
	}

	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig()
}
