package config

import "time"

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultTimeout = 120 * time.Second
)

func Defaults() *Config {
	return &Config{
		AttachmentMode: ModeUpload,
		BaseURL:        DefaultBaseURL,
		Timeout:        DefaultTimeout,
	}
}
