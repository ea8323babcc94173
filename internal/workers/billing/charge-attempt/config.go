// internal/workers/billing/charge-attempt/config.go
package chargeattempt

import "time"

type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func LoadConfig() *Config {
	return &Config{
		MaxAttempts:    3,
		InitialBackoff: 4 * time.Second,
		MaxBackoff:     10 * time.Second,
	}
}
