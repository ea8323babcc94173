// internal/workers/billing/process-webhook/config.go
package processwebhook

import "time"

type Config struct {
	DedupTTL time.Duration
}

func LoadConfig() *Config {
	return &Config{
		DedupTTL: 60 * time.Minute,
	}
}
