// internal/workers/billing/reconcile-subscriptions/config.go
package reconcilesubscriptions

import "time"

type Config struct {
	PageSize       int
	PageDelay      time.Duration
	CycleInterval  time.Duration
	ReminderWindow time.Duration
}

func LoadConfig() *Config {
	return &Config{
		PageSize:       100,
		PageDelay:      time.Second,
		CycleInterval:  time.Hour,
		ReminderWindow: 24 * time.Hour,
	}
}
