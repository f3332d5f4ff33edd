// internal/workers/infrastructure/plan-limit-check/config.go
package planlimitcheck

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 10 * time.Second,
	}
}
