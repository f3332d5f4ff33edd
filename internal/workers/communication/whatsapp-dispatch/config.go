// internal/workers/communication/whatsapp-dispatch/config.go
package whatsappdispatch

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}
