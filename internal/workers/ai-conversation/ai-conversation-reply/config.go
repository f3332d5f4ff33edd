// internal/workers/ai-conversation/ai-conversation-reply/config.go
package aiconversationreply

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 90 * time.Second,
	}
}
