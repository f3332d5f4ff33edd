// internal/workers/registry_test.go
package workers

import (
	"testing"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/config"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrations(t *testing.T) {
	cfg := &config.Config{Workers: map[string]config.WorkerConfig{
		"whatsapp-dispatch": {Enabled: false, Timeout: 5000},
	}}

	regs := Registrations(cfg, Deps{}, logger.NewTestLogger(t))

	require.Len(t, regs, 4)
	var types []string
	for _, r := range regs {
		types = append(types, r.TaskType)
		assert.NotNil(t, r.Handler)
	}
	assert.Equal(t, []string{"ai-conversation-reply", "whatsapp-dispatch", "notification-send", "plan-limit-check"}, types)
	assert.False(t, config.IsWorkerEnabled(cfg, "whatsapp-dispatch"))
	assert.True(t, config.IsWorkerEnabled(cfg, "plan-limit-check"))
}
