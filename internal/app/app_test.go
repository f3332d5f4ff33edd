// internal/app/app_test.go
package app

import (
	"errors"
	"testing"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithBackoff(t *testing.T) {
	log := logger.NewTestLogger(t)

	tests := []struct {
		name      string
		failures  int
		retries   int
		wantErr   bool
		wantCalls int
	}{
		{name: "first attempt succeeds", failures: 0, retries: 3, wantCalls: 1},
		{name: "succeeds after failures", failures: 2, retries: 3, wantCalls: 3},
		{name: "gives up", failures: 5, retries: 3, wantErr: true, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryWithBackoff(func() error {
				calls++
				if calls <= tt.failures {
					return errors.New("connection refused")
				}
				return nil
			}, tt.retries, time.Millisecond, log, "test connection")

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "test connection failed after 3 attempts")
				assert.Contains(t, err.Error(), "connection refused")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestClose_ReverseOrder(t *testing.T) {
	a := &App{}
	var order []int
	a.onClose(func() { order = append(order, 1) })
	a.onClose(func() { order = append(order, 2) })
	a.onClose(func() { order = append(order, 3) })

	a.Close()
	a.Close()

	assert.Equal(t, []int{3, 2, 1}, order)
}
