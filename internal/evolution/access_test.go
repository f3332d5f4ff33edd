package evolution

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccessStore struct {
	instances map[string]*store.InstanceAccess
	err       error
	calls     int
}

func (f *fakeAccessStore) GetInstanceAccess(_ context.Context, name string) (*store.InstanceAccess, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	in, ok := f.instances[name]
	if !ok {
		return nil, apperrors.NewNotFoundError("instance", name)
	}
	return in, nil
}

func instanceAccess(name string, active bool, clientStatus string) *store.InstanceAccess {
	return &store.InstanceAccess{
		Instance: models.Instance{
			ID:            "inst-" + name,
			ClientID:      "client-1",
			Name:          name,
			Active:        active,
			WebhookAPIKey: "key-" + name,
		},
		ClientStatus: clientStatus,
	}
}

func newTestResolver(t *testing.T, st AccessStore, global string) *AccessResolver {
	t.Helper()
	r := NewAccessResolver(st, AccessOptions{
		TTL:             time.Minute,
		MaxEntries:      10,
		CleanupInterval: time.Minute,
		GlobalAPIKey:    global,
	}, logger.NewTestLogger(t))
	t.Cleanup(r.Close)
	return r
}

func TestAccessResolver_Resolve(t *testing.T) {
	st := &fakeAccessStore{instances: map[string]*store.InstanceAccess{
		"main":      instanceAccess("main", true, models.ClientStatusActive),
		"paused":    instanceAccess("paused", false, models.ClientStatusActive),
		"suspended": instanceAccess("suspended", true, models.ClientStatusSuspended),
	}}
	r := newTestResolver(t, st, "global-key")

	tests := []struct {
		name       string
		instance   string
		apiKey     string
		wantAllow  bool
		wantReason string
	}{
		{name: "instance key", instance: "main", apiKey: "key-main", wantAllow: true},
		{name: "global key", instance: "main", apiKey: "global-key", wantAllow: true},
		{name: "wrong key", instance: "main", apiKey: "nope", wantReason: ReasonBadAPIKey},
		{name: "empty key", instance: "main", apiKey: "", wantReason: ReasonBadAPIKey},
		{name: "unknown instance", instance: "ghost", apiKey: "global-key", wantReason: ReasonUnknownInstance},
		{name: "inactive instance", instance: "paused", apiKey: "key-paused", wantReason: ReasonInstanceInactive},
		{name: "suspended client", instance: "suspended", apiKey: "key-suspended", wantReason: ReasonClientInactive},
		{name: "no instance name", instance: "", apiKey: "global-key", wantReason: ReasonUnknownInstance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Resolve(context.Background(), tt.instance, tt.apiKey)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllow, d.Allowed)
			assert.Equal(t, tt.wantReason, d.Reason)
			if tt.wantAllow {
				assert.Equal(t, "client-1", d.ClientID)
				assert.Equal(t, "inst-"+tt.instance, d.InstanceID)
			}
		})
	}
}

func TestAccessResolver_MemoizesLookups(t *testing.T) {
	st := &fakeAccessStore{instances: map[string]*store.InstanceAccess{
		"main": instanceAccess("main", true, models.ClientStatusActive),
	}}
	r := newTestResolver(t, st, "")

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), "main", "key-main")
		require.NoError(t, err)
		_, err = r.Resolve(context.Background(), "ghost", "x")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, st.calls)
	assert.Equal(t, uint64(4), r.Stats().Hits)

	r.Invalidate("main")
	_, err := r.Resolve(context.Background(), "main", "key-main")
	require.NoError(t, err)
	assert.Equal(t, 3, st.calls)
}

func TestAccessResolver_StoreErrorIsNotCached(t *testing.T) {
	st := &fakeAccessStore{err: errors.New("connection refused")}
	r := newTestResolver(t, st, "")

	_, err := r.Resolve(context.Background(), "main", "key-main")
	require.Error(t, err)

	st.err = nil
	st.instances = map[string]*store.InstanceAccess{"main": instanceAccess("main", true, models.ClientStatusActive)}
	d, err := r.Resolve(context.Background(), "main", "key-main")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, st.calls)
}
