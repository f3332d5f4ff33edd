// internal/evolution/access.go
package evolution

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/cache"
	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/metrics"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"
)

// Denial reasons
const (
	ReasonUnknownInstance  = "unknown_instance"
	ReasonInstanceInactive = "instance_inactive"
	ReasonClientInactive   = "client_inactive"
	ReasonBadAPIKey        = "invalid_api_key"
)

// AccessDecision says whether a webhook for an instance may be processed.
type AccessDecision struct {
	Allowed      bool   `json:"allowed"`
	ClientID     string `json:"clientId,omitempty"`
	InstanceID   string `json:"instanceId,omitempty"`
	InstanceName string `json:"instanceName"`
	Reason       string `json:"reason,omitempty"`
}

type AccessStore interface {
	GetInstanceAccess(ctx context.Context, name string) (*store.InstanceAccess, error)
}

// accessRecord is what gets memoized per instance name.
type accessRecord struct {
	found        bool
	clientID     string
	instanceID   string
	active       bool
	clientActive bool
	keyHash      [sha256.Size]byte
}

// AccessResolver decides webhook access from the instance registry and
// memoizes the lookups in an auto-cleanup cache.
type AccessResolver struct {
	store      AccessStore
	cache      *cache.Cache[string, accessRecord]
	globalHash [sha256.Size]byte
	hasGlobal  bool
	logger     logger.Logger
}

type AccessOptions struct {
	TTL             time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
	// GlobalAPIKey is also accepted for every instance.
	GlobalAPIKey string
}

func NewAccessResolver(st AccessStore, opts AccessOptions, log logger.Logger) *AccessResolver {
	r := &AccessResolver{
		store: st,
		cache: cache.New(cache.Options[string, accessRecord]{
			TTL:             opts.TTL,
			MaxEntries:      opts.MaxEntries,
			CleanupInterval: opts.CleanupInterval,
		}),
		logger: logger.WithComponent(log, "evolution.access"),
	}
	if opts.GlobalAPIKey != "" {
		r.globalHash = sha256.Sum256([]byte(opts.GlobalAPIKey))
		r.hasGlobal = true
	}
	return r
}

// Start runs the cache sweep until ctx is done.
func (r *AccessResolver) Start(ctx context.Context) {
	r.cache.Start(ctx)
}

func (r *AccessResolver) Close() {
	r.cache.Close()
}

// Invalidate forgets the memoized lookup for instance.
func (r *AccessResolver) Invalidate(instance string) {
	r.cache.Delete(instance)
}

// Stats exposes the cache counters.
func (r *AccessResolver) Stats() cache.Stats {
	return r.cache.Stats()
}

// Resolve checks that the instance exists and is active, its client is active,
// and apiKey matches the instance's webhook key.
func (r *AccessResolver) Resolve(ctx context.Context, instance, apiKey string) (AccessDecision, error) {
	decision := AccessDecision{InstanceName: instance}
	if instance == "" {
		decision.Reason = ReasonUnknownInstance
		return decision, nil
	}

	rec, ok := r.cache.Get(instance)
	if ok {
		metrics.CacheOperations.WithLabelValues("webhook_access", "hit").Inc()
	} else {
		metrics.CacheOperations.WithLabelValues("webhook_access", "miss").Inc()
		loaded, err := r.load(ctx, instance)
		if err != nil {
			return decision, err
		}
		rec = loaded
		r.cache.Set(instance, rec)
	}

	if !rec.found {
		decision.Reason = ReasonUnknownInstance
		return decision, nil
	}
	decision.ClientID = rec.clientID
	decision.InstanceID = rec.instanceID

	given := sha256.Sum256([]byte(apiKey))
	keyOK := apiKey != "" && subtle.ConstantTimeCompare(given[:], rec.keyHash[:]) == 1
	if !keyOK && r.hasGlobal && apiKey != "" {
		keyOK = subtle.ConstantTimeCompare(given[:], r.globalHash[:]) == 1
	}

	switch {
	case !keyOK:
		decision.Reason = ReasonBadAPIKey
	case !rec.clientActive:
		decision.Reason = ReasonClientInactive
	case !rec.active:
		decision.Reason = ReasonInstanceInactive
	default:
		decision.Allowed = true
	}
	return decision, nil
}

func (r *AccessResolver) load(ctx context.Context, instance string) (accessRecord, error) {
	in, err := r.store.GetInstanceAccess(ctx, instance)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeNotFound) {
			return accessRecord{found: false}, nil
		}
		return accessRecord{}, err
	}
	return accessRecord{
		found:        true,
		clientID:     in.ClientID,
		instanceID:   in.ID,
		active:       in.Active,
		clientActive: in.ClientStatus == models.ClientStatusActive,
		keyHash:      sha256.Sum256([]byte(in.WebhookAPIKey)),
	}, nil
}
