// Package resolver performs tenant-scoped payment gateway resolution with
// instance caching, health tracking, and failover to alternate configured
// providers.
package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/gateway"
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
	pcdomain "github.com/smallbiznis/payflow/internal/providerconfig/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultCacheTTL        = 30 * time.Minute
	DefaultHealthStaleness = 5 * time.Minute
	DefaultProbeTimeout    = 5 * time.Second
)

// Locker is the single-flight lock used so only one process probes a
// tenant+provider pair at a time. A nil Locker disables coordination.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// Resolution is a resolved gateway plus the configuration it was built from.
type Resolution struct {
	Gateway   gateway.Gateway
	Kind      string
	ConfigID  snowflake.ID
	IsPrimary bool
}

// HealthResult is the outcome of a health probe.
type HealthResult struct {
	Status       string        `json:"status"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// Config tunes cache and probe behavior.
type Config struct {
	CacheTTL        time.Duration
	HealthStaleness time.Duration
	ProbeTimeout    time.Duration
}

// Resolver looks up the correct gateway instance for a tenant.
type Resolver struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     pcdomain.Repository
	creds    pcdomain.CredentialResolver
	registry *gateway.Registry
	genID    *snowflake.Node
	locker   Locker
	cache    *instanceCache
	cfg      Config
}

// New builds a Resolver. locker may be nil when no shared lock backend is
// configured.
func New(db *gorm.DB, log *zap.Logger, repo pcdomain.Repository, creds pcdomain.CredentialResolver, registry *gateway.Registry, genID *snowflake.Node, locker Locker, cfg Config) *Resolver {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.HealthStaleness <= 0 {
		cfg.HealthStaleness = DefaultHealthStaleness
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &Resolver{
		db:       db,
		log:      log.Named("resolver"),
		repo:     repo,
		creds:    creds,
		registry: registry,
		genID:    genID,
		locker:   locker,
		cache:    newInstanceCache(cfg.CacheTTL, cfg.HealthStaleness),
		cfg:      cfg,
	}
}

// Resolve returns a gateway for the tenant. With an empty kind the tenant's
// primary (or healthiest) active configuration is used. Returns
// STORE_NOT_CONFIGURED when no active configuration exists and
// PROVIDER_NOT_ACTIVE when the named kind is configured but disabled.
func (r *Resolver) Resolve(ctx context.Context, orgID snowflake.ID, kind string) (*Resolution, error) {
	ctx, span := otel.Tracer("payflow/resolver").Start(ctx, "resolver.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("provider", kind))

	kind = strings.ToLower(strings.TrimSpace(kind))
	now := time.Now().UTC()

	if kind != "" {
		if entry, ok := r.cache.get(cacheKey(orgID, kind), now); ok {
			return resolutionFromEntry(entry), nil
		}
		cfg, err := r.repo.FindConfig(ctx, r.db, orgID, kind)
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			return nil, paymentdomain.ErrStoreNotConfigured
		}
		if !cfg.IsActive {
			return nil, paymentdomain.ErrProviderNotActive
		}
		return r.build(ctx, cfg, now)
	}

	configs, err := r.repo.ListActiveConfigs(ctx, r.db, orgID)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, paymentdomain.ErrStoreNotConfigured
	}

	// Primary-first order from the repository; skip providers whose fresh
	// health reading says unhealthy, falling back to the first config when
	// everything looks bad.
	chosen := &configs[0]
	for i := range configs {
		cfg := &configs[i]
		if !r.registry.Supports(cfg.Provider) {
			continue
		}
		if r.freshlyUnhealthy(ctx, orgID, cfg.Provider, now) {
			continue
		}
		chosen = cfg
		break
	}

	if entry, ok := r.cache.get(cacheKey(orgID, chosen.Provider), now); ok {
		return resolutionFromEntry(entry), nil
	}
	return r.build(ctx, chosen, now)
}

// GetFailover selects an alternate active, healthy configuration of a
// different kind. It returns (nil, nil) when no alternate exists; callers
// treat that as "no failover available", not an error.
func (r *Resolver) GetFailover(ctx context.Context, orgID snowflake.ID, failedKind string) (*Resolution, error) {
	failedKind = strings.ToLower(strings.TrimSpace(failedKind))

	configs, err := r.repo.ListActiveConfigs(ctx, r.db, orgID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range configs {
		cfg := &configs[i]
		if cfg.Provider == failedKind {
			continue
		}
		if !r.registry.Supports(cfg.Provider) {
			continue
		}
		if r.freshlyUnhealthy(ctx, orgID, cfg.Provider, now) {
			continue
		}

		if entry, ok := r.cache.get(cacheKey(orgID, cfg.Provider), now); ok {
			return resolutionFromEntry(entry), nil
		}
		return r.build(ctx, cfg, now)
	}
	return nil, nil
}

// HealthCheck probes the provider, persists the result, and refreshes the
// cached instance's health reading. A redis lock keeps concurrent probes of
// the same tenant+provider down to one; losers read the persisted row.
func (r *Resolver) HealthCheck(ctx context.Context, orgID snowflake.ID, kind string) (*HealthResult, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))

	if r.locker != nil {
		lockKey := "payflow:health:" + orgID.String() + ":" + kind
		token, acquired, err := r.locker.TryLock(ctx, lockKey, r.cfg.ProbeTimeout*2)
		if err == nil && !acquired {
			if persisted, ferr := r.repo.FindHealth(ctx, r.db, orgID, kind); ferr == nil && persisted != nil {
				return healthResultFromRow(persisted), nil
			}
			return &HealthResult{Status: pcdomain.HealthDegraded, CheckedAt: time.Now().UTC()}, nil
		}
		if err == nil {
			defer func() { _ = r.locker.Release(context.WithoutCancel(ctx), lockKey, token) }()
		}
	}

	res, err := r.Resolve(ctx, orgID, kind)
	if err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	probeErr := res.Gateway.Ping(probeCtx)
	elapsed := time.Since(start)
	now := time.Now().UTC()

	result := &HealthResult{
		Status:       pcdomain.HealthHealthy,
		ResponseTime: elapsed,
		CheckedAt:    now,
	}
	if probeErr != nil {
		result.Status = pcdomain.HealthUnhealthy
		result.Error = probeErr.Error()
	}

	row := &pcdomain.ProviderHealth{
		ID:             r.genID.Generate(),
		OrgID:          orgID,
		Provider:       kind,
		Status:         result.Status,
		ResponseTimeMS: elapsed.Milliseconds(),
		CheckedAt:      now,
	}
	if result.Error != "" {
		row.Error = &result.Error
	}
	if err := r.repo.UpsertHealth(ctx, r.db, row); err != nil {
		r.log.Warn("persist provider health failed",
			zap.String("org_id", orgID.String()),
			zap.String("provider", kind),
			zap.Error(err),
		)
	}

	r.cache.recordHealth(cacheKey(orgID, kind), result.Status, now)
	return result, nil
}

// Invalidate evicts cached instances for a tenant, optionally scoped to one
// provider kind. Used when credentials rotate or configuration changes.
func (r *Resolver) Invalidate(orgID snowflake.ID, kind string) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		r.cache.deleteOrg(orgID)
		return
	}
	r.cache.delete(cacheKey(orgID, kind))
}

// InvalidateAll drops every cached instance.
func (r *Resolver) InvalidateAll() {
	r.cache.clear()
}

func (r *Resolver) build(ctx context.Context, cfg *pcdomain.StoreProviderConfig, now time.Time) (*Resolution, error) {
	creds, err := r.creds.Retrieve(ctx, cfg.OrgID, cfg.Provider)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, gateway.NewConfigurationError("provider credentials are not configured")
	}

	gw, err := r.registry.New(cfg.Provider, gateway.Credentials(creds), r.log)
	if err != nil {
		return nil, err
	}

	entry := &cacheEntry{
		gateway:   gw,
		configID:  cfg.ID,
		kind:      cfg.Provider,
		isPrimary: cfg.IsPrimary,
		createdAt: now,
	}
	if health, err := r.repo.FindHealth(ctx, r.db, cfg.OrgID, cfg.Provider); err == nil && health != nil {
		entry.healthStatus = health.Status
		entry.healthCheckedAt = health.CheckedAt
	}
	r.cache.set(cacheKey(cfg.OrgID, cfg.Provider), entry)

	r.log.Debug("gateway instance constructed",
		zap.String("org_id", cfg.OrgID.String()),
		zap.String("provider", cfg.Provider),
	)
	return resolutionFromEntry(entry), nil
}

// freshlyUnhealthy reports a persisted, non-stale unhealthy reading. Stale
// rows carry no signal either way.
func (r *Resolver) freshlyUnhealthy(ctx context.Context, orgID snowflake.ID, kind string, now time.Time) bool {
	health, err := r.repo.FindHealth(ctx, r.db, orgID, kind)
	if err != nil || health == nil {
		return false
	}
	if now.Sub(health.CheckedAt) >= r.cfg.HealthStaleness {
		return false
	}
	return health.Status == pcdomain.HealthUnhealthy
}

func resolutionFromEntry(entry *cacheEntry) *Resolution {
	return &Resolution{
		Gateway:   entry.gateway,
		Kind:      entry.kind,
		ConfigID:  entry.configID,
		IsPrimary: entry.isPrimary,
	}
}

func healthResultFromRow(row *pcdomain.ProviderHealth) *HealthResult {
	result := &HealthResult{
		Status:       row.Status,
		ResponseTime: time.Duration(row.ResponseTimeMS) * time.Millisecond,
		CheckedAt:    row.CheckedAt,
	}
	if row.Error != nil {
		result.Error = *row.Error
	}
	return result
}
