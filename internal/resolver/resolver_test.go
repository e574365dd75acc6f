package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/gateway"
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
	pcdomain "github.com/smallbiznis/payflow/internal/providerconfig/domain"
	pcrepo "github.com/smallbiznis/payflow/internal/providerconfig/repository"
	pkgdb "github.com/smallbiznis/payflow/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type staticCreds map[string]map[string]string

func (c staticCreds) Retrieve(ctx context.Context, orgID snowflake.ID, provider string) (map[string]string, error) {
	return c[provider], nil
}

type resolverEnv struct {
	db       *gorm.DB
	node     *snowflake.Node
	resolver *Resolver
	orgID    snowflake.ID
}

func newResolverEnv(t *testing.T, registry *gateway.Registry, cfg Config) *resolverEnv {
	t.Helper()

	dbConn, err := pkgdb.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := dbConn.AutoMigrate(&pcdomain.StoreProviderConfig{}, &pcdomain.ProviderHealth{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	creds := staticCreds{
		"sandbox": {"webhook_secret": "whsec"},
		"stripe":  {"api_key": "sk_test", "webhook_secret": "whsec"},
	}

	r := New(dbConn, zap.NewNop(), pcrepo.Provide(), creds, registry, node, nil, cfg)
	return &resolverEnv{db: dbConn, node: node, resolver: r, orgID: node.Generate()}
}

func (e *resolverEnv) addConfig(t *testing.T, provider string, isPrimary bool, priority int) *pcdomain.StoreProviderConfig {
	t.Helper()
	cfg := &pcdomain.StoreProviderConfig{
		ID:        e.node.Generate(),
		OrgID:     e.orgID,
		Provider:  provider,
		Config:    datatypes.JSON(`{}`),
		IsActive:  true,
		IsPrimary: isPrimary,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := e.db.Create(cfg).Error; err != nil {
		t.Fatalf("failed to insert config: %v", err)
	}
	return cfg
}

func TestResolvePrimaryProvider(t *testing.T) {
	env := newResolverEnv(t, gateway.NewDefaultRegistry(), Config{})
	env.addConfig(t, "stripe", false, 100)
	env.addConfig(t, "sandbox", true, 100)

	res, err := env.resolver.Resolve(context.Background(), env.orgID, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Kind != "sandbox" {
		t.Fatalf("expected primary sandbox, got %s", res.Kind)
	}
	if !res.IsPrimary {
		t.Fatal("expected primary resolution")
	}
}

func TestResolveExplicitKind(t *testing.T) {
	env := newResolverEnv(t, gateway.NewDefaultRegistry(), Config{})
	env.addConfig(t, "sandbox", true, 100)
	env.addConfig(t, "stripe", false, 100)

	res, err := env.resolver.Resolve(context.Background(), env.orgID, "stripe")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Kind != "stripe" {
		t.Fatalf("expected stripe, got %s", res.Kind)
	}
}

func TestResolveNotConfigured(t *testing.T) {
	env := newResolverEnv(t, gateway.NewDefaultRegistry(), Config{})

	if _, err := env.resolver.Resolve(context.Background(), env.orgID, ""); err != paymentdomain.ErrStoreNotConfigured {
		t.Fatalf("expected ErrStoreNotConfigured, got %v", err)
	}
	if _, err := env.resolver.Resolve(context.Background(), env.orgID, "sandbox"); err != paymentdomain.ErrStoreNotConfigured {
		t.Fatalf("expected ErrStoreNotConfigured, got %v", err)
	}
}

func TestResolveInactiveProvider(t *testing.T) {
	env := newResolverEnv(t, gateway.NewDefaultRegistry(), Config{})
	cfg := env.addConfig(t, "sandbox", true, 100)
	env.db.Model(cfg).Update("is_active", false)

	if _, err := env.resolver.Resolve(context.Background(), env.orgID, "sandbox"); err != paymentdomain.ErrProviderNotActive {
		t.Fatalf("expected ErrProviderNotActive, got %v", err)
	}
}

func TestResolveCachesInstances(t *testing.T) {
	env := newResolverEnv(t, gateway.NewDefaultRegistry(), Config{})
	env.addConfig(t, "sandbox", true, 100)
	ctx := context.Background()

	first, err := env.resolver.Resolve(ctx, env.orgID, "sandbox")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := env.resolver.Resolve(ctx, env.orgID, "sandbox")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.Gateway != second.Gateway {
		t.Fatal("expected the cached gateway instance to be reused")
	}

	env.resolver.Invalidate(env.orgID, "sandbox")
	third, err := env.resolver.Resolve(ctx, env.orgID, "sandbox")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if third.Gateway == first.Gateway {
		t.Fatal("invalidation must force reconstruction")
	}
}

func TestGetFailoverSkipsFailedKind(t *testing.T) {
	env := newResolverEnv(t, gateway.NewDefaultRegistry(), Config{})
	env.addConfig(t, "sandbox", true, 100)
	ctx := context.Background()

	alt, err := env.resolver.GetFailover(ctx, env.orgID, "sandbox")
	if err != nil {
		t.Fatalf("failover: %v", err)
	}
	if alt != nil {
		t.Fatal("single provider has no failover")
	}

	env.addConfig(t, "stripe", false, 200)
	alt, err = env.resolver.GetFailover(ctx, env.orgID, "sandbox")
	if err != nil {
		t.Fatalf("failover: %v", err)
	}
	if alt == nil || alt.Kind != "stripe" {
		t.Fatalf("expected stripe failover, got %+v", alt)
	}
}

func TestResolveSkipsFreshlyUnhealthyProvider(t *testing.T) {
	env := newResolverEnv(t, gateway.NewDefaultRegistry(), Config{HealthStaleness: 5 * time.Minute})
	env.addConfig(t, "stripe", true, 100)
	env.addConfig(t, "sandbox", false, 200)

	now := time.Now().UTC()
	errMsg := "connection refused"
	if err := env.db.Create(&pcdomain.ProviderHealth{
		ID:        env.node.Generate(),
		OrgID:     env.orgID,
		Provider:  "stripe",
		Status:    pcdomain.HealthUnhealthy,
		Error:     &errMsg,
		CheckedAt: now,
	}).Error; err != nil {
		t.Fatalf("failed to insert health row: %v", err)
	}

	res, err := env.resolver.Resolve(context.Background(), env.orgID, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Kind != "sandbox" {
		t.Fatalf("unhealthy primary must be skipped, got %s", res.Kind)
	}
}

func TestResolveIgnoresStaleHealthRows(t *testing.T) {
	env := newResolverEnv(t, gateway.NewDefaultRegistry(), Config{HealthStaleness: 5 * time.Minute})
	env.addConfig(t, "stripe", true, 100)
	env.addConfig(t, "sandbox", false, 200)

	stale := time.Now().UTC().Add(-time.Hour)
	if err := env.db.Create(&pcdomain.ProviderHealth{
		ID:        env.node.Generate(),
		OrgID:     env.orgID,
		Provider:  "stripe",
		Status:    pcdomain.HealthUnhealthy,
		CheckedAt: stale,
	}).Error; err != nil {
		t.Fatalf("failed to insert health row: %v", err)
	}

	res, err := env.resolver.Resolve(context.Background(), env.orgID, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Kind != "stripe" {
		t.Fatalf("stale health carries no signal; expected stripe, got %s", res.Kind)
	}
}

func TestHealthCheckPersistsResult(t *testing.T) {
	env := newResolverEnv(t, gateway.NewDefaultRegistry(), Config{})
	env.addConfig(t, "sandbox", true, 100)

	result, err := env.resolver.HealthCheck(context.Background(), env.orgID, "sandbox")
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if result.Status != pcdomain.HealthHealthy {
		t.Fatalf("expected healthy sandbox, got %s", result.Status)
	}

	var row pcdomain.ProviderHealth
	if err := env.db.Where("org_id = ? AND provider = ?", env.orgID, "sandbox").First(&row).Error; err != nil {
		t.Fatalf("expected persisted health row: %v", err)
	}
	if row.Status != pcdomain.HealthHealthy {
		t.Fatalf("expected persisted healthy status, got %s", row.Status)
	}
}
