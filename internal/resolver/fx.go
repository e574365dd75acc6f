package resolver

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/gateway"
	pcdomain "github.com/smallbiznis/payflow/internal/providerconfig/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     pcdomain.Repository
	Creds    pcdomain.CredentialResolver
	Registry *gateway.Registry
	GenID    *snowflake.Node
	Locker   Locker `optional:"true"`
	Cfg      config.Config
}

var Module = fx.Module("resolver",
	fx.Provide(Provide),
)

func Provide(p Params) *Resolver {
	return New(p.DB, p.Log, p.Repo, p.Creds, p.Registry, p.GenID, p.Locker, Config{
		CacheTTL:        p.Cfg.ResolverCacheTTL,
		HealthStaleness: p.Cfg.ResolverHealthStaleness,
		ProbeTimeout:    p.Cfg.ResolverProbeTimeout,
	})
}
