package providerconfig

import (
	"github.com/smallbiznis/payflow/internal/providerconfig/repository"
	"github.com/smallbiznis/payflow/internal/providerconfig/service"
	"go.uber.org/fx"
)

var Module = fx.Module("providerconfig.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.NewCredentialResolver),
)
