package gateway

import (
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(NewDefaultRegistry),
)

// NewDefaultRegistry builds the registry with every in-tree adapter
// registered. External adapters register themselves during fx startup.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("sandbox", NewSandbox)
	r.Register("stripe", NewStripe)
	r.Register("adyen", NewAdyen)
	return r
}
