package source

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the source adapter registry. The
// embedding application registers its adapters against it during startup.
var Module = fx.Options(
	fx.Provide(NewAdapterRegistry),
)
