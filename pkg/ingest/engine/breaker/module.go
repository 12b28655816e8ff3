package breaker

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the per-job breaker registry.
var Module = fx.Options(
	fx.Provide(NewRegistry),
)
