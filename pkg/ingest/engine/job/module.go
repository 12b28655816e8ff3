package job

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the job runner and registry.
var Module = fx.Options(
	fx.Provide(NewRunner),
	fx.Provide(NewRegistry),
)
