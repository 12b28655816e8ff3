package ratelimit

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the per-source limiter registry.
var Module = fx.Options(
	fx.Provide(NewRegistry),
)
