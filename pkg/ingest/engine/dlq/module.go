package dlq

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the dead letter queue service.
var Module = fx.Options(
	fx.Provide(NewQueue),
)
