package healer

import (
	"go.uber.org/fx"
)

// Module provides the stall detector and its duration statistics.
var Module = fx.Options(
	fx.Provide(NewStats),
	fx.Provide(NewDetector),
)
