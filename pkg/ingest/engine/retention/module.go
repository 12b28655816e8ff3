package retention

import (
	"go.uber.org/fx"
)

// Module provides the retention sweeper and its parquet archiver.
var Module = fx.Options(
	fx.Provide(NewArchiver),
	fx.Provide(NewSweeper),
)
