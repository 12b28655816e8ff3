package merge

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the merge gate and the provenance
// recorder. The embedding application supplies the source.Upserter.
var Module = fx.Options(
	fx.Provide(NewRecorder),
	fx.Provide(NewGate),
)
