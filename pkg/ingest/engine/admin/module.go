package admin

import (
	"context"

	"go.uber.org/fx"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
)

// Module provides the admin HTTP server and binds it to the fx lifecycle.
// The server only runs when enabled in configuration.
var Module = fx.Options(
	fx.Provide(NewServer),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, srv *Server) {
		if !cfg.Ingest.Admin.Enabled {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error { return srv.Start(ctx) },
			OnStop:  func(ctx context.Context) error { return srv.Stop(ctx) },
		})
	}),
)
