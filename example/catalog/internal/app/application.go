// Package app assembles the example catalog ingestion service with uber-fx.
package app

import (
	"context"

	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	"github.com/pagecliff/ingest/pkg/ingest/engine/admin"
	"github.com/pagecliff/ingest/pkg/ingest/engine/breaker"
	"github.com/pagecliff/ingest/pkg/ingest/engine/dlq"
	"github.com/pagecliff/ingest/pkg/ingest/engine/healer"
	"github.com/pagecliff/ingest/pkg/ingest/engine/job"
	"github.com/pagecliff/ingest/pkg/ingest/engine/merge"
	"github.com/pagecliff/ingest/pkg/ingest/engine/ratelimit"
	"github.com/pagecliff/ingest/pkg/ingest/engine/retention"
	"github.com/pagecliff/ingest/pkg/ingest/engine/scheduler"
	ingestsource "github.com/pagecliff/ingest/pkg/ingest/engine/source"
	"github.com/pagecliff/ingest/pkg/ingest/infrastructure/metrics"
	"github.com/pagecliff/ingest/pkg/ingest/infrastructure/repository/sql"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"

	catalogsource "github.com/pagecliff/ingest/example/catalog/internal/source"
	"github.com/pagecliff/ingest/example/catalog/internal/store"
)

// RunApplication builds and runs the catalog service. It blocks until the
// process receives a shutdown signal or the appCtx is cancelled.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig) {
	app := fx.New(
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),

		logger.Module,
		config.Module,
		sql.Module,
		metrics.Module,

		breaker.Module,
		ratelimit.Module,
		ingestsource.Module,
		merge.Module,
		dlq.Module,
		job.Module,
		healer.Module,
		retention.Module,
		admin.Module,
		scheduler.Module,

		fx.Provide(func() clockwork.Clock { return clockwork.NewRealClock() }),

		// Application-side components: the demo source and the entity store.
		fx.Provide(catalogsource.NewPricebookAdapter),
		fx.Provide(store.NewCatalogUpserter),
		fx.Provide(func(u *store.CatalogUpserter) ingestsource.Upserter { return u }),

		fx.Invoke(func(reg *ingestsource.AdapterRegistry, a *catalogsource.PricebookAdapter) {
			reg.Register(a)
		}),
		fx.Invoke(func(lc fx.Lifecycle, u *store.CatalogUpserter) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error { return u.Migrate(ctx) },
			})
		}),
	)

	go func() {
		<-appCtx.Done()
		logger.Warnf("Application context cancelled; shutting down.")
		stopCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			logger.Errorf("Failed to stop application: %v", err)
		}
	}()

	app.Run()

	if err := app.Err(); err != nil {
		logger.Fatalf("Application run failed: %v", err)
	}
}
