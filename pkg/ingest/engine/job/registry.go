package job

import (
	"context"
	"fmt"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	dlq "github.com/pagecliff/ingest/pkg/ingest/engine/dlq"
	source "github.com/pagecliff/ingest/pkg/ingest/engine/source"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"
)

// Registry resolves configured jobs by name and replays dead letters on
// behalf of the queue.
type Registry struct {
	cfg    *config.Config
	runner *Runner
}

// NewRegistry creates a Registry and attaches it to the dead letter queue
// as its replayer.
func NewRegistry(cfg *config.Config, runner *Runner, queue *dlq.Queue) *Registry {
	r := &Registry{cfg: cfg, runner: runner}
	queue.SetReplayer(r)
	return r
}

// JobConfig returns the configuration of a named job.
func (r *Registry) JobConfig(name string) (config.JobConfig, error) {
	for _, jobCfg := range r.cfg.Ingest.Jobs {
		if jobCfg.Name == name {
			return jobCfg, nil
		}
	}
	return config.JobConfig{}, fmt.Errorf("no job configured with name '%s'", name)
}

// Jobs returns all configured jobs.
func (r *Registry) Jobs() []config.JobConfig {
	return r.cfg.Ingest.Jobs
}

// Run executes one invocation of a named job.
func (r *Registry) Run(ctx context.Context, name string) error {
	jobCfg, err := r.JobConfig(name)
	if err != nil {
		return err
	}
	return r.runner.Run(ctx, jobCfg)
}

// Replay re-executes the unit of work of one dead letter entry: the entity
// is re-fetched from its source under the job's breaker and limiter, then
// pushed back through the merge gate.
func (r *Registry) Replay(ctx context.Context, entry *model.DeadLetterEntry) error {
	const op = "job.Registry.Replay"

	jobCfg, err := r.JobConfig(entry.JobName)
	if err != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("dead letter %s references unknown job '%s'", entry.ID, entry.JobName), err, false, false)
	}

	adapter, err := r.runner.adapters.Resolve(jobCfg.Source)
	if err != nil {
		return exception.NewPipelineError(op, fmt.Sprintf("dead letter %s references unusable source '%s'", entry.ID, jobCfg.Source), err, false, false)
	}
	brk, err := r.runner.breakers.ForJob(ctx, jobCfg.Name, jobCfg.Kind)
	if err != nil {
		return err
	}
	if err := r.runner.limiters.ForSource(jobCfg.Source).Wait(ctx); err != nil {
		return err
	}

	var rec *source.Record
	err = brk.Execute(ctx, func(callCtx context.Context) error {
		fetched, fetchErr := adapter.FetchByRef(callCtx, entry.EntityType, entry.EntityRef)
		if fetchErr != nil {
			return fetchErr
		}
		rec = fetched
		return nil
	})
	if err != nil {
		return err
	}

	outcome, err := r.runner.gate.Apply(ctx, jobCfg.Source, rec)
	if err != nil {
		return err
	}
	if outcome.Quarantined {
		// The replay surfaced a merge doubt; the entry is resolved as far as
		// the queue is concerned, review continues in quarantine.
		return nil
	}
	return nil
}
