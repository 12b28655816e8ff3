// Package retention purges aged telemetry rows on a schedule. Every deletion
// leaves exactly one purge-proof row; a sweep that finds nothing expired is a
// silent no-op, so re-running a sweep never duplicates proofs.
package retention

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	repository "github.com/pagecliff/ingest/pkg/ingest/core/domain/repository"
	metrics "github.com/pagecliff/ingest/pkg/ingest/core/metrics"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

// Sweeper runs the retention sweep over all configured telemetry tables.
type Sweeper struct {
	repo     repository.IngestRepository
	archiver *Archiver
	cfg      *config.Config
	clock    clockwork.Clock
	recorder metrics.MetricRecorder
}

// NewSweeper creates a Sweeper.
func NewSweeper(repo repository.IngestRepository, archiver *Archiver, cfg *config.Config, clock clockwork.Clock, recorder metrics.MetricRecorder) *Sweeper {
	return &Sweeper{
		repo:     repo,
		archiver: archiver,
		cfg:      cfg,
		clock:    clock,
		recorder: recorder,
	}
}

// policies resolves the configured retention policies against the tables the
// repository actually knows how to purge, in stable order.
func (s *Sweeper) policies() []model.RetentionPolicy {
	purgeable := make(map[string]bool, len(s.repo.PurgeableTables()))
	for _, t := range s.repo.PurgeableTables() {
		purgeable[t] = true
	}

	var out []model.RetentionPolicy
	for table, tc := range s.cfg.Ingest.Retention.Tables {
		if tc.DaysToKeep <= 0 {
			continue
		}
		if !purgeable[table] {
			logger.Warnf("Retention configured for unknown table '%s', skipping.", table)
			continue
		}
		out = append(out, model.RetentionPolicy{
			TableName:          table,
			DaysToKeep:         tc.DaysToKeep,
			ArchiveBeforePurge: tc.Archive,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableName < out[j].TableName })
	return out
}

// Sweep purges every configured table once. Per-table failures are collected
// so one broken table never blocks the rest of the sweep.
func (s *Sweeper) Sweep(ctx context.Context) error {
	var merr *multierror.Error
	for _, policy := range s.policies() {
		if err := ctx.Err(); err != nil {
			merr = multierror.Append(merr, err)
			break
		}
		if err := s.sweepTable(ctx, policy); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("table %s: %w", policy.TableName, err))
		}
	}
	return merr.ErrorOrNil()
}

// sweepTable purges one table: count, optionally archive, delete, prove.
func (s *Sweeper) sweepTable(ctx context.Context, policy model.RetentionPolicy) error {
	cutoff := policy.Cutoff(s.clock.Now())

	expired, err := s.repo.CountExpired(ctx, policy.TableName, cutoff)
	if err != nil {
		return err
	}
	if expired == 0 {
		logger.Debugf("Retention: table '%s' has no rows older than %s.", policy.TableName, cutoff.Format("2006-01-02"))
		return nil
	}

	archivePath := ""
	if policy.ArchiveBeforePurge && s.archiver.Enabled() {
		rows, err := s.repo.FetchExpired(ctx, policy.TableName, cutoff)
		if err != nil {
			return err
		}
		archivePath, err = s.archiver.Archive(ctx, policy.TableName, cutoff, rows)
		if err != nil {
			// Never delete rows the archive failed to capture.
			return err
		}
	}

	purged, err := s.repo.DeleteExpired(ctx, policy.TableName, cutoff)
	if err != nil {
		return err
	}
	if purged == 0 {
		// Rows aged out between count and delete on another instance.
		return nil
	}

	proof := model.NewPurgeProof(policy.TableName, purged, cutoff, s.cfg.Ingest.Retention.Operator)
	proof.ArchivePath = archivePath
	if err := s.repo.AppendPurgeProof(ctx, proof); err != nil {
		return fmt.Errorf("purged %d rows but failed to record proof: %w", purged, err)
	}

	s.recorder.RecordPurge(ctx, policy.TableName, purged)
	logger.Infof("Retention: purged %d rows of '%s' older than %s (proof %s).", purged, policy.TableName, cutoff.Format("2006-01-02"), proof.ID)
	return nil
}
