package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/ilm/pkg/schedule"
)

// RetentionConfig controls how long journal entries are kept.
type RetentionConfig struct {
	// Days is how many days of entries to keep. 0 keeps everything.
	Days int

	// Schedule is the cron expression on which Start prunes, for example
	// "0 3 * * *". Empty means prune only on demand.
	Schedule string
}

// Pruner drops journal entries older than the retention window.
type Pruner struct {
	journal Journal
	config  RetentionConfig
	logger  *slog.Logger
	now     func() time.Time
	runner  *schedule.Runner
}

// NewPruner creates a pruner for j.
func NewPruner(j Journal, cfg RetentionConfig, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pruner{
		journal: j,
		config:  cfg,
		logger:  logger.With("component", "lifecycle.journal.pruner"),
		now:     time.Now,
	}
	p.runner = schedule.NewRunner("journal_prune", cfg.Schedule, p.scheduledPrune, p.logger)
	return p
}

// Cutoff is the oldest AppliedAt that survives a prune at now.
func (c RetentionConfig) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -c.Days)
}

// Prune deletes entries that fell out of the retention window and returns
// how many went. With Days at 0 it deletes nothing.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.config.Days <= 0 {
		return 0, nil
	}

	cutoff := p.config.Cutoff(p.now())
	n, err := p.journal.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune journal before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "journal pruned", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

func (p *Pruner) scheduledPrune(ctx context.Context) {
	if _, err := p.Prune(ctx); err != nil {
		p.logger.ErrorContext(ctx, "scheduled journal prune failed", "error", err)
	}
}

// Start prunes on the configured schedule until ctx is cancelled.
func (p *Pruner) Start(ctx context.Context) error {
	return p.runner.Start(ctx)
}

// Stop halts scheduled pruning.
func (p *Pruner) Stop() {
	p.runner.Stop()
}

// NextPrune returns when the next scheduled prune runs.
func (p *Pruner) NextPrune() (time.Time, bool) {
	return p.runner.Next()
}
