// Package digest periodically broadcasts the active project's usage totals.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/wire"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration returns the duration from now until the schedule's next
// fire time.
func nextCronDuration(sched cron.Schedule, now time.Time) time.Duration {
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Totaler reads summed usage for a project.
type Totaler interface {
	ProjectTotals(ctx context.Context, projectID uint) (ledger.Totals, error)
}

// ActiveProject reports which project the digest covers.
type ActiveProject interface {
	ActiveID() uint
}

// Report is the INFO payload published from the LEDGER source.
type Report struct {
	ProjectID         uint    `json:"projectId"`
	TotalCost         float64 `json:"totalCost"`
	TotalInputTokens  int64   `json:"totalInputTokens"`
	TotalOutputTokens int64   `json:"totalOutputTokens"`
}

// Opts holds parameters for New.
type Opts struct {
	Schedule  string // 5-field cron; empty disables the digest
	Ledger    Totaler
	Projects  ActiveProject
	Publisher wire.Publisher
	Logger    *slog.Logger
	Now       func() time.Time // defaults to time.Now
}

// Digest publishes usage totals on a cron schedule.
type Digest struct {
	sched    cron.Schedule
	ledger   Totaler
	projects ActiveProject
	pub      wire.Publisher
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Digest. The schedule is parsed up front so a bad expression
// fails at startup.
func New(opts Opts) (*Digest, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("digest: ledger is required")
	}
	if opts.Projects == nil {
		return nil, fmt.Errorf("digest: projects are required")
	}
	d := &Digest{
		ledger:   opts.Ledger,
		projects: opts.Projects,
		pub:      opts.Publisher,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if opts.Schedule != "" {
		sched, err := cronParser.Parse(opts.Schedule)
		if err != nil {
			return nil, fmt.Errorf("digest: schedule %q: %w", opts.Schedule, err)
		}
		d.sched = sched
	}
	if d.pub == nil {
		d.pub = wire.Discard
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// Enabled reports whether a schedule is configured.
func (d *Digest) Enabled() bool {
	return d.sched != nil
}

// Run fires the digest on schedule until ctx is cancelled. It returns
// immediately when no schedule is configured.
func (d *Digest) Run(ctx context.Context) {
	if !d.Enabled() {
		return
	}
	timer := time.NewTimer(nextCronDuration(d.sched, d.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := d.Fire(ctx); err != nil {
				d.log.Warn("digest failed", "error", err)
			}
			timer.Reset(nextCronDuration(d.sched, d.now()))
		}
	}
}

// Fire publishes the active project's totals once. Projects without any
// recorded tokens are skipped.
func (d *Digest) Fire(ctx context.Context) error {
	id := d.projects.ActiveID()
	totals, err := d.ledger.ProjectTotals(ctx, id)
	if err != nil {
		return fmt.Errorf("digest: project %d: %w", id, err)
	}
	if totals.TotalTokens == 0 {
		d.log.Debug("digest skipped, no usage", "project", id)
		return nil
	}
	d.pub.Publish(wire.InfoEvent(wire.SourceLedger, Report{
		ProjectID:         totals.ProjectID,
		TotalCost:         totals.TotalCost,
		TotalInputTokens:  totals.TotalInputTokens,
		TotalOutputTokens: totals.TotalOutputTokens,
	}))
	return nil
}
