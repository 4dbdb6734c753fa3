package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"icalsynchub/internal/config"
	"icalsynchub/internal/ics"
	"icalsynchub/internal/link"
	appLog "icalsynchub/internal/log"
	"icalsynchub/internal/model"
	"icalsynchub/internal/output"
	"icalsynchub/internal/source"
)

// Controller orchestrates the fetch-normalize-merge-write pipeline and the
// per-cycle expiry sweep. Exactly one cycle is in flight at a time.
type Controller struct {
	cfg       *config.Config
	fetcher   *ics.Fetcher
	writer    *output.Writer
	lifecycle *link.Lifecycle

	// resync receives a signal when the sources file changes on disk,
	// triggering an out-of-schedule cycle.
	resync  chan struct{}
	running atomic.Bool
	now     func() time.Time
}

// NewController wires the sync pipeline together.
func NewController(cfg *config.Config, fetcher *ics.Fetcher, writer *output.Writer, lifecycle *link.Lifecycle) *Controller {
	return &Controller{
		cfg:       cfg,
		fetcher:   fetcher,
		writer:    writer,
		lifecycle: lifecycle,
		resync:    make(chan struct{}, 1),
		now:       time.Now,
	}
}

// SetNowFunc overrides the controller clock; used by tests.
func (c *Controller) SetNowFunc(now func() time.Time) {
	c.now = now
}

// RunOnce executes one full cycle: read the current source list, fetch all
// feeds, normalize and filter, merge, write atomically, then sweep link
// artifacts. Per-source failures are isolated inside the pipeline; only a
// failed output write surfaces as a cycle error.
func (c *Controller) RunOnce(ctx context.Context) error {
	started := c.now()
	sources := source.LoadFile(c.cfg.SourcesFile)

	feeds := c.fetcher.FetchAll(ctx, sources)

	opts := ics.Options{
		ShowDetails:  c.cfg.ShowDetails,
		DefaultLabel: c.cfg.AnonymizeLabel,
		FilterByDate: c.cfg.FilterByDate,
		PastDays:     c.cfg.PastDays,
		FutureMonths: c.cfg.FutureMonths,
		Location:     c.cfg.Location(),
		Now:          c.now,
	}

	groups := make([][]model.Event, 0, len(feeds))
	total := 0
	failed := 0
	for _, feed := range feeds {
		if !feed.OK() {
			failed++
		}
		events := ics.Normalize(feed, opts)
		groups = append(groups, events)
		total += len(events)
	}

	merged := ics.Merge(groups, c.now())
	path, err := c.writer.Write([]byte(merged.Serialize()))
	if err != nil {
		// The previously published file stays on disk untouched.
		return fmt.Errorf("write merged calendar: %w", err)
	}

	if err := c.lifecycle.Sweep(); err != nil {
		appLog.Error("expiry sweep failed", err)
	}

	appLog.Info("sync cycle complete",
		"sources", len(sources),
		"failed_sources", failed,
		"events", total,
		"path", path,
		"took", c.now().Sub(started).Round(time.Millisecond),
	)
	return nil
}

// Run drives the sync loop. A zero interval runs exactly one cycle and
// returns. Otherwise cycles repeat on the configured interval until ctx is
// canceled; the sources file is watched for changes triggering an immediate
// extra cycle. Cycle failures are logged and the loop continues.
func (c *Controller) Run(ctx context.Context) error {
	if c.cfg.SyncInterval == 0 {
		return c.RunOnce(ctx)
	}

	cr := cron.New()
	spec := fmt.Sprintf("@every %s", c.cfg.Interval())
	if _, err := cr.AddFunc(spec, func() { c.cycle(ctx) }); err != nil {
		return fmt.Errorf("schedule sync cycles: %w", err)
	}

	go func() {
		if err := c.watchSources(ctx); err != nil {
			appLog.Error("sources watcher stopped", err, "path", c.cfg.SourcesFile)
		}
	}()

	// First cycle runs immediately; cron handles the rest.
	c.cycle(ctx)
	cr.Start()
	appLog.Info("sync loop started", "interval_seconds", c.cfg.SyncInterval)

	for {
		select {
		case <-ctx.Done():
			stopped := cr.Stop()
			<-stopped.Done()
			appLog.Info("sync loop stopped")
			return nil
		case <-c.resync:
			appLog.Info("sources file changed, running extra cycle")
			c.cycle(ctx)
		}
	}
}

// cycle runs one guarded cycle; overlapping triggers are dropped rather than
// queued so at most one cycle is in flight.
func (c *Controller) cycle(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		appLog.Debug("cycle already in flight, skipping trigger")
		return
	}
	defer c.running.Store(false)

	if err := c.RunOnce(ctx); err != nil {
		appLog.Error("sync cycle failed, continuing", err)
	}
}
