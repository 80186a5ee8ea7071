// Package stats keeps audit date aggregates in step with their reports.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	"github.com/R3E-Network/audit_layer/internal/app/metrics"
	"github.com/R3E-Network/audit_layer/internal/app/system"
	"github.com/R3E-Network/audit_layer/pkg/logger"
)

// DefaultSchedule runs the refresh every fifteen minutes.
const DefaultSchedule = "@every 15m"

var _ system.Service = (*Refresher)(nil)

// DateSource lists dates and recomputes their aggregates.
type DateSource interface {
	ListDates(ctx context.Context) ([]audit.Date, error)
	RefreshDateStatistics(ctx context.Context, dateCode string) (audit.Date, error)
}

// Refresher recomputes every date's statistics on a cron schedule.
type Refresher struct {
	source   DateSource
	log      *logger.Logger
	schedule string
	timeout  time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewRefresher builds a refresher. An empty schedule uses DefaultSchedule.
func NewRefresher(source DateSource, schedule string, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("stats-refresher")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Refresher{source: source, log: log, schedule: schedule, timeout: time.Minute}
}

func (r *Refresher) Name() string { return "stats-refresher" }

// Start validates the schedule and begins running it.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(r.schedule, func() { r.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("stats schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.running = true
	r.log.WithField("schedule", r.schedule).Info("stats refresher started")
	return nil
}

// Stop halts the schedule and waits for an in-flight run.
func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c := r.cron
	r.cron = nil
	r.running = false
	r.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	r.log.Info("stats refresher stopped")
	return nil
}

// RunOnce refreshes every known date and returns how many succeeded.
func (r *Refresher) RunOnce(ctx context.Context) int {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	dates, err := r.source.ListDates(ctx)
	if err != nil {
		r.log.WithError(err).Warn("stats refresh: list dates failed")
		return 0
	}
	refreshed := 0
	for _, d := range dates {
		if _, err := r.source.RefreshDateStatistics(ctx, d.DateCode); err != nil {
			r.log.WithError(err).WithField("date_code", d.DateCode).Warn("stats refresh failed")
			continue
		}
		refreshed++
	}
	metrics.RecordStatsRefresh(time.Since(started))
	r.log.WithField("dates", refreshed).Debug("stats refreshed")
	return refreshed
}
