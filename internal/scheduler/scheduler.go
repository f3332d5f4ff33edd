// internal/scheduler/scheduler.go
// Package scheduler runs the periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/config"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/metrics"

	"github.com/robfig/cron/v3"
)

// Job names
const (
	JobCloseIdleConversations = "close_idle_conversations"
	JobPurgePlayground        = "purge_playground_sessions"
	JobResetMonthlyUsage      = "reset_monthly_usage"
)

const defaultJobTimeout = 5 * time.Minute

type Store interface {
	CloseIdleConversations(ctx context.Context, before time.Time) (int64, error)
	PurgePlaygroundSessions(ctx context.Context, before time.Time) (int64, error)
	ResetMonthlyUsage(ctx context.Context) (int64, error)
}

// Scheduler owns a cron instance with one entry per maintenance job.
// A job still running when its next tick fires is skipped.
type Scheduler struct {
	cron   *cron.Cron
	store  Store
	config config.SchedulerConfig
	logger logger.Logger
	now    func() time.Time

	entries map[string]cron.EntryID
}

func New(cfg config.SchedulerConfig, st Store, log logger.Logger) (*Scheduler, error) {
	log = logger.WithComponent(log, "scheduler")
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})),
		),
		store:   st,
		config:  cfg,
		logger:  log,
		now:     time.Now,
		entries: make(map[string]cron.EntryID),
	}

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) (int64, error)
	}{
		{JobCloseIdleConversations, cfg.IdleConversationSpec, s.CloseIdleConversations},
		{JobPurgePlayground, cfg.PlaygroundSpec, s.PurgePlaygroundSessions},
		{JobResetMonthlyUsage, cfg.UsageResetSpec, s.ResetMonthlyUsage},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		name, run := j.name, j.run
		id, err := s.cron.AddFunc(j.spec, func() { s.runJob(name, run) })
		if err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", name, j.spec, err)
		}
		s.entries[name] = id
	}
	return s, nil
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", map[string]interface{}{"jobs": len(s.entries)})
}

// Stop prevents new runs and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out", nil)
	}
}

// NextRun returns when the named job fires next. Zero when unknown.
func (s *Scheduler) NextRun(job string) time.Time {
	id, ok := s.entries[job]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// CloseIdleConversations closes conversations idle beyond ConversationIdleDays.
func (s *Scheduler) CloseIdleConversations(ctx context.Context) (int64, error) {
	if s.config.ConversationIdleDays <= 0 {
		return 0, nil
	}
	before := s.now().Add(-time.Duration(s.config.ConversationIdleDays) * 24 * time.Hour)
	return s.store.CloseIdleConversations(ctx, before)
}

// PurgePlaygroundSessions deletes sessions older than PlaygroundTTLHours.
func (s *Scheduler) PurgePlaygroundSessions(ctx context.Context) (int64, error) {
	if s.config.PlaygroundTTLHours <= 0 {
		return 0, nil
	}
	before := s.now().Add(-time.Duration(s.config.PlaygroundTTLHours) * time.Hour)
	return s.store.PurgePlaygroundSessions(ctx, before)
}

// ResetMonthlyUsage zeroes AI usage counters from previous months.
func (s *Scheduler) ResetMonthlyUsage(ctx context.Context) (int64, error) {
	return s.store.ResetMonthlyUsage(ctx)
}

func (s *Scheduler) runJob(name string, run func(ctx context.Context) (int64, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultJobTimeout)
	defer cancel()

	start := s.now()
	affected, err := run(ctx)
	if err != nil {
		metrics.SchedulerRuns.WithLabelValues(name, "failed").Inc()
		s.logger.Error("Maintenance job failed", map[string]interface{}{
			"job":   name,
			"error": err.Error(),
		})
		return
	}
	metrics.SchedulerRuns.WithLabelValues(name, "success").Inc()
	metrics.SchedulerAffected.WithLabelValues(name).Add(float64(affected))
	s.logger.Info("Maintenance job finished", map[string]interface{}{
		"job":        name,
		"affected":   affected,
		"durationMs": s.now().Sub(start).Milliseconds(),
	})
}

// cronLogger adapts the structured logger to cron's logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := kvFields(keysAndValues)
	fields["error"] = err.Error()
	l.log.Error(msg, fields)
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
