// Package watch repeats the check flow on a cron schedule until the request
// leaves the pending state.
package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
	"github.com/JakeFAU/ooi-harvest-request/internal/producer"
	"github.com/JakeFAU/ooi-harvest-request/internal/status"
)

// Checker runs one check invocation.
type Checker interface {
	Check(ctx context.Context, cfg harvest.HarvestConfig) (producer.Outcome, error)
}

// Watcher drives Checker on a schedule.
type Watcher struct {
	checker         Checker
	clock           harvest.Clock
	defaultSchedule string
	after           func(time.Duration) <-chan time.Time
	logger          *zap.Logger
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithAfter replaces time.After, mainly for tests.
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(w *Watcher) {
		if after != nil {
			w.after = after
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New builds a Watcher. defaultSchedule applies when the harvest config has
// no workflow_config.schedule.
func New(checker Checker, clock harvest.Clock, defaultSchedule string, opts ...Option) (*Watcher, error) {
	if checker == nil || clock == nil {
		return nil, errors.New("watcher requires a checker and a clock")
	}
	if _, err := cron.ParseStandard(defaultSchedule); err != nil {
		return nil, fmt.Errorf("parse default schedule %q: %w", defaultSchedule, err)
	}
	w := &Watcher{
		checker:         checker,
		clock:           clock,
		defaultSchedule: defaultSchedule,
		after:           time.After,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("watch")
	return w, nil
}

// Schedule resolves the cron schedule for cfg.
func (w *Watcher) Schedule(cfg harvest.HarvestConfig) (cron.Schedule, error) {
	expr := cfg.WorkflowConfig.Schedule
	if expr == "" {
		expr = w.defaultSchedule
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Run checks immediately and then at every scheduled time until the status
// is no longer pending. It returns the last outcome, the first check error,
// or the context error when canceled.
func (w *Watcher) Run(ctx context.Context, cfg harvest.HarvestConfig) (producer.Outcome, error) {
	sched, err := w.Schedule(cfg)
	if err != nil {
		return producer.Outcome{}, err
	}
	logger := w.logger.With(zap.String("table_name", cfg.TableName()))

	for {
		out, err := w.checker.Check(ctx, cfg)
		if err != nil {
			return producer.Outcome{}, err
		}
		if out.Record.Status != status.StatusPending {
			logger.Info("watch finished", zap.String("kind", out.Kind), zap.String("status", out.StatusLabel()))
			return out, nil
		}

		now := w.clock.Now()
		next := sched.Next(now)
		logger.Info("request still pending", zap.Time("next_check", next), zap.String("message", out.Message))
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-w.after(next.Sub(now)):
		}
	}
}
