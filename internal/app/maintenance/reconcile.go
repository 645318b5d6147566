package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/taskflowhq/taskflow/internal/models"
	"github.com/taskflowhq/taskflow/internal/status"
	"github.com/taskflowhq/taskflow/pkg/logger"
)

const (
	defaultReconcileSpec     = "@every 5m"
	defaultReconcileLookback = 24 * time.Hour
)

// Reconciler periodically re-derives project status/progress for recently
// touched projects. Recompute is idempotent and always works from the current
// task snapshot, so running redundantly with the inline post-mutation
// recompute is safe; this job only papers over missed or failed inline runs.
type Reconciler struct {
	db         *gorm.DB
	calculator *status.Calculator
	cron       *cron.Cron
	now        func() time.Time
	log        *zap.Logger

	schedule string
	lookback time.Duration
}

// Option customises the Reconciler.
type Option func(*Reconciler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(r *Reconciler) {
		if c != nil {
			r.cron = c
		}
	}
}

// WithNow overrides the clock used for the lookback window.
func WithNow(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithSchedule overrides the cron specification.
func WithSchedule(spec string) Option {
	return func(r *Reconciler) {
		if spec != "" {
			r.schedule = spec
		}
	}
}

// WithLookback overrides how far back the "recently touched" window reaches.
func WithLookback(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.lookback = d
		}
	}
}

// NewReconciler constructs a Reconciler.
func NewReconciler(db *gorm.DB, calculator *status.Calculator, opts ...Option) *Reconciler {
	r := &Reconciler{
		db:         db,
		calculator: calculator,
		now:        time.Now,
		schedule:   defaultReconcileSpec,
		lookback:   defaultReconcileLookback,
		log:        logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.cron == nil {
		r.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return r
}

// Start registers the reconcile job and launches the scheduler.
func (r *Reconciler) Start() error {
	if r.db == nil || r.calculator == nil {
		return nil
	}

	if _, err := r.cron.AddFunc(r.schedule, func() {
		if err := r.RunOnce(context.Background()); err != nil {
			r.log.Warn("status reconcile failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	r.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (r *Reconciler) Stop() context.Context {
	if r.cron == nil {
		return context.Background()
	}
	return r.cron.Stop()
}

// RunOnce recomputes derived state for every project updated inside the
// lookback window. Also used in tests and during graceful shutdown.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	since := r.now().Add(-r.lookback)

	var projectIDs []string
	if err := r.db.WithContext(ctx).
		Model(&models.Project{}).
		Where("updated_at >= ?", since).
		Pluck("id", &projectIDs).Error; err != nil {
		return err
	}

	var errs error
	for _, id := range projectIDs {
		if _, err := r.calculator.Apply(ctx, id); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if len(projectIDs) > 0 {
		r.log.Debug("reconciled project status",
			zap.Int("projects", len(projectIDs)),
		)
	}
	return errs
}
