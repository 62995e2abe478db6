// Package scheduler runs the periodic market jobs: price drift and the
// market value status line.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"stockbot/internal/events"
	"stockbot/internal/lock"
	"stockbot/internal/metrics"
)

const driftLockKey = "drift"

type DriftRunner interface {
	RunDriftTick(ctx context.Context) ([]events.DriftUpdate, error)
}

type ValueSource interface {
	TotalHoldingsValue(ctx context.Context) (decimal.Decimal, error)
}

type PresenceSetter interface {
	SetPresence(status string) error
}

type Drift struct {
	runner DriftRunner
	locker lock.Locker
	log    *slog.Logger
	every  time.Duration
}

func NewDrift(runner DriftRunner, locker lock.Locker, logger *slog.Logger, every time.Duration) *Drift {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = lock.Local{}
	}
	return &Drift{runner: runner, locker: locker, log: logger, every: every}
}

// leaseTTL keeps the lease a little shorter than the period so the next
// tick, on any instance, can take it.
func (d *Drift) leaseTTL() time.Duration {
	ttl := d.every - d.every/10
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Tick runs one drift pass if this process holds the lease. It reports
// false when another instance owns the current period.
func (d *Drift) Tick(ctx context.Context) (bool, error) {
	lease, err := d.locker.TryLock(ctx, driftLockKey, d.leaseTTL())
	if errors.Is(err, lock.ErrHeld) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	updates, err := d.runner.RunDriftTick(ctx)
	if err != nil {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			d.log.Warn("drift lease release failed", "err", relErr)
		}
		return true, fmt.Errorf("drift tick: %w", err)
	}
	d.log.Info("drift tick complete", "stocks", len(updates))
	return true, nil
}

func (d *Drift) Run(ctx context.Context) {
	ticker := time.NewTicker(d.every)
	defer ticker.Stop()

	d.log.Info("drift scheduler started", "every", d.every.String())
	for {
		select {
		case <-ctx.Done():
			d.log.Info("drift scheduler stopped")
			return
		case <-ticker.C:
			ran, err := d.Tick(ctx)
			if err != nil {
				d.log.Error("drift tick failed", "err", err)
				continue
			}
			if !ran {
				d.log.Debug("drift tick skipped, lease held elsewhere")
			}
		}
	}
}

func StatusText(total decimal.Decimal) string {
	return fmt.Sprintf("Stock Value: %s coins", total.StringFixed(3))
}

type Status struct {
	src      ValueSource
	presence PresenceSetter
	log      *slog.Logger
	every    time.Duration
}

func NewStatus(src ValueSource, presence PresenceSetter, logger *slog.Logger, every time.Duration) *Status {
	if logger == nil {
		logger = slog.Default()
	}
	return &Status{src: src, presence: presence, log: logger, every: every}
}

func (s *Status) Tick(ctx context.Context) error {
	total, err := s.src.TotalHoldingsValue(ctx)
	if err != nil {
		return fmt.Errorf("market value: %w", err)
	}
	metrics.MarketValue.Set(total.InexactFloat64())
	if s.presence == nil {
		return nil
	}
	if err := s.presence.SetPresence(StatusText(total)); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// Run updates immediately and then on every period.
func (s *Status) Run(ctx context.Context) {
	if err := s.Tick(ctx); err != nil {
		s.log.Warn("status update failed", "err", err)
	}
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Warn("status update failed", "err", err)
			}
		}
	}
}
