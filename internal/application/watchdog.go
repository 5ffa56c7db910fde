package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/bnema/whatsapp-accounts-broker/internal/ports"
)

const (
	DefaultScanTimeout       = 3 * time.Minute
	DefaultScanCheckInterval = 15 * time.Second
)

// ScanWatchdog terminates sessions that wait for a QR scan longer than
// Timeout. It is a policy layered on top of the registry; sessions
// themselves never time out.
type ScanWatchdog struct {
	registry *Registry
	timeout  time.Duration
	interval time.Duration
	clock    ports.Clock
	logger   *slog.Logger
}

func NewScanWatchdog(registry *Registry, timeout, interval time.Duration, clock ports.Clock, logger *slog.Logger) *ScanWatchdog {
	if interval <= 0 {
		interval = DefaultScanCheckInterval
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &ScanWatchdog{
		registry: registry,
		timeout:  timeout,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}
}

// Run sweeps until ctx is done. A non-positive timeout disables the
// watchdog and Run returns immediately.
func (w *ScanWatchdog) Run(ctx context.Context) error {
	if w.timeout <= 0 {
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep terminates every session stuck in AwaitingScan past the timeout and
// returns the affected account ids. The deadline is checked again by the
// session itself, so a scan completing mid-sweep keeps its session.
func (w *ScanWatchdog) Sweep(ctx context.Context) []domain.AccountID {
	if w.timeout <= 0 {
		return nil
	}

	now := w.clock.Now()
	var expired []domain.AccountID
	for _, snapshot := range w.registry.Snapshots() {
		if !w.expired(snapshot, now) {
			continue
		}

		ended, err := w.registry.TerminateIf(ctx, snapshot.AccountID, domain.CloseScanTimeout, func(current SessionSnapshot) bool {
			return w.expired(current, now)
		})
		if err != nil {
			w.logger.Warn("terminate expired session failed", "account", snapshot.AccountID, "error", err)
			continue
		}
		if !ended {
			w.logger.Debug("scan completed before expiry", "account", snapshot.AccountID)
			continue
		}

		w.logger.Info("scan window expired", "account", snapshot.AccountID, "waiting", now.Sub(snapshot.Since))
		expired = append(expired, snapshot.AccountID)
	}

	return expired
}

func (w *ScanWatchdog) expired(snapshot SessionSnapshot, now time.Time) bool {
	return snapshot.State == domain.SessionAwaitingScan && now.Sub(snapshot.Since) >= w.timeout
}
