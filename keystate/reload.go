package keystate

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"merchantbackend/observability"
)

// RestartExitCode is the distinguished process exit status that asks an
// external supervisor to re-exec the binary (spec §6: "A distinguished
// exit code requests supervisor re-exec (used by the SIGHUP path)").
const RestartExitCode = 42

// Coordinator is the single-threaded reload event loop of spec §4.C's
// "Reload triggers" paragraph and design note "Self-pipe signal loop":
// one coordinator task owns a signal channel and reacts to
// SIGUSR1 (reload), SIGHUP (restart), SIGINT/SIGTERM (drain and exit).
type Coordinator struct {
	manager *Manager
	log     *slog.Logger
	tick    time.Duration
}

// NewCoordinator builds a Coordinator. tick is how often the loop checks
// each exchange's DueForRefresh as a fallback to the signal-driven path.
func NewCoordinator(manager *Manager, log *slog.Logger, tick time.Duration) *Coordinator {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Coordinator{manager: manager, log: log, tick: tick}
}

// Run blocks until ctx is cancelled or a terminate/restart signal arrives,
// returning the exit code the caller's main() should use (0 for a normal
// shutdown, RestartExitCode for a SIGHUP-triggered restart).
func (c *Coordinator) Run(ctx context.Context) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("keystate coordinator: context cancelled, draining")
			return 0
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				c.log.Info("keystate coordinator: reload signal received")
				c.reloadAll(ctx)
			case syscall.SIGHUP:
				c.log.Info("keystate coordinator: restart signal received")
				return RestartExitCode
			case syscall.SIGINT, syscall.SIGTERM:
				c.log.Info("keystate coordinator: terminate signal received, draining")
				return 0
			}
		case <-ticker.C:
			c.refreshDue(ctx)
		}
	}
}

func (c *Coordinator) reloadAll(ctx context.Context) {
	for _, url := range c.manager.Exchanges() {
		if err := c.manager.Reload(ctx, url); err != nil {
			c.log.Warn("keystate coordinator: reload failed", "exchange", url, "error", err)
			observability.Metrics().RecordKeyReload(url, "error")
			continue
		}
		c.log.Info("keystate coordinator: reloaded", "exchange", url)
		observability.Metrics().RecordKeyReload(url, "ok")
	}
}

func (c *Coordinator) refreshDue(ctx context.Context) {
	for _, url := range c.manager.Exchanges() {
		if !c.manager.DueForRefresh(url) {
			continue
		}
		if err := c.manager.Reload(ctx, url); err != nil {
			c.log.Warn("keystate coordinator: expiry-triggered reload failed", "exchange", url, "error", err)
		}
	}
}
