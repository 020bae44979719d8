package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// defaultTimeout bounds a single check so startup cannot hang on one probe.
const defaultTimeout = 5 * time.Second

// Probe is a single startup check.
type Probe struct {
	Name string
	// Check returns nil when the dependency is healthy.
	Check func(ctx context.Context) error
	// Critical probes must pass for the application to start. Non-critical
	// failures are logged and tolerated; starting offline is a normal mode
	// for this application.
	Critical bool
	// Timeout overrides the default per-check timeout when > 0.
	Timeout time.Duration
}

// RunAll executes the probes in order, logs a summary, and returns the joined
// errors of the failed critical probes.
func RunAll(ctx context.Context, probes []Probe) error {
	var critical []error

	slog.Info("Startup Checks Summary")
	for _, p := range probes {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := p.Check(checkCtx)
		cancel()
		elapsed := time.Since(start).Round(time.Millisecond)

		if err == nil {
			slog.Info(fmt.Sprintf("[PASS] %-24s (%v)", p.Name, elapsed))
			continue
		}

		slog.Error(fmt.Sprintf("[FAIL] %-24s (%v)", p.Name, elapsed), "error", err, "critical", p.Critical)
		if p.Critical {
			critical = append(critical, fmt.Errorf("%s: %w", p.Name, err))
		}
	}

	return errors.Join(critical...)
}
