// Package stability decides when a newly discovered file has been completely written.
package stability

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/amillerrr/abr-pipeline/internal/metrics"
)

// Default polling parameters.
const (
	DefaultInterval        = time.Second
	DefaultRequiredSamples = 10
	DefaultTimeout         = 300 * time.Second
)

// Outcome is the terminal state of a stability wait.
type Outcome int

const (
	// Stable means the size was unchanged and non-zero for the required samples.
	Stable Outcome = iota
	// TimedOut means the timeout elapsed first. Callers still process the file.
	TimedOut
	// Disappeared means the file could not be stat'd. Callers abandon it.
	Disappeared
)

func (o Outcome) String() string {
	switch o {
	case Stable:
		return "stable"
	case TimedOut:
		return "timed_out"
	case Disappeared:
		return "disappeared"
	}
	return "unknown"
}

// Config holds gate parameters.
type Config struct {
	Interval        time.Duration
	RequiredSamples int
	Timeout         time.Duration
	Logger          *slog.Logger
}

// DefaultConfig returns a Config with default values.
func DefaultConfig(logger *slog.Logger) *Config {
	return &Config{
		Interval:        DefaultInterval,
		RequiredSamples: DefaultRequiredSamples,
		Timeout:         DefaultTimeout,
		Logger:          logger,
	}
}

// Gate polls a file's size until it stops changing.
type Gate struct {
	config *Config
	stat   func(path string) (int64, error)
	now    func() time.Time
}

// NewGate creates a Gate that stats files on the local filesystem.
func NewGate(config *Config) *Gate {
	return &Gate{
		config: config,
		stat:   statSize,
		now:    time.Now,
	}
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Await samples the size of path every Interval. The counter of consecutive
// unchanged non-zero samples resets on any size change; reaching
// RequiredSamples yields Stable. A failed stat yields Disappeared and an
// elapsed Timeout yields TimedOut. The error is non-nil only when ctx ends.
func (g *Gate) Await(ctx context.Context, path string) (Outcome, error) {
	start := g.now()
	log := g.config.Logger.With("path", path)

	var lastSize int64
	stableCount := 0

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		size, err := g.stat(path)
		if err != nil {
			log.WarnContext(ctx, "File disappeared while waiting for it to settle", "error", err)
			return g.finish(Disappeared, start), nil
		}

		if size == lastSize && size > 0 {
			stableCount++
		} else {
			stableCount = 0
			lastSize = size
		}

		if stableCount >= g.config.RequiredSamples {
			log.DebugContext(ctx, "File is stable", "sizeBytes", size)
			return g.finish(Stable, start), nil
		}

		if g.now().Sub(start) > g.config.Timeout {
			log.WarnContext(ctx, "Timed out waiting for stable file, processing anyway",
				"sizeBytes", size,
				"stableSamples", stableCount,
				"timeout", g.config.Timeout,
			)
			return g.finish(TimedOut, start), nil
		}

		timer.Reset(g.config.Interval)
		select {
		case <-ctx.Done():
			return TimedOut, ctx.Err()
		case <-timer.C:
		}
	}
}

func (g *Gate) finish(outcome Outcome, start time.Time) Outcome {
	metrics.StabilityWait.Observe(g.now().Sub(start).Seconds())
	metrics.RecordStability(outcome.String())
	return outcome
}
