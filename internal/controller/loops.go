package controller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"eda2power/internal/output"
)

// RFI sweep timing. Each output is held on then off for the dwell
// period; after a full sweep of 32 the system goes quiet for the gap so
// the receivers can take a clean baseline.
const (
	rfiDwell     = 500 * time.Millisecond
	rfiDwellFast = 10 * time.Millisecond
	rfiSweepGap  = 24 * time.Second
)

// defaultMonitorInterval is how often the monitor loop samples when the
// config does not say otherwise.
const defaultMonitorInterval = 30 * time.Second

// Recorder receives periodic samples from the monitor loop. The
// telemetry store implements it.
type Recorder interface {
	Record(ctx context.Context, readings map[output.Name]Reading, env *Environment) error
}

// RunRFISweep cycles each of the 32 outputs on then off in turn,
// forever, for radio-frequency interference testing. Outputs step
// digit-major (A1, B1, C1, D1, A2, ...) so consecutive switches land on
// different ADC chains. Returns when ctx is cancelled.
func (c *Controller) RunRFISweep(ctx context.Context, fast bool) error {
	dwell := rfiDwell
	if fast {
		dwell = rfiDwellFast
	}
	c.log.Info("rfi sweep starting", zap.Duration("dwell", dwell))

	for {
		for digit := 1; digit <= 8; digit++ {
			for _, bank := range []byte{'A', 'B', 'C', 'D'} {
				n := output.Name([]byte{bank, byte('0' + digit)})

				if err := c.switchOne(n, true); err != nil {
					c.log.Error("rfi sweep switch on failed", zap.String("output", string(n)), zap.Error(err))
				}
				if err := sleep(ctx, dwell); err != nil {
					_ = c.switchOne(n, false)
					return err
				}
				if !fast {
					if r, err := c.Sense(n); err == nil {
						c.log.Debug("rfi sweep sample",
							zap.String("output", string(n)),
							zap.Float64("volts", r.Volts),
							zap.Float64("milliamps", r.MilliAmps))
					}
				}
				if err := c.switchOne(n, false); err != nil {
					c.log.Error("rfi sweep switch off failed", zap.String("output", string(n)), zap.Error(err))
				}
				if err := sleep(ctx, dwell); err != nil {
					return err
				}
			}
		}

		if !fast {
			c.log.Info("rfi sweep complete, waiting", zap.Duration("gap", rfiSweepGap))
			if err := sleep(ctx, rfiSweepGap); err != nil {
				return err
			}
		}
	}
}

// RunMonitor samples every output and the enclosure climate each
// interval and hands the samples to rec. Sampling errors are logged and
// the loop keeps going; a flaky sensor should not kill monitoring.
// Returns when ctx is cancelled.
func (c *Controller) RunMonitor(ctx context.Context, interval time.Duration, rec Recorder) error {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	c.log.Info("monitor loop starting", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		readings, err := c.Status(ctx)
		if err != nil {
			c.log.Warn("monitor: status read failed", zap.Error(err))
			continue
		}

		env, err := c.Environment(ctx)
		if err != nil {
			c.log.Warn("monitor: environment read failed", zap.Error(err))
			// Record the power readings anyway.
		}

		if rec != nil {
			if err := rec.Record(ctx, readings, env); err != nil {
				c.log.Warn("monitor: record failed", zap.Error(err))
			}
		}
	}
}
