// eda2d is the EDA2 power controller daemon. It owns the SPI/I2C buses
// of one power control unit, runs the background monitor (or the RFI
// test sweep), and serves the JSON control API on port 19999.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"eda2power/internal/config"
	"eda2power/internal/controller"
	"eda2power/internal/hw"
	"eda2power/internal/safety"
	"eda2power/internal/server"
	"eda2power/internal/telemetry"
)

const defaultConfigPath = "/etc/eda2/eda2.yaml"

// pruneInterval is how often old telemetry is expired.
const pruneInterval = 24 * time.Hour

type flags struct {
	configPath string
	listen     string
	sim        bool
	rfi        bool
	fast       bool
	allOn      bool
	noServer   bool
}

func main() {
	var f flags

	cmd := &cobra.Command{
		Use:           "eda2d",
		Short:         "EDA2 power controller daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", defaultConfigPath, "configuration file")
	cmd.Flags().StringVar(&f.listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&f.sim, "sim", false, "use the hardware simulator instead of the real board")
	cmd.Flags().BoolVar(&f.rfi, "rfi", false, "run the RFI test sweep instead of the monitor loop")
	cmd.Flags().BoolVar(&f.fast, "fast", false, "fast RFI sweep dwell (implies --rfi)")
	cmd.Flags().BoolVar(&f.allOn, "all-on", false, "switch all outputs on at startup")
	cmd.Flags().BoolVar(&f.noServer, "no-server", false, "do not serve the control API")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "eda2d:", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		// A missing file at the default path just means defaults; an
		// explicit --config that does not load is fatal.
		if !cmd.Flags().Changed("config") && errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
		} else {
			return nil, err
		}
	}

	config.ApplyEnvOverrides(cfg)
	if f.listen != "" {
		cfg.Server.Listen = f.listen
	}
	if f.sim {
		cfg.Hardware.Simulate = true
	}
	return cfg, nil
}

// buildLogger writes console output to stderr and, when a log file is
// configured, JSON lines to a size-rotated file.
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	level := zap.NewAtomicLevelAt(lvl)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level),
	}
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotated), level))
	}

	return zap.New(zapcore.NewTee(cores...)), level, nil
}

// openHardware returns the device set, real or simulated, plus a close
// function.
func openHardware(cfg *config.Config, log *zap.Logger) (adc hw.ADC, exp1, exp2 hw.Switcher, env hw.EnvSensor, closeFn func() error, err error) {
	if cfg.Hardware.Simulate {
		log.Warn("running against the hardware simulator, no outputs will switch")
		sim := hw.NewSimulator()
		return sim, sim.Expander(1), sim.Expander(2), sim, func() error { return nil }, nil
	}

	board, err := hw.OpenBoard(cfg.BoardConfig())
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("open power board: %w", err)
	}
	return board.ADC, board.Expander1, board.Expander2, board.Env, board.Close, nil
}

func run(cmd *cobra.Command, f flags) error {
	if f.fast {
		f.rfi = true
	}

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}

	log, level, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	hadToken := cfg.Server.AuthToken != ""
	token, err := config.EnsureAuthToken(cfg)
	if err != nil {
		return err
	}
	if !hadToken {
		log.Info("generated api auth token", zap.String("token", token))
	}

	adc, exp1, exp2, envSensor, closeHW, err := openHardware(cfg, log)
	if err != nil {
		return err
	}
	defer closeHW()

	ctrl := controller.New(adc, exp1, exp2, envSensor, log.Named("controller"))

	// Leave the outputs off on the way out, whatever mode we ran in.
	defer func() {
		if err := ctrl.Shutdown(); err != nil {
			log.Error("final all-off failed", zap.Error(err))
		}
	}()

	var store *telemetry.Store
	if cfg.Telemetry.Path != "" {
		store, err = telemetry.Open(cfg.Telemetry.Path)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	var auditLog *safety.AuditLogger
	if cfg.Audit.Enabled && cfg.Audit.LogPath != "" {
		af, err := os.OpenFile(cfg.Audit.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer af.Close()
		auditLog = safety.NewAuditLogger(af)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if f.allOn {
		log.Info("switching all outputs on at startup")
		if err := ctrl.AllOn(ctx); err != nil {
			log.Error("startup all-on incomplete", zap.Error(err))
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if !f.noServer {
		srv := server.New(server.Options{
			Power:    ctrl,
			History:  history(store),
			Filter:   safety.NewFilter(cfg.Outputs.Switchable, cfg.Outputs.Locked),
			AuditLog: auditLog,
			Token:    token,
			Logger:   log.Named("api"),
		})
		g.Go(func() error {
			err := srv.Run(ctx, cfg.Server.Listen)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})

		// Live reload: switchable-output filter and log level.
		configPath := f.configPath
		g.Go(func() error {
			err := config.Watch(ctx, configPath, log.Named("config"), func(next *config.Config) {
				srv.UpdateFilter(safety.NewFilter(next.Outputs.Switchable, next.Outputs.Locked))
				if lvl, err := zapcore.ParseLevel(next.Logging.Level); err == nil {
					level.SetLevel(lvl)
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if f.rfi {
		g.Go(func() error {
			err := ctrl.RunRFISweep(ctx, f.fast)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		var rec controller.Recorder
		if store != nil {
			rec = store
		}
		interval := cfg.Telemetry.Interval()
		g.Go(func() error {
			err := ctrl.RunMonitor(ctx, interval, rec)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if store != nil {
		retention := cfg.Telemetry.Retention()
		g.Go(func() error {
			ticker := time.NewTicker(pruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					removed, err := store.Prune(ctx, retention)
					if err != nil {
						log.Warn("telemetry prune failed", zap.Error(err))
						continue
					}
					log.Info("telemetry pruned", zap.Int64("rows", removed))
				}
			}
		})
	}

	daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("eda2d running",
		zap.String("version", ctrl.Version()),
		zap.String("listen", cfg.Server.Listen),
		zap.Bool("simulated", cfg.Hardware.Simulate),
		zap.Bool("rfi", f.rfi))

	err = g.Wait()
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("eda2d stopping")
	return err
}

// history avoids handing the server a non-nil interface wrapping a nil
// store.
func history(store *telemetry.Store) server.History {
	if store == nil {
		return nil
	}
	return store
}
