package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/yamnet/internal/metrics"
	"github.com/roach88/yamnet/internal/retention"
	"github.com/roach88/yamnet/internal/schedule"
)

// Job names.
const (
	JobCapture   = "capture"
	JobRetention = "retention"
)

const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	MetricsAddr       string
	RetentionInterval time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sample on a schedule until stopped",
		Long: `Run the sampler: one capture cycle every frequency_plugin_yamnet minutes
and a retention sweep every --retention-interval, each on its own queue.

SIGHUP reloads the settings file when enable_config_update is set.
SIGINT or SIGTERM stops after in-flight jobs finish.

Example:
  yamnet run --config yamnet.yaml --db /var/lib/yamnet/yamnet.db
  yamnet run --metrics-addr :9102 --log-file /var/log/yamnet.log`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSampler(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&opts.RetentionInterval, "retention-interval", retention.DefaultWindow, "time between retention sweeps")

	return cmd
}

func runSampler(opts *RunOptions, cmd *cobra.Command) error {
	log, closeLog := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	defer closeLog()

	a, err := openApp(opts.RootOptions, log)
	if err != nil {
		return err
	}
	defer a.close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					a.reload()
					continue
				}
				log.Info("received signal, shutting down", "signal", sig)
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	// Startup checks only warn: the device may appear later, and a missing
	// model still yields error analyses with their audio.
	if err := a.recorder.Probe(ctx); err != nil {
		log.Warn("audio device probe failed", "error", err)
	}
	if err := a.classifier.Load(ctx); err != nil {
		log.Warn("model not loaded", "error", err)
	}

	sched, err := schedule.New([]schedule.Job{
		{
			Name:      JobCapture,
			Interval:  func() time.Duration { return a.source.Current().SamplingInterval() },
			Run:       a.newPipeline(false, nil).Run,
			Immediate: true,
		},
		{
			Name:      JobRetention,
			Interval:  schedule.Every(opts.RetentionInterval),
			Run:       a.newSweeper(false, nil).Run,
			Immediate: true,
		},
	}, schedule.WithLogger(log), schedule.WithObserver(a.metrics.ObserveJob))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid schedule", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })

	if opts.MetricsAddr != "" {
		srv := &http.Server{Addr: opts.MetricsAddr, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("serving metrics", "addr", opts.MetricsAddr)
			return metrics.Serve(srv, a.metrics)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	cur := a.source.Current()
	log.Info("sampler starting",
		"device_id", cur.DeviceID,
		"interval", cur.SamplingInterval(),
		"duration_ms", cur.DurationMS,
		"enabled", cur.Enabled)
	fmt.Fprintln(cmd.OutOrStdout(), "Sampler started. Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "sampler error", err)
	}

	log.Info("sampler stopped")
	return nil
}

// reload re-reads the settings file unless updates are disabled.
func (a *app) reload() {
	if !a.source.Current().EnableConfigUpdate {
		a.log.Warn("settings reload requested but enable_config_update is off")
		return
	}
	if err := a.source.Reload(); err != nil {
		a.log.Error("settings reload failed, keeping previous settings", "error", err)
		return
	}
	cur := a.source.Current()
	a.log.Info("settings reloaded",
		"enabled", cur.Enabled,
		"interval", cur.SamplingInterval(),
		"duration_ms", cur.DurationMS,
		"save_audio_files", cur.SaveAudioFiles)
}
