package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spicysparks/sparks-client/internal/bundle"
	"github.com/spicysparks/sparks-client/internal/exitcodes"
	"github.com/spicysparks/sparks-client/internal/sparks"
)

type runOptions struct {
	checkInterval time.Duration
	confirmAfter  time.Duration
	installMode   bundle.InstallMode
	restartOnExit bool
}

// runHost keeps the host application running and applies updates until ctx
// is done. A child that survives confirmAfter is confirmed healthy; one that
// exits earlier is restarted, which rolls back an unconfirmed update.
func runHost(ctx context.Context, s *session, opts runOptions) error {
	p := printer()
	remote := s.cfg.DeploymentKey != "" && s.cfg.ServerURL != ""

	path, err := s.client.Start()
	if err != nil {
		return err
	}
	pid, err := s.host.Start(path)
	if err != nil {
		return exitcodes.ProcessErr("start host application", err)
	}
	p.Success(fmt.Sprintf("Host application started (pid %d) with %s", pid, path))
	defer func() {
		if err := s.host.Stop(); err != nil {
			log.Errorf("stop host application: %v", err)
		}
	}()

	syncOpts := sparks.DefaultSyncOptions()
	syncOpts.DeploymentKey = s.cfg.DeploymentKey
	syncOpts.InstallMode = opts.installMode
	syncOpts.RollbackRetry = &sparks.RollbackRetryOptions{
		DelayInHours:     s.cfg.RollbackRetry.DelayInHours,
		MaxRetryAttempts: s.cfg.RollbackRetry.MaxRetryAttempts,
	}

	// Restarts of a crashing host back off until a package is confirmed.
	crashes := backoff.NewExponentialBackOff()
	crashes.InitialInterval = time.Second
	crashes.MaxInterval = time.Minute
	crashes.MaxElapsedTime = 0

	confirm := time.NewTimer(opts.confirmAfter)
	defer confirm.Stop()
	var ticker *time.Ticker
	var tick <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	syncNow := func() {
		status, err := s.client.Sync(ctx, syncOpts, nil)
		if err != nil {
			log.Warnf("sync failed: %v", err)
			return
		}
		log.Infof("sync finished: %s", status)
	}

	for {
		if current, ok := s.host.PID(); ok && current != pid {
			log.Infof("host application restarted (pid %d)", current)
			pid = current
			confirm.Reset(opts.confirmAfter)
		}

		select {
		case <-ctx.Done():
			p.Info("Stopping host application")
			return nil

		case <-s.host.Done():
			if s.host.IsRunning() {
				continue
			}
			if !opts.restartOnExit {
				return exitcodes.NewError(exitcodes.ProcessError, "host application exited")
			}
			wait := crashes.NextBackOff()
			p.Warn(fmt.Sprintf("Host application exited, restarting in %s", wait))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			path, err := s.client.Start()
			if err != nil {
				return err
			}
			if _, err := s.host.Start(path); err != nil {
				return exitcodes.ProcessErr("restart host application", err)
			}

		case <-confirm.C:
			if err := s.client.ConfirmHealthy(); err != nil {
				log.Errorf("confirm running package: %v", err)
				continue
			}
			log.Info("running package confirmed")
			crashes.Reset()
			if !remote {
				continue
			}
			if r, err := s.client.GetLatestStatusReport(); err != nil {
				log.Warnf("build status report: %v", err)
			} else if r != nil {
				_ = s.client.ReportStatus(ctx, r)
			}
			if ticker == nil && opts.checkInterval > 0 {
				ticker = time.NewTicker(opts.checkInterval)
				tick = ticker.C
				syncNow()
			}

		case <-tick:
			syncNow()
		}
	}
}

func createRunCmd() *cobra.Command {
	var (
		opts        runOptions
		installMode string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the host application and apply updates",
		Long: `Starts hostCommand with SPARKS_BUNDLE_PATH set to the bundle to load and keeps
it running. When a deployment key is configured the server is polled for
updates, which are installed and loaded by restarting the host application.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.installMode, err = parseMode("install-mode", installMode); err != nil {
				return err
			}
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()
			if len(s.cfg.HostCommand) == 0 {
				return bundle.InvalidConfiguration("run", fmt.Errorf("hostCommand is not set in %s", s.cfg.HomeDir))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runHost(ctx, s, opts)
		},
	}
	cmd.Flags().DurationVar(&opts.checkInterval, "check-interval", 10*time.Minute, "How often to check for updates (0 disables)")
	cmd.Flags().DurationVar(&opts.confirmAfter, "confirm-after", 30*time.Second, "Confirm a package once the host has run this long")
	cmd.Flags().StringVar(&installMode, "install-mode", bundle.InstallImmediate.String(), "Install mode for optional updates")
	cmd.Flags().BoolVar(&opts.restartOnExit, "restart-on-exit", true, "Restart the host application when it exits")
	return cmd
}

func init() {
	rootCmd.AddCommand(createRunCmd())
}
