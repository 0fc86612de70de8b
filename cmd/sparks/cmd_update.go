package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spicysparks/sparks-client/internal/bundle"
	"github.com/spicysparks/sparks-client/internal/exitcodes"
	"github.com/spicysparks/sparks-client/internal/sparks"
	ui "github.com/spicysparks/sparks-client/internal/ui"
)

// stdin is read by confirmation prompts; tests replace it.
var stdin io.Reader = os.Stdin

func printPackage(p ui.Printer, pkg *bundle.Package) {
	p.KeyValueLine("Label", pkg.Label, "green")
	p.KeyValueLine("Hash", pkg.PackageHash, "dim")
	p.KeyValueLine("App version", pkg.AppVersion, "")
	if pkg.Description != "" {
		p.KeyValueLine("Description", pkg.Description, "")
	}
	if pkg.PackageSize > 0 {
		p.KeyValueLine("Size", ui.FormatBytes(pkg.PackageSize), "")
	}
	p.KeyValueLine("Mandatory", fmt.Sprint(pkg.IsMandatory), "")
	if pkg.FailedInstall {
		p.KeyValueLine("Previously failed", "true", "yellow")
	}
}

func parseMode(flag, value string) (bundle.InstallMode, error) {
	m, ok := bundle.ParseInstallMode(value)
	if !ok {
		return 0, exitcodes.InvalidArgsErrorf("invalid --%s %q (use immediate|on-next-restart|on-next-resume|on-next-suspend)", flag, value)
	}
	return m, nil
}

func promptYes(question string) bool {
	if flagYes {
		return true
	}
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)
	line, _ := bufio.NewReader(stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func progressFor(p ui.Printer) func(received, total int64) {
	if p.Structured() {
		return nil
	}
	return ui.NewDownloadProgress(os.Stderr).Track
}

func init() {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Ask the server for a newer package",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(true)
			if err != nil {
				return err
			}
			defer s.Close()

			remote, err := s.client.CheckForUpdate(cmd.Context(), s.cfg.DeploymentKey)
			if err != nil {
				return err
			}
			p := printer()
			return p.Emit(map[string]any{"updateAvailable": remote != nil, "package": remote}, func() {
				if remote == nil {
					p.Success("Up to date")
					return
				}
				p.Info("Update available")
				printPackage(p, remote)
			})
		},
	}
	rootCmd.AddCommand(checkCmd)

	downloadCmd := &cobra.Command{
		Use:   "download",
		Short: "Download the available package",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(true)
			if err != nil {
				return err
			}
			defer s.Close()

			p := printer()
			remote, err := s.client.CheckForUpdate(cmd.Context(), s.cfg.DeploymentKey)
			if err != nil {
				return err
			}
			if remote == nil {
				return p.Emit(map[string]any{"downloaded": false}, func() { p.Success("Up to date, nothing to download") })
			}
			pkg, err := s.client.Download(cmd.Context(), remote, progressFor(p))
			if err != nil {
				return err
			}
			return p.Emit(map[string]any{"downloaded": true, "package": pkg}, func() {
				p.Success("Downloaded " + packageLine(pkg))
				p.Info(fmt.Sprintf("Run 'sparks install %s' to install it", pkg.PackageHash))
			})
		},
	}
	rootCmd.AddCommand(downloadCmd)

	var installMode string
	var installMinBackground time.Duration
	installCmd := &cobra.Command{
		Use:   "install <hash>",
		Short: "Install a downloaded package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := parseMode("mode", installMode)
			if err != nil {
				return err
			}
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			pkg, err := s.client.Repository().Package(args[0])
			if err != nil {
				return err
			}
			if pkg == nil {
				return exitcodes.InvalidArgsErrorf("package %s has not been downloaded", args[0])
			}
			if err := s.client.Install(pkg, mode, installMinBackground); err != nil {
				return err
			}
			p := printer()
			return p.Emit(map[string]any{"installed": pkg.PackageHash, "mode": mode.String()}, func() {
				p.Success(fmt.Sprintf("Installed %s (%s)", packageLine(pkg), mode))
			})
		},
	}
	installCmd.Flags().StringVar(&installMode, "mode", bundle.InstallOnNextRestart.String(), "Install mode: immediate|on-next-restart|on-next-resume|on-next-suspend")
	installCmd.Flags().DurationVar(&installMinBackground, "min-background-duration", 0, "Time the host must stay in the background before an on-next-resume install applies")
	rootCmd.AddCommand(installCmd)

	rootCmd.AddCommand(createSyncCmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "confirm",
		Short: "Mark the running package healthy",
		Long:  "Confirms the running package so it is not rolled back on the next launch, and reports the deployment status when a server is configured.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.client.NotifyApplicationReady(cmd.Context()); err != nil {
				return err
			}
			p := printer()
			return p.Emit(map[string]bool{"confirmed": true}, func() { p.Success("Running package confirmed") })
		},
	})
}

func createSyncCmd() *cobra.Command {
	var (
		installMode      string
		mandatoryMode    string
		minBackground    time.Duration
		ignoreFailed     bool
		retryRollbacks   bool
		askBeforeInstall bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Check, download and install in one step",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := sparks.DefaultSyncOptions()
			var err error
			if opts.InstallMode, err = parseMode("install-mode", installMode); err != nil {
				return err
			}
			if opts.MandatoryInstallMode, err = parseMode("mandatory-install-mode", mandatoryMode); err != nil {
				return err
			}
			opts.MinimumBackgroundDuration = minBackground
			opts.IgnoreFailedUpdates = ignoreFailed

			s, err := openSession(true)
			if err != nil {
				return err
			}
			defer s.Close()

			opts.DeploymentKey = s.cfg.DeploymentKey
			if retryRollbacks {
				opts.RollbackRetry = &sparks.RollbackRetryOptions{
					DelayInHours:     s.cfg.RollbackRetry.DelayInHours,
					MaxRetryAttempts: s.cfg.RollbackRetry.MaxRetryAttempts,
				}
			}

			p := printer()
			var observer func(sparks.SyncStatus)
			var view *ui.SyncView
			switch {
			case p.Structured():
			case askBeforeInstall:
				// Prompts cannot share the terminal with the spinner.
				observer = func(st sparks.SyncStatus) { p.Info(st.String()) }
				opts.Progress = progressFor(p)
			default:
				view = ui.NewSyncView(stdout)
				view.Start()
				observer = func(st sparks.SyncStatus) { view.Status(st.String()) }
				opts.Progress = view.Progress
			}
			if askBeforeInstall {
				opts.Confirm = func(pkg *bundle.Package) bool {
					return promptYes(fmt.Sprintf("Install update %s?", packageLine(pkg)))
				}
			}

			status, err := s.client.Sync(cmd.Context(), opts, observer)
			if view != nil {
				view.Finish(status.String(), err)
				if err != nil {
					return silentErr{err}
				}
				return nil
			}
			if err != nil {
				return err
			}
			return p.Emit(map[string]string{"status": status.String()}, func() { p.Success(status.String()) })
		},
	}
	cmd.Flags().StringVar(&installMode, "install-mode", bundle.InstallOnNextRestart.String(), "Install mode for optional updates")
	cmd.Flags().StringVar(&mandatoryMode, "mandatory-install-mode", bundle.InstallImmediate.String(), "Install mode for mandatory updates")
	cmd.Flags().DurationVar(&minBackground, "min-background-duration", 0, "Time the host must stay in the background before an on-next-resume install applies")
	cmd.Flags().BoolVar(&ignoreFailed, "ignore-failed-updates", true, "Skip packages that were rolled back before")
	cmd.Flags().BoolVar(&retryRollbacks, "retry-rollbacks", false, "Offer rolled back packages again per the rollbackRetry config")
	cmd.Flags().BoolVar(&askBeforeInstall, "confirm", false, "Ask before downloading an update")
	return cmd
}
