package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	ui "github.com/spicysparks/sparks-client/internal/ui"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "failed",
		Short: "List packages that were rolled back",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			failed, err := s.client.FailedUpdates()
			if err != nil {
				return err
			}
			p := printer()
			return p.Emit(failed, func() {
				if len(failed) == 0 {
					p.Success("No failed updates")
					return
				}
				rows := make([][]string, 0, len(failed))
				for _, pkg := range failed {
					rows = append(rows, []string{pkg.PackageHash, pkg.Label, pkg.AppVersion, pkg.DeploymentKey})
				}
				fmt.Fprint(stdout, ui.Table(p.Colors, []string{"HASH", "LABEL", "APP VERSION", "DEPLOYMENT"}, rows))
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "rollback-info",
		Short: "Show the latest rollback",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			info, err := s.client.LatestRollbackInfo()
			if err != nil {
				return err
			}
			p := printer()
			return p.Emit(info, func() {
				if info == nil {
					p.Info("No rollback recorded")
					return
				}
				p.KeyValueLine("Package", info.PackageHash, "")
				p.KeyValueLine("Time", time.UnixMilli(info.Time).Format(time.RFC3339), "")
				p.KeyValueLine("Count", fmt.Sprint(info.Count), "yellow")
			})
		},
	})

	var dryRun bool
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Send the pending deployment status report",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(!dryRun)
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := s.client.GetLatestStatusReport()
			if err != nil {
				return err
			}
			p := printer()
			if r == nil {
				return p.Emit(map[string]bool{"reported": false}, func() { p.Info("Nothing to report") })
			}
			if dryRun {
				return p.Emit(r, func() {
					p.KeyValueLine("Status", string(r.Status), "")
					p.KeyValueLine("App version", r.AppVersion, "")
					p.KeyValueLine("Package", packageLine(r.Package), "")
					p.KeyValueLine("Previous", r.PreviousLabelOrAppVersion, "dim")
				})
			}
			if err := s.client.ReportStatus(cmd.Context(), r); err != nil {
				return err
			}
			return p.Emit(map[string]any{"reported": true, "report": r}, func() { p.Success("Status reported") })
		},
	}
	reportCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the report without sending it")
	rootCmd.AddCommand(reportCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove all updates and use the binary bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !promptYes("Remove every downloaded package and the update history?") {
				return fmt.Errorf("aborted")
			}
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.client.ClearAllUpdates(); err != nil {
				return err
			}
			p := printer()
			return p.Emit(map[string]bool{"cleared": true}, func() { p.Success("All updates cleared") })
		},
	})
}
