package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/spicysparks/sparks-client/internal/bundle"
	"github.com/spicysparks/sparks-client/internal/metrics"
	ui "github.com/spicysparks/sparks-client/internal/ui"
)

type statusResult struct {
	BundlePath    string                `json:"bundlePath" yaml:"bundlePath"`
	AppVersion    string                `json:"appVersion" yaml:"appVersion"`
	Running       *bundle.Package       `json:"running,omitempty" yaml:"running,omitempty"`
	Pending       *bundle.Package       `json:"pending,omitempty" yaml:"pending,omitempty"`
	Previous      *bundle.Package       `json:"previous,omitempty" yaml:"previous,omitempty"`
	PendingMarker *bundle.PendingUpdate `json:"pendingMarker,omitempty" yaml:"pendingMarker,omitempty"`
	LastRollback  *bundle.RollbackInfo  `json:"lastRollback,omitempty" yaml:"lastRollback,omitempty"`
	FailedCount   int                   `json:"failedCount" yaml:"failedCount"`
	HostRunning   bool                  `json:"hostRunning" yaml:"hostRunning"`
	HostPID       int                   `json:"hostPid,omitempty" yaml:"hostPid,omitempty"`
	HostUptime    string                `json:"hostUptime,omitempty" yaml:"hostUptime,omitempty"`
	Resources     metrics.Snapshot      `json:"resources" yaml:"resources"`
}

func computeStatus(ctx context.Context, s *session) (statusResult, error) {
	res := statusResult{AppVersion: s.cfg.AppVersion}
	var err error
	if res.BundlePath, err = s.client.ResolveBundlePath(); err != nil {
		return res, err
	}
	if res.Running, err = s.client.GetPendingOrRunningMetadata(bundle.StateRunning); err != nil {
		return res, err
	}
	if res.Pending, err = s.client.GetPendingOrRunningMetadata(bundle.StatePending); err != nil {
		return res, err
	}
	if res.Previous, err = s.client.Repository().PreviousPackage(); err != nil {
		return res, err
	}
	if res.PendingMarker, err = s.client.PendingUpdate(); err != nil {
		return res, err
	}
	if res.LastRollback, err = s.client.LatestRollbackInfo(); err != nil {
		return res, err
	}
	failed, err := s.client.FailedUpdates()
	if err != nil {
		return res, err
	}
	res.FailedCount = len(failed)
	if pid, ok := s.host.PID(); ok {
		res.HostRunning, res.HostPID = true, pid
		if up, ok := s.host.Uptime(); ok {
			res.HostUptime = up.Truncate(time.Second).String()
		}
	}
	res.Resources = metrics.Collect(ctx, s.cfg.HomeDir, res.HostPID)
	return res, nil
}

func packageLine(pkg *bundle.Package) string {
	if pkg == nil {
		return ""
	}
	if pkg.Label == "" {
		return pkg.PackageHash
	}
	return fmt.Sprintf("%s (%s)", pkg.Label, shortHash(pkg.PackageHash))
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func printStatusText(res statusResult) {
	host := "stopped"
	if res.HostRunning {
		host = fmt.Sprintf("running (pid %d, up %s)", res.HostPID, res.HostUptime)
	}
	hostUsage := ""
	if h := res.Resources.Host; h != nil {
		hostUsage = fmt.Sprintf("%.1f%% cpu, %s rss", h.CPUPercent, ui.FormatBytes(int64(h.RSS)))
	}
	disk := ""
	if sys := res.Resources.System; sys.DiskTotal > 0 {
		disk = fmt.Sprintf("%s / %s", ui.FormatBytes(int64(sys.DiskUsed)), ui.FormatBytes(int64(sys.DiskTotal)))
	}
	rollback := ""
	if r := res.LastRollback; r != nil {
		rollback = fmt.Sprintf("%s x%d at %s", shortHash(r.PackageHash), r.Count, time.UnixMilli(r.Time).Format(time.RFC3339))
	}
	loading := ""
	if m := res.PendingMarker; m != nil {
		loading = strconv.FormatBool(m.IsLoading)
	}
	fmt.Fprintln(stdout, ui.StatusBox("Sparks", [][2]string{
		{"App version", res.AppVersion},
		{"Bundle", res.BundlePath},
		{"Running package", packageLine(res.Running)},
		{"Pending package", packageLine(res.Pending)},
		{"Pending loading", loading},
		{"Previous package", packageLine(res.Previous)},
		{"Last rollback", rollback},
		{"Failed updates", strconv.Itoa(res.FailedCount)},
		{"Host", host},
		{"Host usage", hostUsage},
		{"Disk", disk},
	}))
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show current, pending and previous packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := computeStatus(cmd.Context(), s)
			if err != nil {
				return err
			}
			return printer().Emit(res, func() { printStatusText(res) })
		},
	})

	var resolveOnly bool
	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the bundle the host should load",
		Long: `Runs the launch time reconciliation and prints the bundle path. A package
that was installed but never confirmed is rolled back here. Call it once per
host launch, or pass --no-init to only look the path up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			var path string
			if resolveOnly {
				path, err = s.client.ResolveBundlePath()
			} else {
				path, err = s.client.Start()
			}
			if err != nil {
				return err
			}
			return printer().Emit(map[string]string{"bundlePath": path}, func() {
				fmt.Fprintln(stdout, path)
			})
		},
	}
	resolveCmd.Flags().BoolVar(&resolveOnly, "no-init", false, "Only resolve the path, skip launch reconciliation")
	rootCmd.AddCommand(resolveCmd)
}
