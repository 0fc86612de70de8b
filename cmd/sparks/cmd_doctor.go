package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/spicysparks/sparks-client/internal/config"
	"github.com/spicysparks/sparks-client/internal/exitcodes"
	"github.com/spicysparks/sparks-client/internal/kv"
	"github.com/spicysparks/sparks-client/internal/process"
	ui "github.com/spicysparks/sparks-client/internal/ui"
)

// minFreeBytes is the free space needed to download and unpack a package.
const minFreeBytes = 200 << 20

type checkResult struct {
	Name    string   `json:"name" yaml:"name"`
	Status  string   `json:"status" yaml:"status"` // "pass", "warn", "fail"
	Message string   `json:"message" yaml:"message"`
	Details []string `json:"details,omitempty" yaml:"details,omitempty"`
}

// doctorChecks are replaced in tests that must not touch the network.
var doctorChecks = []func(context.Context, config.Config) checkResult{
	checkConfig,
	checkHomeWritable,
	checkStore,
	checkDiskSpace,
	checkHostCommand,
	checkHostRunning,
	checkServer,
}

func checkConfig(_ context.Context, cfg config.Config) checkResult {
	r := checkResult{Name: "Configuration"}
	if err := cfg.Validate(false); err != nil {
		r.Status, r.Message = "fail", err.Error()
		r.Details = []string{"Set appVersion in " + filepath.Join(cfg.HomeDir, config.FileName) + " or pass --app-version"}
		return r
	}
	if err := cfg.Validate(true); err != nil {
		r.Status, r.Message = "warn", "Remote updates disabled: "+err.Error()
		return r
	}
	r.Status, r.Message = "pass", "Configuration valid"
	return r
}

func checkHomeWritable(_ context.Context, cfg config.Config) checkResult {
	r := checkResult{Name: "Home Directory"}
	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		r.Status, r.Message = "fail", fmt.Sprintf("Cannot create %s", cfg.HomeDir)
		r.Details = []string{err.Error()}
		return r
	}
	testFile := filepath.Join(cfg.HomeDir, ".diskcheck")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		r.Status, r.Message = "fail", "Cannot write to home directory"
		r.Details = []string{err.Error(), "Verify write permissions"}
		return r
	}
	_ = os.Remove(testFile)
	r.Status, r.Message = "pass", fmt.Sprintf("%s is writable", cfg.HomeDir)
	return r
}

func checkStore(_ context.Context, cfg config.Config) checkResult {
	r := checkResult{Name: "Settings Store"}
	store, err := kv.Open(cfg.StoreBackend, afero.NewOsFs(), cfg.HomeDir)
	if err != nil {
		r.Status, r.Message = "fail", fmt.Sprintf("Cannot open %s store", cfg.StoreBackend)
		r.Details = []string{err.Error()}
		return r
	}
	_ = store.Close()
	r.Status, r.Message = "pass", fmt.Sprintf("%s store opens", cfg.StoreBackend)
	return r
}

func checkDiskSpace(_ context.Context, cfg config.Config) checkResult {
	r := checkResult{Name: "Disk Space"}
	usage, err := disk.Usage(cfg.HomeDir)
	if err != nil {
		r.Status, r.Message = "warn", "Could not check disk space"
		r.Details = []string{err.Error()}
		return r
	}
	free := int64(usage.Free)
	switch {
	case free < minFreeBytes:
		r.Status = "fail"
		r.Message = fmt.Sprintf("Only %s free", ui.FormatBytes(free))
		r.Details = []string{fmt.Sprintf("Packages need at least %s to download and unpack", ui.FormatBytes(minFreeBytes))}
	case usage.UsedPercent > 90:
		r.Status, r.Message = "warn", fmt.Sprintf("%s free (%.0f%% used)", ui.FormatBytes(free), usage.UsedPercent)
	default:
		r.Status, r.Message = "pass", fmt.Sprintf("%s free", ui.FormatBytes(free))
	}
	return r
}

func checkHostCommand(_ context.Context, cfg config.Config) checkResult {
	r := checkResult{Name: "Host Command"}
	if len(cfg.HostCommand) == 0 {
		r.Status, r.Message = "warn", "hostCommand not set, 'sparks run' is unavailable"
		return r
	}
	if _, err := exec.LookPath(cfg.HostCommand[0]); err != nil {
		r.Status, r.Message = "fail", fmt.Sprintf("%s not found", cfg.HostCommand[0])
		r.Details = []string{err.Error()}
		return r
	}
	r.Status, r.Message = "pass", fmt.Sprintf("%s found", cfg.HostCommand[0])
	return r
}

func checkHostRunning(_ context.Context, cfg config.Config) checkResult {
	r := checkResult{Name: "Host Application"}
	h := process.NewHost(cfg.HomeDir, cfg.HostCommand, nil)
	if pid, ok := h.PID(); ok {
		r.Status, r.Message = "pass", fmt.Sprintf("Running (PID %d)", pid)
		return r
	}
	r.Status, r.Message = "warn", "Not running"
	r.Details = []string{"Run 'sparks run' to start it"}
	return r
}

func checkServer(ctx context.Context, cfg config.Config) checkResult {
	r := checkResult{Name: "Update Server"}
	if cfg.ServerURL == "" {
		r.Status, r.Message = "warn", "No server configured"
		return r
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, cfg.ServerURL, nil)
	if err != nil {
		r.Status, r.Message = "fail", "Invalid server url"
		r.Details = []string{err.Error()}
		return r
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		r.Status, r.Message = "fail", fmt.Sprintf("Cannot reach %s", cfg.ServerURL)
		r.Details = []string{err.Error(), "Check internet connectivity"}
		return r
	}
	_ = resp.Body.Close()
	r.Status, r.Message = "pass", fmt.Sprintf("%s reachable", cfg.ServerURL)
	return r
}

func printCheck(r checkResult, c *ui.ColorConfig) {
	fmt.Fprintf(stdout, "%s %s: %s\n", c.StatusIcon(map[string]string{"pass": "success", "warn": "warning", "fail": "error"}[r.Status]), c.Label(r.Name), r.Message)
	for _, d := range r.Details {
		fmt.Fprintf(stdout, "    %s\n", c.Description(d))
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadCfg()
	if err != nil {
		return err
	}
	p := printer()
	c := p.Colors

	results := make([]checkResult, 0, len(doctorChecks))
	if !p.Structured() {
		fmt.Fprintln(stdout, c.Header(" SPARKS HEALTH CHECK "))
		fmt.Fprintln(stdout)
	}
	for _, check := range doctorChecks {
		r := check(cmd.Context(), cfg)
		results = append(results, r)
		if !p.Structured() {
			printCheck(r, c)
		}
	}

	passed, warned, failed := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case "pass":
			passed++
		case "warn":
			warned++
		case "fail":
			failed++
		}
	}

	summary := fmt.Sprintf("Checks: %d passed, %d warnings, %d failed", passed, warned, failed)
	err = p.Emit(results, func() {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, c.Separator(60))
		switch {
		case failed > 0:
			fmt.Fprintln(stdout, c.Error("✗ "+summary))
		case warned > 0:
			fmt.Fprintln(stdout, c.Warning("⚠ "+summary))
		default:
			fmt.Fprintln(stdout, c.Success("✓ "+summary))
		}
	})
	if err != nil {
		return err
	}
	if failed > 0 {
		return silentErr{exitcodes.NewError(exitcodes.ValidationError, summary)}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks",
		Long: `Checks the sparks setup:
- configuration and store
- home directory permissions and free disk space
- host command and process
- update server reachability`,
		RunE: runDoctor,
	})
}
