package main

import (
	"strings"
	"testing"

	"github.com/spicysparks/sparks-client/internal/bundle"
)

func remoteArgs(t *testing.T, srv *updateServer, args ...string) []string {
	t.Helper()
	return append(args, "--home", t.TempDir(), "--server", srv.URL+"/", "--deployment-key", "production", "--app-version", testAppVersion)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		value   string
		want    bundle.InstallMode
		wantErr bool
	}{
		{"immediate", bundle.InstallImmediate, false},
		{"on-next-restart", bundle.InstallOnNextRestart, false},
		{"on-next-resume", bundle.InstallOnNextResume, false},
		{"on-next-suspend", bundle.InstallOnNextSuspend, false},
		{"later", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := parseMode("mode", tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseMode(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseMode(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestPromptYes(t *testing.T) {
	resetFlags(t)
	origIn := stdin
	defer func() { stdin = origIn }()

	stdin = strings.NewReader("yes\n")
	if !promptYes("continue?") {
		t.Error("promptYes() = false for 'yes'")
	}
	stdin = strings.NewReader("\n")
	if promptYes("continue?") {
		t.Error("promptYes() = true for empty answer")
	}
	flagYes = true
	stdin = strings.NewReader("")
	if !promptYes("continue?") {
		t.Error("promptYes() should assume yes with --yes")
	}
}

func TestCheckCmd_UpToDate(t *testing.T) {
	resetFlags(t)
	srv := newUpdateServer(t)

	var res struct {
		UpdateAvailable bool `json:"updateAvailable"`
	}
	runJSON(t, &res, remoteArgs(t, srv, "check")...)
	if res.UpdateAvailable {
		t.Error("check reported an update the server did not offer")
	}
}

func TestCheckCmd_UpdateAvailable(t *testing.T) {
	resetFlags(t)
	srv := newUpdateServer(t)
	srv.offer("abc123")

	var res struct {
		UpdateAvailable bool            `json:"updateAvailable"`
		Package         *bundle.Package `json:"package"`
	}
	runJSON(t, &res, remoteArgs(t, srv, "check")...)
	if !res.UpdateAvailable || res.Package == nil {
		t.Fatal("check did not report the offered package")
	}
	if res.Package.PackageHash != "abc123" {
		t.Errorf("package hash = %q, want abc123", res.Package.PackageHash)
	}
}

func TestCheckCmd_RequiresDeploymentKey(t *testing.T) {
	resetFlags(t)
	_, err := runCLI(t, "check", "--home", t.TempDir(), "--app-version", testAppVersion)
	if err == nil {
		t.Fatal("check without a deployment key should fail")
	}
}

func TestSyncCmd_InstallsThenStatusShowsPending(t *testing.T) {
	resetFlags(t)
	srv := newUpdateServer(t)
	srv.offer("abc123")
	home := t.TempDir()
	args := func(a ...string) []string {
		return append(a, "--home", home, "--server", srv.URL+"/", "--deployment-key", "production", "--app-version", testAppVersion)
	}

	var synced map[string]string
	runJSON(t, &synced, args("sync", "--install-mode", "on-next-restart")...)
	if synced["status"] != "update-installed" {
		t.Fatalf("sync status = %q, want update-installed", synced["status"])
	}

	var st statusResult
	runJSON(t, &st, args("status")...)
	if st.Pending == nil || st.Pending.PackageHash != "abc123" {
		t.Fatalf("status pending = %+v, want abc123", st.Pending)
	}
	if st.PendingMarker == nil || st.PendingMarker.Hash != "abc123" {
		t.Errorf("pending marker = %+v", st.PendingMarker)
	}
	if st.HostRunning {
		t.Error("status reports a host that was never started")
	}
}

func TestInstallCmd_NotDownloaded(t *testing.T) {
	resetFlags(t)
	_, err := runCLI(t, "install", "missing", "--home", t.TempDir(), "--app-version", testAppVersion)
	if err == nil {
		t.Fatal("installing a package that was not downloaded should fail")
	}
}

func TestInstallCmd_InvalidMode(t *testing.T) {
	resetFlags(t)
	// Subcommand flags keep their value between executions.
	t.Cleanup(func() {
		if cmd, _, err := rootCmd.Find([]string{"install"}); err == nil {
			_ = cmd.Flags().Set("mode", bundle.InstallOnNextRestart.String())
		}
	})
	_, err := runCLI(t, "install", "abc", "--mode", "sometime", "--home", t.TempDir(), "--app-version", testAppVersion)
	if err == nil {
		t.Fatal("expected error for invalid --mode")
	}
}
