package main

import (
	"strings"
	"testing"

	"github.com/spicysparks/sparks-client/internal/bundle"
)

func TestPackageLine(t *testing.T) {
	tests := []struct {
		name string
		pkg  *bundle.Package
		want string
	}{
		{"nil", nil, ""},
		{"no label", &bundle.Package{PackageHash: "abc"}, "abc"},
		{"label", &bundle.Package{PackageHash: "0123456789abcdef", Label: "v7"}, "v7 (0123456789ab)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := packageLine(tt.pkg); got != tt.want {
				t.Errorf("packageLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShortHash(t *testing.T) {
	if got := shortHash("abc"); got != "abc" {
		t.Errorf("shortHash(abc) = %q", got)
	}
	if got := shortHash("0123456789abcdef"); got != "0123456789ab" {
		t.Errorf("shortHash() = %q, want 12 characters", got)
	}
}

func TestStatusCmd_FreshHome(t *testing.T) {
	resetFlags(t)
	var st statusResult
	runJSON(t, &st, "status", "--home", t.TempDir(), "--app-version", testAppVersion)

	if st.AppVersion != testAppVersion {
		t.Errorf("AppVersion = %q, want %q", st.AppVersion, testAppVersion)
	}
	if st.Running != nil || st.Pending != nil || st.Previous != nil {
		t.Errorf("fresh home should have no packages: %+v", st)
	}
	if st.FailedCount != 0 {
		t.Errorf("FailedCount = %d, want 0", st.FailedCount)
	}
}

func TestStatusCmd_Text(t *testing.T) {
	resetFlags(t)
	out, err := runCLI(t, "status", "--home", t.TempDir(), "--app-version", testAppVersion)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"App version", testAppVersion, "Host", "stopped"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusCmd_RequiresAppVersion(t *testing.T) {
	resetFlags(t)
	if _, err := runCLI(t, "status", "--home", t.TempDir()); err == nil {
		t.Error("status without an app version should fail")
	}
}
