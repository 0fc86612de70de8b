package main

import (
	"strings"
	"testing"
)

func TestVersionCmd_JSON(t *testing.T) {
	resetFlags(t)
	var v map[string]string
	runJSON(t, &v, "version")
	if v["version"] != Version {
		t.Errorf("version = %q, want %q", v["version"], Version)
	}
	if _, ok := v["commit"]; !ok {
		t.Error("version output missing commit")
	}
}

func TestVersionCmd_Text(t *testing.T) {
	resetFlags(t)
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "sparks "+Version) {
		t.Errorf("version output = %q", out)
	}
}

func TestCompletionCmd_UnknownShell(t *testing.T) {
	resetFlags(t)
	if _, err := runCLI(t, "completion", "tcsh"); err == nil {
		t.Error("expected error for unknown shell")
	}
}
