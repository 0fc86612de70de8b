package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	ui "github.com/spicysparks/sparks-client/internal/ui"
)

const testAppVersion = "1.0.0"

// resetFlags restores persistent flags to their defaults for one test.
func resetFlags(t *testing.T) {
	t.Helper()
	t.Setenv("SPARKS_HOME", "")
	t.Setenv("SPARKS_SERVER_URL", "")
	t.Setenv("SPARKS_DEPLOYMENT_KEY", "")
	t.Setenv("SPARKS_APP_VERSION", "")
	origOut := stdout
	t.Cleanup(func() {
		stdout = origOut
		flagHome, flagServer, flagDeploymentKey, flagAppVersion = "", "", "", ""
		flagOutput, flagLogLevel, flagLogFile = "text", "", ""
		flagNoColor, flagNoEmoji, flagYes = false, false, false
	})
	flagHome, flagServer, flagDeploymentKey, flagAppVersion = "", "", "", ""
	flagOutput, flagLogLevel, flagLogFile = "text", "", ""
	flagNoColor, flagNoEmoji, flagYes = false, false, false
}

// runCLI executes the root command with args and returns what it printed.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	stdout = &buf
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// runJSON runs a command with -o json and decodes its output into v.
func runJSON(t *testing.T, v any, args ...string) {
	t.Helper()
	out, err := runCLI(t, append(args, "-o", "json")...)
	if err != nil {
		t.Fatalf("sparks %s: %v", strings.Join(args, " "), err)
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
}

func testColorConfig() *ui.ColorConfig {
	c := ui.NewColorConfig()
	c.Enabled = false
	c.EmojiEnabled = false
	return c
}

// updateServer answers update checks with at most one offered package.
type updateServer struct {
	*httptest.Server

	mu      sync.Mutex
	offered string
	reports int
}

func newUpdateServer(t *testing.T) *updateServer {
	t.Helper()
	s := &updateServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *updateServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.HasSuffix(r.URL.Path, "/update_check"):
		if s.offered == "" {
			_, _ = w.Write([]byte(`{"updateInfo":{"isAvailable":false}}`))
			return
		}
		fmt.Fprintf(w, `{"updateInfo":{"isAvailable":true,"packageHash":%q,"label":"v1","appVersion":%q,"downloadURL":%q}}`,
			s.offered, testAppVersion, s.URL+"/pkg/"+s.offered)
	case strings.Contains(r.URL.Path, "/report_status/"):
		s.reports++
	case strings.HasPrefix(r.URL.Path, "/pkg/"):
		_, _ = w.Write([]byte("bundle " + strings.TrimPrefix(r.URL.Path, "/pkg/")))
	default:
		http.NotFound(w, r)
	}
}

func (s *updateServer) offer(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offered = hash
}
