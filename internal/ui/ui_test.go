package ui

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spicysparks/sparks-client/internal/bundle"
	"github.com/spicysparks/sparks-client/internal/update"
)

func plainColors() *ColorConfig {
	return &ColorConfig{Enabled: false, EmojiEnabled: false, Theme: DefaultTheme()}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0B"},
		{1023, "1023B"},
		{1024, "1.0KB"},
		{1536, "1.5KB"},
		{5 * 1024 * 1024, "5.0MB"},
		{3 * 1024 * 1024 * 1024, "3.0GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in), "FormatBytes(%d)", tt.in)
	}
	assert.Equal(t, "2.0KB/s", FormatSpeed(2048))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "999", FormatNumber(999))
	assert.Equal(t, "1,000", FormatNumber(1000))
	assert.Equal(t, "1,234,567", FormatNumber(1234567))
	assert.Equal(t, "-12,345", FormatNumber(-12345))
}

func TestPrinter_Emit(t *testing.T) {
	v := map[string]string{"packageHash": "h1"}

	var out bytes.Buffer
	require.NoError(t, NewPrinter("json").WithWriter(&out).Emit(v, func() { t.Fatal("text path used") }))
	assert.JSONEq(t, `{"packageHash":"h1"}`, out.String())

	out.Reset()
	require.NoError(t, NewPrinter("yaml").WithWriter(&out).Emit(v, nil))
	assert.Equal(t, "packageHash: h1\n", out.String())

	out.Reset()
	called := false
	require.NoError(t, NewPrinter("text").WithWriter(&out).Emit(v, func() { called = true }))
	assert.True(t, called)
}

func TestPrinter_Messages(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter("text").WithWriter(&out)
	p.Colors = plainColors()

	p.Success("installed")
	p.Warn("pending")
	p.KeyValueLine("Hash", "h1", "")
	assert.Equal(t, "[OK] installed\n[WARN] pending\nHash: h1\n", out.String())
}

func TestTable(t *testing.T) {
	got := Table(plainColors(), []string{"HASH", "LABEL"}, [][]string{{"h1", "v1"}, {"h22", "v2"}})
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "HASH  LABEL", lines[0])
	assert.Equal(t, "h1    v1   ", lines[2])
	assert.Equal(t, "h22   v2   ", lines[3])
}

func TestForError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantAction string
	}{
		{"configuration", bundle.InvalidConfiguration("check", errors.New("no key")), "sparks.yaml"},
		{"invalid update", bundle.InvalidUpdate("download", errors.New("bad hash")), "sparks failed"},
		{"malformed", bundle.MalformedData("read", errors.New("eof")), "sparks clear"},
		{"http", &update.HTTPError{StatusCode: 401, Status: "401 Unauthorized"}, "deployment key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ForError(tt.err).Format(plainColors())
			assert.Contains(t, msg, tt.err.Error())
			assert.Contains(t, msg, tt.wantAction)
		})
	}

	plain := ForError(errors.New("boom"))
	assert.Empty(t, plain.Actions)
}

func TestDownloadProgress_NonTTY(t *testing.T) {
	var out bytes.Buffer
	p := NewDownloadProgress(&out)
	p.Track(10, 0)
	assert.Empty(t, out.String(), "no lines without a total")

	p.Track(50, 100)
	p.Track(55, 100)
	p.Track(100, 100)
	p.Track(100, 100)

	assert.Equal(t, "  Downloading package... 50%\n  Downloading package... 100%\n", out.String())
}

func TestStatusBox(t *testing.T) {
	box := StatusBox("Sparks", [][2]string{{"Package", "h1"}, {"Label", ""}})
	assert.Contains(t, box, "Sparks")
	assert.Contains(t, box, "h1")
	assert.Contains(t, box, "-")
	assert.Contains(t, box, "╭")
}

func TestSyncModel(t *testing.T) {
	var m tea.Model = newSyncModel()
	m, _ = m.Update(statusMsg("downloading-package"))
	m, _ = m.Update(progressMsg{received: 1024, total: 2048})
	view := m.View()
	assert.Contains(t, view, "downloading-package")
	assert.Contains(t, view, "1.0KB/2.0KB")

	m, cmd := m.Update(doneMsg{final: "update-installed"})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, m.View(), "update-installed")
}

func TestSyncView_NonTTY(t *testing.T) {
	var out bytes.Buffer
	v := NewSyncView(&out)
	v.Start()
	v.Status("checking-for-update")
	v.Status("checking-for-update")
	v.Progress(10, 20)
	v.Finish("up-to-date", nil)

	assert.Equal(t, "  checking-for-update\nup-to-date\n", out.String())
}

func TestFollowLog_LastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, FollowLog(context.Background(), path, &out, FollowOptions{Lines: 2}))
	assert.Equal(t, "three\nfour\n", out.String())

	out.Reset()
	require.NoError(t, FollowLog(context.Background(), path, &out, FollowOptions{}))
	assert.Equal(t, "one\ntwo\nthree\nfour\n", out.String())
}

func TestFollowLog_MissingFile(t *testing.T) {
	err := FollowLog(context.Background(), filepath.Join(t.TempDir(), "none.log"), &bytes.Buffer{}, FollowOptions{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFollowLog_Follow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- FollowLog(ctx, path, out, FollowOptions{Lines: 1, Follow: true, Poll: true}) }()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("new\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Eventually(t, func() bool { return out.String() == "old\nnew\n" }, 5*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestInitTerminal_KeepsUserColors(t *testing.T) {
	t.Setenv("COLORFGBG", "")
	InitTerminal()
	assert.Equal(t, "0;15", os.Getenv("COLORFGBG"))

	t.Setenv("COLORFGBG", "15;0")
	InitTerminal()
	assert.Equal(t, "15;0", os.Getenv("COLORFGBG"))
}
