// Package process runs the host application as a detached child for
// `sparks run` and restarts it when a new bundle is installed.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

// BundlePathEnv tells the child which bundle to load.
const BundlePathEnv = "SPARKS_BUNDLE_PATH"

// Resolver returns the bundle the application should start with.
type Resolver func() (string, error)

// Host starts the configured command with the active bundle path in its
// environment. It satisfies restart.Host.
type Host struct {
	command []string
	resolve Resolver
	pidFile string
	logFile string

	stopTimeout time.Duration

	mu         sync.Mutex
	bundlePath string
	exited     chan struct{}
}

type Option func(*Host)

// WithStopTimeout sets how long Stop waits after SIGTERM before SIGKILL.
func WithStopTimeout(d time.Duration) Option {
	return func(h *Host) { h.stopTimeout = d }
}

// NewHost returns a Host bound to the given home dir.
func NewHost(home string, command []string, resolve Resolver, opts ...Option) *Host {
	h := &Host{
		command:     command,
		resolve:     resolve,
		pidFile:     filepath.Join(home, "host.pid"),
		logFile:     filepath.Join(home, "logs", "host.log"),
		stopTimeout: 15 * time.Second,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Host) LogPath() string { return h.logFile }

// BundlePath is the bundle the next start uses.
func (h *Host) BundlePath() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bundlePath
}

func (h *Host) InstallActiveBundle(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bundlePath = path
	return nil
}

// Reload restarts the child with the installed bundle.
func (h *Host) Reload(reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	log.Infof("reloading host (%s) with %s", reason, h.bundlePath)
	if err := h.stop(); err != nil {
		return err
	}
	_, err := h.start(h.bundlePath)
	return err
}

// RestartApplication restarts the child with a freshly resolved bundle.
func (h *Host) RestartApplication() error {
	path, err := h.resolve()
	if err != nil {
		return fmt.Errorf("resolve bundle: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bundlePath = path
	if err := h.stop(); err != nil {
		return err
	}
	_, err = h.start(path)
	return err
}

// Done is closed when the child started by this Host exits. It is nil
// before the first Start.
func (h *Host) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

func (h *Host) PID() (int, bool) {
	b, err := os.ReadFile(h.pidFile)
	if err != nil {
		return 0, false
	}
	txt := strings.TrimSpace(string(b))
	if txt == "" {
		return 0, false
	}
	pid, err := strconv.Atoi(txt)
	if err != nil {
		return 0, false
	}
	if processAlive(pid) {
		return pid, true
	}
	// Process is dead - clean up stale PID file
	_ = os.Remove(h.pidFile)
	return 0, false
}

func (h *Host) IsRunning() bool {
	_, ok := h.PID()
	return ok
}

func (h *Host) Uptime() (time.Duration, bool) {
	pid, ok := h.PID()
	if !ok {
		return 0, false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, false
	}
	created, err := p.CreateTime()
	if err != nil {
		return 0, false
	}
	return time.Since(time.UnixMilli(created)), true
}

func (h *Host) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stop()
}

func (h *Host) stop() error {
	pid, ok := h.PID()
	if !ok {
		return nil
	}
	// Try graceful TERM to process group first, fall back to individual PID
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}
	if waitExit(pid, h.stopTimeout, 100*time.Millisecond) {
		_ = os.Remove(h.pidFile)
		return nil
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	if waitExit(pid, 5*time.Second, 100*time.Millisecond) {
		_ = os.Remove(h.pidFile)
		return nil
	}
	_ = os.Remove(h.pidFile)
	return errors.New("failed to stop host application")
}

// Start launches the command with bundlePath unless it is already running.
func (h *Host) Start(bundlePath string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bundlePath = bundlePath
	return h.start(bundlePath)
}

func (h *Host) start(bundlePath string) (int, error) {
	if len(h.command) == 0 {
		return 0, errors.New("host command is not configured")
	}
	if pid, ok := h.PID(); ok {
		return pid, nil
	}
	if err := os.MkdirAll(filepath.Dir(h.logFile), 0o755); err != nil {
		return 0, err
	}
	lf, err := os.OpenFile(h.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(h.command[0], h.command[1:]...)
	cmd.Env = append(os.Environ(), BundlePathEnv+"="+bundlePath)
	cmd.Stdout = lf
	cmd.Stderr = lf
	cmd.Stdin = nil
	// Detach from this session/process group
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		_ = lf.Close()
		return 0, fmt.Errorf("start %s: %w", h.command[0], err)
	}
	pid := cmd.Process.Pid
	if err := os.WriteFile(h.pidFile, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		_ = syscall.Kill(pid, syscall.SIGTERM)
		_ = lf.Close()
		return 0, err
	}

	exited := make(chan struct{})
	h.exited = exited
	go func() {
		err := cmd.Wait()
		log.Infof("host application %d exited: %v", pid, err)
		_ = lf.Close()
		close(exited)
	}()
	log.Infof("started host application %d with %s", pid, bundlePath)
	return pid, nil
}

func waitExit(pid int, timeout, poll time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		time.Sleep(poll)
	}
	return !processAlive(pid)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	if err != nil || !running {
		return false
	}
	// An exited child not yet reaped still has a pid.
	status, err := p.Status()
	if err == nil && len(status) > 0 && status[0] == process.Zombie {
		return false
	}
	return true
}
