package metrics

import (
	"context"
	"os"
	"testing"
)

func TestCollect_System(t *testing.T) {
	snap := Collect(context.Background(), t.TempDir(), 0)

	if snap.System.MemTotal == 0 {
		t.Error("Collect() MemTotal = 0")
	}
	if snap.System.DiskTotal == 0 {
		t.Error("Collect() DiskTotal = 0")
	}
	if snap.System.DiskUsed > snap.System.DiskTotal {
		t.Errorf("DiskUsed %d > DiskTotal %d", snap.System.DiskUsed, snap.System.DiskTotal)
	}
	if snap.Host != nil {
		t.Error("Collect() with no pid should not sample a host process")
	}
}

func TestCollect_Host(t *testing.T) {
	snap := Collect(context.Background(), t.TempDir(), os.Getpid())

	if snap.Host == nil {
		t.Fatal("Collect() Host = nil for the test process")
	}
	if snap.Host.PID != os.Getpid() {
		t.Errorf("Host.PID = %d, want %d", snap.Host.PID, os.Getpid())
	}
	if snap.Host.RSS == 0 {
		t.Error("Host.RSS = 0 for a running process")
	}
	if snap.Host.Threads == 0 {
		t.Error("Host.Threads = 0 for a running process")
	}
}

func TestCollect_DeadProcess(t *testing.T) {
	// PIDs near the top of the range are practically never in use.
	snap := Collect(context.Background(), t.TempDir(), 1<<22-3)
	if snap.Host != nil && snap.Host.RSS != 0 {
		t.Errorf("Collect() sampled a process that does not exist: %+v", snap.Host)
	}
}

func TestCollect_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Must not panic or block.
	_ = Collect(ctx, t.TempDir(), os.Getpid())
}
