package metrics

import (
	"context"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type System struct {
	MemUsed   uint64 `json:"memUsed" yaml:"memUsed"`
	MemTotal  uint64 `json:"memTotal" yaml:"memTotal"`
	DiskUsed  uint64 `json:"diskUsed" yaml:"diskUsed"`
	DiskTotal uint64 `json:"diskTotal" yaml:"diskTotal"`
}

// Host is the resource usage of the host application process.
type Host struct {
	PID        int     `json:"pid" yaml:"pid"`
	CPUPercent float64 `json:"cpuPercent" yaml:"cpuPercent"`
	RSS        uint64  `json:"rss" yaml:"rss"`
	Threads    int32   `json:"threads" yaml:"threads"`
}

type Snapshot struct {
	System System `json:"system" yaml:"system"`
	Host   *Host  `json:"host,omitempty" yaml:"host,omitempty"`
}

// Collect samples memory and the disk holding home, plus the host
// application when pid is positive. Failed probes leave their fields zero.
func Collect(ctx context.Context, home string, pid int) Snapshot {
	snap := Snapshot{}

	if vmStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.System.MemUsed = vmStat.Used
		snap.System.MemTotal = vmStat.Total
	}
	// Packages are unpacked under home, so that is the disk that fills up.
	if diskStat, err := disk.UsageWithContext(ctx, home); err == nil {
		snap.System.DiskUsed = diskStat.Used
		snap.System.DiskTotal = diskStat.Total
	}

	if pid > 0 {
		snap.Host = collectHost(ctx, pid)
	}
	return snap
}

func collectHost(ctx context.Context, pid int) *Host {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil
	}
	h := &Host{PID: pid}
	// Average over the process lifetime; a sampled percent would block.
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		h.CPUPercent = cpu
	}
	if m, err := p.MemoryInfoWithContext(ctx); err == nil {
		h.RSS = m.RSS
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		h.Threads = n
	}
	return h
}
