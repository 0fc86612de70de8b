package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const progressBarWidth = 30

// DownloadProgress renders package download progress for the commands
// that run without the sync view. A terminal gets a redrawn bar; any
// other writer gets one line per tenth of the package.
type DownloadProgress struct {
	mu       sync.Mutex
	out      io.Writer
	tty      bool
	start    time.Time
	drawn    time.Time
	lastStep int64
	done     bool
}

func NewDownloadProgress(out io.Writer) *DownloadProgress {
	return &DownloadProgress{out: out, tty: isTerminal(out), start: time.Now(), lastStep: -1}
}

// Track has the signature of a package download progress callback. The
// output ends with a newline once received reaches a known total.
func (d *DownloadProgress) Track(received, total int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return
	}
	complete := total > 0 && received >= total
	d.done = complete

	if !d.tty {
		if total <= 0 {
			return
		}
		step := received * 10 / total
		if step > d.lastStep {
			d.lastStep = step
			fmt.Fprintf(d.out, "  Downloading package... %d%%\n", step*10)
		}
		return
	}

	now := time.Now()
	if !complete && now.Sub(d.drawn) < 100*time.Millisecond {
		return
	}
	d.drawn = now

	var speed float64
	if elapsed := now.Sub(d.start).Seconds(); elapsed > 0 {
		speed = float64(received) / elapsed
	}
	if total <= 0 {
		fmt.Fprintf(d.out, "\r  Downloading package... %s   %s\033[K", FormatBytes(received), FormatSpeed(speed))
		return
	}
	filled := int(received * progressBarWidth / total)
	if filled > progressBarWidth {
		filled = progressBarWidth
	}
	fmt.Fprintf(d.out, "\r  [%s%s] %3d%%   %s/%s   %s\033[K",
		strings.Repeat("█", filled), strings.Repeat("░", progressBarWidth-filled),
		received*100/total, FormatBytes(received), FormatBytes(total), FormatSpeed(speed))
	if complete {
		fmt.Fprintln(d.out)
	}
}
