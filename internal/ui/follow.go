package ui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nxadm/tail"
)

// FollowOptions configures FollowLog.
type FollowOptions struct {
	// Lines is how many trailing lines to print first. Zero prints the whole file.
	Lines int
	// Follow keeps streaming lines appended to the file until ctx is done.
	Follow bool
	// Poll uses polling instead of inotify/kqueue.
	Poll bool
}

// FollowLog prints the tail of the log at path to out and, when following,
// keeps streaming appended lines across rotations.
func FollowLog(ctx context.Context, path string, out io.Writer, opts FollowOptions) error {
	offset, err := tailOffset(path, opts.Lines)
	if err != nil {
		if !opts.Follow || !errors.Is(err, os.ErrNotExist) {
			return err
		}
		offset = 0
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    opts.Follow,
		ReOpen:    opts.Follow, // handle rotation
		MustExist: !opts.Follow,
		Poll:      opts.Poll,
		Location:  &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail log: %w", err)
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok || line == nil {
				return nil
			}
			if line.Err != nil {
				return line.Err
			}
			if _, err := fmt.Fprintln(out, line.Text); err != nil {
				return err
			}
		}
	}
}

// tailOffset returns the byte offset where the last n lines of path begin.
func tailOffset(path string, n int) (int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}
	end := len(b)
	if end > 0 && b[end-1] == '\n' {
		end--
	}
	for i := 0; i < n; i++ {
		idx := bytes.LastIndexByte(b[:end], '\n')
		if idx < 0 {
			return 0, nil
		}
		end = idx
	}
	return int64(end + 1), nil
}
