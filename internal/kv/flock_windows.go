//go:build windows

package kv

import "os"

// Windows has no flock; stores on one home are not shared across processes there.
func flockExclusive(f *os.File) error { return nil }

func flockUnlock(f *os.File) error { return nil }
