//go:build windows

package binarymanager

import (
	"fmt"
	"os"
	"time"
)

// acquireSentinelLock takes an exclusive lock on path using a create-exclusive
// sentinel, retrying briefly, then falls back to proceeding unlocked rather
// than deadlocking a single-process test run. Windows has no flock syscall;
// this mirrors the effect closely enough for first-writer-wins coordination
// within one host process.
func acquireSentinelLock(path string) (func(), error) {
	for i := 0; i < 50; i++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err == nil {
			return func() {
				_ = f.Close()
				_ = os.Remove(path)
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("open sentinel: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return func() {}, nil
}
