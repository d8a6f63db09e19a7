//go:build !windows

package binarymanager

import (
	"fmt"
	"os"
	"syscall"
)

// acquireSentinelLock takes an exclusive flock on path, creating it if
// needed, and returns a function that releases it. Blocks until acquired.
func acquireSentinelLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open sentinel: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock: %w", err)
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}
