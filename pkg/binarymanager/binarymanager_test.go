package binarymanager

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeFakeTranscoder writes a minimal, portable script that behaves like a
// version-probe-capable binary: exits 0 when called with -version.
func writeFakeTranscoder(t *testing.T, dir, name string) string {
	t.Helper()
	var path, body string
	if runtime.GOOS == "windows" {
		path = filepath.Join(dir, name+".bat")
		body = "@echo off\r\necho fake-transcoder 1.0\r\nexit /b 0\r\n"
	} else {
		path = filepath.Join(dir, name)
		body = "#!/bin/sh\necho fake-transcoder 1.0\nexit 0\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestEnsureReady_CopiesAndProbes(t *testing.T) {
	srcDir := t.TempDir()
	binaryName := "transcoder"
	if runtime.GOOS == "windows" {
		binaryName = "transcoder.bat"
	}
	writeFakeTranscoder(t, srcDir, "transcoder")

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home) // windows

	m := New("minutesgen-test", srcDir, binaryName)
	path, err := m.EnsureReady(context.Background())
	require.NoError(t, err)
	require.FileExists(t, path)

	// Idempotent: second call returns the same cached path without error.
	path2, err := m.EnsureReady(context.Background())
	require.NoError(t, err)
	require.Equal(t, path, path2)
}

func TestEnsureReady_MissingBinary(t *testing.T) {
	srcDir := t.TempDir()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	m := New("minutesgen-test", srcDir, "does-not-exist")
	_, err := m.EnsureReady(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrBinaryMissing)
}

func TestEnsureReady_ConcurrentCallersAgree(t *testing.T) {
	srcDir := t.TempDir()
	binaryName := "transcoder"
	if runtime.GOOS == "windows" {
		binaryName = "transcoder.bat"
	}
	writeFakeTranscoder(t, srcDir, "transcoder")
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	m := New("minutesgen-test", srcDir, binaryName)

	const n = 8
	results := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			p, err := m.EnsureReady(context.Background())
			results <- p
			errs <- err
		}()
	}
	var first string
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
		p := <-results
		if first == "" {
			first = p
		} else {
			require.Equal(t, first, p)
		}
	}
}
