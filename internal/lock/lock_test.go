package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/custodian-dev/custodian/internal/testutil"
)

func TestNewTargetLock(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	target := filepath.Join(dir, "tgt")
	lock, err := NewTargetLock(target)
	if err != nil {
		t.Fatalf("NewTargetLock failed: %v", err)
	}

	expectedPath := filepath.Join(target, LockFileName)
	if lock.lockPath != expectedPath {
		t.Errorf("expected lock path %s, got %s", expectedPath, lock.lockPath)
	}
	if lock.staleTimeout != DefaultStaleTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultStaleTimeout, lock.staleTimeout)
	}
	// The root should have been created
	if _, err := os.Stat(target); err != nil {
		t.Errorf("target root not created: %v", err)
	}
}

func TestNewTargetLock_EmptyRoot(t *testing.T) {
	if _, err := NewTargetLock(""); err == nil {
		t.Error("expected error for empty target root")
	}
}

func TestAcquireRelease(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock, err := NewTargetLock(dir)
	if err != nil {
		t.Fatalf("NewTargetLock failed: %v", err)
	}

	if err := lock.Acquire("copy"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := os.Stat(lock.lockPath); os.IsNotExist(err) {
		t.Error("lock file does not exist after acquire")
	}
	if !lock.IsLocked() {
		t.Error("lock should be held")
	}

	holder, err := lock.GetHolder()
	if err != nil {
		t.Fatalf("GetHolder failed: %v", err)
	}
	if holder.PID != os.Getpid() || holder.Operation != "copy" {
		t.Errorf("holder = %+v", holder)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if lock.IsLocked() {
		t.Error("lock should not be held after release")
	}
	if _, err := os.Stat(lock.lockPath); !os.IsNotExist(err) {
		t.Error("lock file still exists after release")
	}
}

func TestAcquireConflict(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	first, _ := NewTargetLock(dir)
	if err := first.Acquire("copy"); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer first.Release()

	second, _ := NewTargetLock(dir)
	err := second.Acquire("copy")
	if err == nil {
		t.Fatal("second Acquire should fail while lock is held")
	}
	if !IsLockError(err) {
		t.Errorf("error %v is not a LockError", err)
	}
}

func TestReacquireSameInstance(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock, _ := NewTargetLock(dir)
	if err := lock.Acquire("copy"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	// Re-acquiring with a new operation name updates, not fails
	if err := lock.Acquire("verify"); err != nil {
		t.Fatalf("re-Acquire failed: %v", err)
	}

	holder, err := lock.GetHolder()
	if err != nil {
		t.Fatalf("GetHolder failed: %v", err)
	}
	if holder.Operation != "verify" {
		t.Errorf("operation = %s, want verify", holder.Operation)
	}
}

func TestStaleLockFromDeadProcess(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock, _ := NewTargetLock(dir)

	// Write a lock from a PID that cannot be running
	hostname, _ := os.Hostname()
	stale := &LockInfo{
		PID:       1 << 30,
		Hostname:  hostname,
		StartTime: time.Now(),
		Operation: "copy",
	}
	if err := lock.writeLockInfo(stale); err != nil {
		t.Fatalf("writing stale lock: %v", err)
	}

	if lock.IsLocked() {
		t.Error("lock from a dead process should be stale")
	}
	if err := lock.Acquire("copy"); err != nil {
		t.Errorf("Acquire over stale lock failed: %v", err)
	}
	lock.Release()
}

func TestStaleLockFromOtherHostTimesOut(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock, _ := NewTargetLock(dir)
	lock.SetStaleTimeout(time.Minute)

	remote := &LockInfo{
		PID:       1234,
		Hostname:  "some-other-host",
		StartTime: time.Now().Add(-2 * time.Minute),
		Operation: "copy",
	}
	if err := lock.writeLockInfo(remote); err != nil {
		t.Fatalf("writing remote lock: %v", err)
	}

	if lock.IsLocked() {
		t.Error("expired cross-host lock should be stale")
	}

	// A fresh cross-host lock is respected
	remote.StartTime = time.Now()
	lock.writeLockInfo(remote)
	if !lock.IsLocked() {
		t.Error("fresh cross-host lock should be held")
	}
}

func TestForceRelease(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock, _ := NewTargetLock(dir)
	if err := lock.Acquire("copy"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := lock.ForceRelease(); err != nil {
		t.Fatalf("ForceRelease failed: %v", err)
	}
	if lock.IsLocked() {
		t.Error("lock should not be held after force release")
	}
}

func TestReleaseWithoutAcquire(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	lock, _ := NewTargetLock(dir)
	if err := lock.Release(); err != nil {
		t.Errorf("Release without Acquire should be a no-op, got %v", err)
	}
}
