package identity_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetcron/fleetcron/internal/domain"
	"github.com/fleetcron/fleetcron/internal/identity"
)

func TestLoadOrCreateMachineID_StableAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	first, err := identity.LoadOrCreateMachineID(dir)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if first == "" {
		t.Fatal("expected a non-empty machine id")
	}

	second, err := identity.LoadOrCreateMachineID(dir)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if second != first {
		t.Fatalf("machine id changed between starts: %q vs %q", first, second)
	}
}

func TestLoadOrCreateMachineID_RecoversFromCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "machine.json"), []byte("not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	id, err := identity.LoadOrCreateMachineID(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if id == "" {
		t.Fatal("expected a fresh machine id")
	}
}

func TestAcquireLock_SecondHolderRejected(t *testing.T) {
	dir := t.TempDir()

	lock, err := identity.AcquireLock(dir)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := identity.AcquireLock(dir); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	relock, err := identity.AcquireLock(dir)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	_ = relock.Release()
}
