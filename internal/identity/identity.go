// Package identity manages the stable per-machine UUID and the
// single-instance lock, both under ~/.fleetcron/.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/fleetcron/fleetcron/internal/domain"
	"github.com/google/uuid"
)

const (
	machineFile = "machine.json"
	lockFile    = "agent.lock"
)

type machineDoc struct {
	MachineID string `json:"machine_id"`
}

// LoadOrCreateMachineID reads the persisted machine UUID from dir, minting
// and persisting a new one on first start.
func LoadOrCreateMachineID(dir string) (string, error) {
	path := filepath.Join(dir, machineFile)

	if raw, err := os.ReadFile(path); err == nil {
		var doc machineDoc
		if err := json.Unmarshal(raw, &doc); err == nil && doc.MachineID != "" {
			return doc.MachineID, nil
		}
	}

	id := uuid.NewString()
	raw, err := json.Marshal(machineDoc{MachineID: id})
	if err != nil {
		return "", fmt.Errorf("encode machine id: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("persist machine id: %w", err)
	}
	return id, nil
}

// Lock is the held single-instance file lock.
type Lock struct {
	f *os.File
}

// AcquireLock takes a non-blocking exclusive flock on dir/agent.lock.
// Returns domain.ErrLockHeld when another agent process owns it.
func AcquireLock(dir string) (*Lock, error) {
	path := filepath.Join(dir, lockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, domain.ErrLockHeld
	}
	return &Lock{f: f}, nil
}

// Release drops the lock. Safe to call once on shutdown.
func (l *Lock) Release() error {
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.f.Close()
		return fmt.Errorf("unlock: %w", err)
	}
	return l.f.Close()
}
