// Package state persists the agent's BUSY/IDLE status and the STOP flag
// as files, so other local tooling (and the operator) can inspect the
// agent without talking to it.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	stateFileName = "state.json"
	lockFileName  = "BUSY.lock"
	stopFlagName  = "STOP"
)

// Snapshot is the persisted agent state.
type Snapshot struct {
	Status string `json:"status"`
	Step   string `json:"step"`
	Detail string `json:"detail"`
	TS     string `json:"ts"`
	PID    int    `json:"pid"`
}

// Store writes and reads state files under a logs directory and the STOP
// flag under a control directory.
type Store struct {
	logsDir    string
	controlDir string
}

// NewStore creates a state store. Directories are created lazily on write.
func NewStore(logsDir, controlDir string) *Store {
	return &Store{logsDir: logsDir, controlDir: controlDir}
}

// SetBusy marks the agent busy with the given step and detail.
func (s *Store) SetBusy(step, detail string) error {
	if err := os.MkdirAll(s.logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	lock := fmt.Sprintf("%d\n%s\n%s\n%s\n", os.Getpid(), time.Now().Format(time.RFC3339), step, detail)
	if err := os.WriteFile(filepath.Join(s.logsDir, lockFileName), []byte(lock), 0644); err != nil {
		return fmt.Errorf("failed to write busy lock: %w", err)
	}
	return s.writeState("BUSY", step, detail)
}

// SetIdle clears the busy lock and marks the agent idle.
func (s *Store) SetIdle() error {
	lock := filepath.Join(s.logsDir, lockFileName)
	if err := os.Remove(lock); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove busy lock: %w", err)
	}
	return s.writeState("IDLE", "", "")
}

// Busy reports whether a busy lock exists.
func (s *Store) Busy() bool {
	_, err := os.Stat(filepath.Join(s.logsDir, lockFileName))
	return err == nil
}

// Read returns the last written snapshot, or an idle snapshot when none
// exists yet.
func (s *Store) Read() (Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.logsDir, stateFileName))
	if os.IsNotExist(err) {
		return Snapshot{Status: "IDLE", TS: time.Now().Format(time.RFC3339)}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read state file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse state file: %w", err)
	}
	return snap, nil
}

// RequestStop creates the STOP flag. The agent honors it at the next safe
// checkpoint.
func (s *Store) RequestStop(reason string) error {
	if err := os.MkdirAll(s.controlDir, 0755); err != nil {
		return fmt.Errorf("failed to create control directory: %w", err)
	}
	content := fmt.Sprintf("%s at %s\n", reason, time.Now().Format(time.RFC3339))
	if err := os.WriteFile(s.stopFlagPath(), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write stop flag: %w", err)
	}
	return nil
}

// StopRequested reports whether the STOP flag exists.
func (s *Store) StopRequested() bool {
	_, err := os.Stat(s.stopFlagPath())
	return err == nil
}

// ClearStop removes the STOP flag. Idempotent.
func (s *Store) ClearStop() error {
	if err := os.Remove(s.stopFlagPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stop flag: %w", err)
	}
	return nil
}

func (s *Store) stopFlagPath() string {
	return filepath.Join(s.controlDir, stopFlagName)
}

func (s *Store) writeState(status, step, detail string) error {
	if err := os.MkdirAll(s.logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	snap := Snapshot{
		Status: status,
		Step:   step,
		Detail: detail,
		TS:     time.Now().Format(time.RFC3339),
		PID:    os.Getpid(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.logsDir, stateFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}
