// Package infra implements infrastructure concerns (processes, windows,
// settings, status, paths).
package infra

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// Name returns the executable name of a PID.
func (pm *ProcessManagerImpl) Name(pid int) (string, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	return p.Name()
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}

// Terminate asks the process to exit (SIGTERM / TerminateProcess).
func (pm *ProcessManagerImpl) Terminate(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Terminate()
}

// ProcessLauncherImpl implements domain.ProcessLauncher with os/exec.
type ProcessLauncherImpl struct{}

// NewProcessLauncher creates a new process launcher.
func NewProcessLauncher() domain.ProcessLauncher {
	return &ProcessLauncherImpl{}
}

// Start launches the executable in its own directory. The child is not tied
// to ctx: closing the agent must not kill the user's apps mid-session.
func (l *ProcessLauncherImpl) Start(ctx context.Context, executablePath string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cmd := exec.Command(executablePath)
	cmd.Dir = filepath.Dir(executablePath)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", executablePath, err)
	}

	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }() // reap

	return pid, nil
}

// Ensure implementations satisfy the domain ports.
var (
	_ domain.ProcessManager  = (*ProcessManagerImpl)(nil)
	_ domain.ProcessLauncher = (*ProcessLauncherImpl)(nil)
)
