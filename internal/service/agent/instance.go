package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-ps"
)

// ErrAnotherInstance is returned when another eve-alert process is already running.
var ErrAnotherInstance = errors.New("another eve-alert instance is running")

// processLister returns the running processes; replaced in tests.
type processLister func() ([]ps.Process, error)

// findOtherInstance returns the PID of another process with the same executable name, or 0.
func findOtherInstance(list processLister, executable string, self int) (int, error) {
	processList, err := list()
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}

	for _, process := range processList {
		if process.Pid() == self {
			continue
		}

		if !sameExecutable(process.Executable(), executable) {
			continue
		}

		return process.Pid(), nil
	}

	return 0, nil
}

// ensureSingleInstance fails when another process runs the current executable.
func ensureSingleInstance(list processLister) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	pid, err := findOtherInstance(list, filepath.Base(executable), os.Getpid())
	if err != nil {
		return err
	}

	if pid != 0 {
		return fmt.Errorf("%w: pid %d", ErrAnotherInstance, pid)
	}

	return nil
}

// sameExecutable compares names the way the OS reports them; Linux truncates to 15 bytes.
func sameExecutable(reported, executable string) bool {
	const linuxCommLimit = 15

	if strings.EqualFold(reported, executable) {
		return true
	}

	return len(reported) == linuxCommLimit && strings.HasPrefix(executable, reported)
}
