package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/eve-alert/internal/config"
	"github.com/oshokin/eve-alert/internal/status"
)

// fakeProcess implements ps.Process.
type fakeProcess struct {
	pid        int
	executable string
}

func (p fakeProcess) Pid() int           { return p.pid }
func (p fakeProcess) PPid() int          { return 1 }
func (p fakeProcess) Executable() string { return p.executable }

func listOf(processes ...ps.Process) processLister {
	return func() ([]ps.Process, error) {
		return processes, nil
	}
}

func TestFindOtherInstance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		processes []ps.Process
		want      int
	}{
		{
			name:      "only self",
			processes: []ps.Process{fakeProcess{pid: 10, executable: "eve-alert"}},
			want:      0,
		},
		{
			name: "other instance",
			processes: []ps.Process{
				fakeProcess{pid: 10, executable: "eve-alert"},
				fakeProcess{pid: 42, executable: "eve-alert"},
			},
			want: 42,
		},
		{
			name:      "unrelated process",
			processes: []ps.Process{fakeProcess{pid: 42, executable: "bash"}},
			want:      0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pid, err := findOtherInstance(listOf(tt.processes...), "eve-alert", 10)
			require.NoError(t, err)
			require.Equal(t, tt.want, pid)
		})
	}
}

func TestFindOtherInstanceListError(t *testing.T) {
	t.Parallel()

	errList := errors.New("no procfs")

	_, err := findOtherInstance(func() ([]ps.Process, error) { return nil, errList }, "eve-alert", 1)
	require.ErrorIs(t, err, errList)
}

func TestSameExecutable(t *testing.T) {
	t.Parallel()

	require.True(t, sameExecutable("eve-alert", "eve-alert"))
	require.True(t, sameExecutable("EVE-ALERT.EXE", "eve-alert.exe"))
	require.True(t, sameExecutable("eve-alert-linux", "eve-alert-linux-amd64"))
	require.False(t, sameExecutable("eve", "eve-alert"))
}

func TestEnsureSingleInstance(t *testing.T) {
	t.Parallel()

	executable, err := os.Executable()
	require.NoError(t, err)

	other := fakeProcess{pid: os.Getpid() + 1, executable: filepath.Base(executable)}

	require.ErrorIs(t, ensureSingleInstance(listOf(other)), ErrAnotherInstance)
	require.NoError(t, ensureSingleInstance(listOf()))
}

func TestPickAddress(t *testing.T) {
	t.Parallel()

	require.Equal(t, "127.0.0.1:8790", pickAddress("", "127.0.0.1:8790"))
	require.Equal(t, ":9000", pickAddress(":9000", "127.0.0.1:8790"))
	require.Empty(t, pickAddress("-", "127.0.0.1:8790"))
	require.Empty(t, pickAddress("", ""))
}

func TestLoadAmbientSettingsFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	cfg := loadAmbientSettings(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Equal(t, config.Default(), cfg)
}

func TestWarnAboutSounds(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Enemy.Sound = filepath.Join(t.TempDir(), "missing.wav")
	cfg.Faction.Sound = filepath.Join(t.TempDir(), "alarm.mp3")
	require.NoError(t, os.WriteFile(cfg.Faction.Sound, []byte("x"), 0o600))

	hub := status.NewHub(nil)
	warnAboutSounds(cfg, hub)

	lines := hub.Recent(0)
	require.Len(t, lines, 2)

	for _, line := range lines {
		require.Equal(t, status.Warning, line.Severity)
	}
}
