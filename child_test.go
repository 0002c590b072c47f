package looper

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpawnReturnsLiveChildWithStdio(t *testing.T) {
	cmd := exec.Command("cat")
	child, err := Spawn(cmd)
	require.NoError(t, err)
	defer func() { _ = child.Kill() }()

	require.Equal(t, cmd.Process.Pid, child.Pid())
	require.NotNil(t, StdinPipe(child))
	require.NotNil(t, child.Stdout())
	require.NotNil(t, child.Stderr())
}

func TestCloseStdinTransitionsChildType(t *testing.T) {
	cmd := exec.Command("cat")
	child, err := Spawn(cmd)
	require.NoError(t, err)
	defer func() { _ = child.Kill() }()

	closed, err := CloseStdin(child)
	require.NoError(t, err)
	require.Equal(t, child.Pid(), closed.Pid())
	require.Equal(t, child.Stdout(), closed.Stdout())
}

func TestChildIDMatchesOSProcess(t *testing.T) {
	cmd := exec.Command("true")
	child, err := Spawn(cmd)
	require.NoError(t, err)
	defer func() { _ = child.Kill() }()

	require.Equal(t, cmd.Process.Pid, child.ID())
}
