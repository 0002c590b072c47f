//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package looper

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// echoState is the object bound to a spawned `cat`'s stdout reader:
// it records whatever comes back and tells the Core to exit once it
// has seen the expected reply, exercising the same echo-chain shape
// as the original's examples/echo.rs.
type echoState struct {
	core     *Core
	received []byte
	want     string
	done     chan struct{}
}

func TestCoreEchoesThroughSpawnedChild(t *testing.T) {
	core, err := NewCore()
	require.NoError(t, err)
	defer func() { _ = core.Close() }()

	child, err := Spawn(exec.Command("cat"))
	require.NoError(t, err)
	defer func() { _ = child.Kill() }()

	state := &echoState{core: core, want: "ping\n", done: make(chan struct{})}
	id := Add(core, state)

	src := NewFdSource(child.Stdout().Fd())
	RegisterReader[echoState](core, src, id, func(self *echoState, c *Core) {
		buf := make([]byte, 256)
		n, rerr := child.Stdout().Read(buf)
		if n > 0 {
			self.received = append(self.received, buf[:n]...)
		}
		if rerr == nil && string(self.received) == self.want {
			close(self.done)
			c.Exit()
		}
	})

	_, err = StdinPipe(child).Write([]byte("ping\n"))
	require.NoError(t, err)

	runDone := make(chan struct{})
	go func() {
		core.Run()
		close(runDone)
	}()

	select {
	case <-state.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for echo, got %q so far", state.received)
	}

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Exit")
	}

	require.Equal(t, "ping\n", string(state.received))
}
