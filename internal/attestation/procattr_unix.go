//go:build unix

package attestation

import (
	"os/exec"
	"syscall"
)

// killProcessGroupOnCancel starts the backend in its own process group and
// kills the whole group on cancellation, so helpers it spawned die with it.
func killProcessGroupOnCancel(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
