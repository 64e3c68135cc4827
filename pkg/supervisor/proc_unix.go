//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group so a terminal Ctrl-C
// reaches only the supervisor, which then stops children in order.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
