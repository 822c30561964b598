//go:build !windows

package background

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own session so it survives the launching
// process exiting.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
