//go:build windows

package background

import (
	"os/exec"
	"syscall"
)

// detach creates the child in a new process group, detached from the console.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | 0x00000008, // DETACHED_PROCESS
	}
}
