package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// resolveWeft finds the weft binary: PATH first, then next to this shim so a
// tarball install works before the bin dir is on PATH.
func resolveWeft() (string, error) {
	if bin, err := exec.LookPath("weft"); err == nil {
		return bin, nil
	}
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), "weft")
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	return "", fmt.Errorf("weft not found on PATH or next to wf")
}

func main() {
	bin, err := resolveWeft()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wf: %v\n", err)
		os.Exit(1)
	}
	if err := syscall.Exec(bin, append([]string{"weft"}, os.Args[1:]...), os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "wf: %v\n", err)
		os.Exit(1)
	}
}
