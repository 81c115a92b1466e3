//go:build !windows

package backendprocess

import "os/exec"

func configureSysProcAttr(cmd *exec.Cmd) {}
