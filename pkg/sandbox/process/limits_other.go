//go:build !linux

package process

import (
	"os/exec"
	"time"
)

func isolate(cmd *exec.Cmd) {
	cmd.WaitDelay = 2 * time.Second
}
